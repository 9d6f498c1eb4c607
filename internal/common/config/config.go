package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/amoylab/riderwatch/pkg/helper"
	"github.com/amoylab/riderwatch/pkg/trace"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the root configuration of the riderwatch service
	Config struct {
		Server      ServerConfig      `yaml:"server"`
		Logger      LoggerConfig      `yaml:"logger"`
		Metrics     MetricsConfig     `yaml:"metrics"`
		Tracing     trace.Config      `yaml:"tracing"`
		Database    DatabaseConfig    `yaml:"database"`
		Redis       RedisConfig       `yaml:"redis"`
		Upstream    UpstreamConfig    `yaml:"upstream"`
		Credential  CredentialConfig  `yaml:"credential"`
		RateLimit   RateLimitConfig   `yaml:"rate_limit"`
		Aggregation AggregationConfig `yaml:"aggregation"`
		Cache       CacheConfig       `yaml:"cache"`
		Telemetry   TelemetryConfig   `yaml:"telemetry"`
		Block       BlockConfig       `yaml:"block"`
		Scheduler   SchedulerConfig   `yaml:"scheduler"`
		JWT         JWTConfig         `yaml:"jwt"`
		Tenants     []TenantConfig    `yaml:"tenants"`
	}

	// ServerConfig represents the HTTP server configuration
	ServerConfig struct {
		Port            int           `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, e.g., "UTC", default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps, default is "2006-01-02 15:04:05"
	}

	// MetricsConfig represents the prometheus metrics configuration
	MetricsConfig struct {
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}

	// DatabaseConfig represents the block status database
	DatabaseConfig struct {
		Type     string `yaml:"type"`     // mysql, postgres, sqlite
		Host     string `yaml:"host"`     // localhost
		Port     int    `yaml:"port"`     // 3306 (for mysql), 5432 (for postgres)
		User     string `yaml:"user"`     // root (for mysql), postgres (for postgres)
		Password string `yaml:"password"` // password
		DBName   string `yaml:"dbname"`   // database name, file path for sqlite
		SSLMode  string `yaml:"sslmode"`  // disable (for postgres)
	}

	// RedisConfig is shared by the result cache and the telemetry stream.
	// An empty Addr disables every redis-backed component.
	RedisConfig struct {
		ClusterType string `yaml:"cluster_type"` // single, sentinel, cluster
		Addr        string `yaml:"addr"`         // multiple addresses separated by ";" or ","
		MasterName  string `yaml:"master_name"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		DB          int    `yaml:"db"`
		Prefix      string `yaml:"prefix"`
	}

	// UpstreamConfig represents the partner API client configuration
	UpstreamConfig struct {
		BaseURL             string        `yaml:"base_url"`
		Timeout             time.Duration `yaml:"timeout"`
		MaxRetries          int           `yaml:"max_retries"`      // transient (5xx / network) retries only
		RetryBaseDelay      time.Duration `yaml:"retry_base_delay"` // first transient retry delay
		RetryMaxDelay       time.Duration `yaml:"retry_max_delay"`
		MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	}

	// CredentialConfig represents the token endpoint configuration
	CredentialConfig struct {
		TokenURL        string        `yaml:"token_url"`
		Audience        string        `yaml:"audience"`
		Scopes          []string      `yaml:"scopes"`
		AssertionTTL    time.Duration `yaml:"assertion_ttl"`     // lifetime of the signed assertion
		RefreshSkew     time.Duration `yaml:"refresh_skew"`      // refresh when now >= expiresAt - skew
		DefaultTokenTTL time.Duration `yaml:"default_token_ttl"` // used when the endpoint omits expires_in
	}

	// RateLimitConfig represents the per-tenant rate budget
	RateLimitConfig struct {
		Capacity     int           `yaml:"capacity"`      // global bucket capacity per refill period
		High         int           `yaml:"high"`          // HIGH priority sub-bucket capacity
		Medium       int           `yaml:"medium"`        // MEDIUM priority sub-bucket capacity
		Low          int           `yaml:"low"`           // LOW priority sub-bucket capacity
		RefillPeriod time.Duration `yaml:"refill_period"` // defaults to one minute
		MaxAttempts  int           `yaml:"max_attempts"`
		BaseBackoff  time.Duration `yaml:"base_backoff"` // backoff = base * 2^attempt
	}

	// AggregationConfig represents the search fan-out configuration
	AggregationConfig struct {
		LiveTimeout           time.Duration `yaml:"live_timeout"`
		RosterTimeout         time.Duration `yaml:"roster_timeout"`
		MaxConcurrentCalls    int64         `yaml:"max_concurrent_calls"` // upstream connection semaphore
		Workers               int           `yaml:"workers"`
		QueueSize             int           `yaml:"queue_size"`
		QueueWarnThreshold    int           `yaml:"queue_warn_threshold"`
		FilterWorkers         int           `yaml:"filter_workers"`
		SafeRequestsPerSecond float64       `yaml:"safe_requests_per_second"`
		LivePageSize          int           `yaml:"live_page_size"`
		MaxPages              int           `yaml:"max_pages"`
		DefaultPageSize       int           `yaml:"default_page_size"`
		MaxPageSize           int           `yaml:"max_page_size"`
		FullSortThreshold     int           `yaml:"full_sort_threshold"`
		LookAheadPages        int           `yaml:"look_ahead_pages"`
	}

	// CacheConfig represents the result cache configuration
	CacheConfig struct {
		LiveTTL   time.Duration `yaml:"live_ttl"`
		RosterTTL time.Duration `yaml:"roster_ttl"`
		UseRedis  bool          `yaml:"use_redis"` // mirror roster snapshots into redis
	}

	// TelemetryConfig represents the rate-limit telemetry sink
	TelemetryConfig struct {
		Type     string `yaml:"type"`     // memory or redis
		Stream   string `yaml:"stream"`   // redis stream name
		MaxLen   int64  `yaml:"max_len"`  // approximate redis stream length
		Capacity int    `yaml:"capacity"` // memory ring capacity
	}

	// BlockConfig represents the block decision engine configuration
	BlockConfig struct {
		Store  string            `yaml:"store"` // db or memory
		Cities []CityBlockConfig `yaml:"cities"`
	}

	// CityBlockConfig seeds a city cash limit at startup when none is stored yet
	CityBlockConfig struct {
		Tenant    string `yaml:"tenant"`
		CityID    int64  `yaml:"city_id"`
		Enabled   bool   `yaml:"enabled"`
		CashLimit string `yaml:"cash_limit"` // decimal string, e.g. "150.00"
	}

	// SchedulerConfig represents the balance sweep scheduler
	SchedulerConfig struct {
		Enabled     bool          `yaml:"enabled"`
		Interval    time.Duration `yaml:"interval"`
		Concurrency int           `yaml:"concurrency"` // cities evaluated in parallel per sweep
	}

	// JWTConfig represents the caller token configuration
	JWTConfig struct {
		SecretKey string        `yaml:"secret_key"`
		Duration  time.Duration `yaml:"duration"`
	}

	// TenantConfig represents one tenant sharing the process
	TenantConfig struct {
		ID             string           `yaml:"id"`
		ClientID       string           `yaml:"client_id"`
		KeyID          string           `yaml:"key_id"`
		PrivateKey     string           `yaml:"private_key"`      // PEM, usually ${ENV} resolved
		PrivateKeyFile string           `yaml:"private_key_file"` // used when PrivateKey is empty
		Cities         []int64          `yaml:"cities"`
		RateLimit      *RateLimitConfig `yaml:"rate_limit,omitempty"` // overrides the global budget
	}
)

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*Config, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	cfg, err := Parse(data)
	return cfg, cfgPath, err
}

// Parse decodes raw YAML, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	data = resolveEnv(data)
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}

// Validate rejects configurations that can never work
func (c *Config) Validate() error {
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		if t.ID == "" {
			return fmt.Errorf("tenant id cannot be empty")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate tenant id: %s", t.ID)
		}
		seen[t.ID] = true
		if t.RateLimit != nil {
			if err := t.RateLimit.Validate(); err != nil {
				return fmt.Errorf("tenant %s: %w", t.ID, err)
			}
		}
	}
	switch c.Block.Store {
	case "db", "memory":
	default:
		return fmt.Errorf("unsupported block store: %s", c.Block.Store)
	}
	for _, bc := range c.Block.Cities {
		if !seen[bc.Tenant] {
			return fmt.Errorf("block city %d: unknown tenant %q", bc.CityID, bc.Tenant)
		}
		limit, err := decimal.NewFromString(bc.CashLimit)
		if err != nil {
			return fmt.Errorf("block city %d: invalid cash limit %q: %w", bc.CityID, bc.CashLimit, err)
		}
		if !limit.IsPositive() {
			return fmt.Errorf("block city %d: cash limit must be positive", bc.CityID)
		}
	}
	return nil
}

// Validate checks that the priority sub-buckets fit in the global bucket
func (r *RateLimitConfig) Validate() error {
	if r.Capacity <= 0 {
		return fmt.Errorf("rate limit capacity must be positive")
	}
	if r.High < 0 || r.Medium < 0 || r.Low < 0 {
		return fmt.Errorf("rate limit priority capacities cannot be negative")
	}
	if sum := r.High + r.Medium + r.Low; sum > r.Capacity {
		return fmt.Errorf("rate limit priority capacities (%d) exceed global capacity (%d)", sum, r.Capacity)
	}
	return nil
}
