package config

import "time"

// SetDefaults fills every zero value with the production default
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5235
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "riderwatch"
	}
	if len(c.Metrics.Buckets) == 0 {
		c.Metrics.Buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
		c.Database.DBName = "./data/riderwatch.db"
	}
	if c.Redis.ClusterType == "" {
		c.Redis.ClusterType = "single"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "riderwatch"
	}

	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 15 * time.Second
	}
	if c.Upstream.MaxRetries == 0 {
		c.Upstream.MaxRetries = 2
	}
	if c.Upstream.RetryBaseDelay == 0 {
		c.Upstream.RetryBaseDelay = 250 * time.Millisecond
	}
	if c.Upstream.RetryMaxDelay == 0 {
		c.Upstream.RetryMaxDelay = 2 * time.Second
	}
	if c.Upstream.MaxIdleConnsPerHost == 0 {
		c.Upstream.MaxIdleConnsPerHost = 32
	}

	if c.Credential.AssertionTTL == 0 {
		c.Credential.AssertionTTL = 5 * time.Minute
	}
	if c.Credential.RefreshSkew == 0 {
		c.Credential.RefreshSkew = 60 * time.Second
	}
	if c.Credential.DefaultTokenTTL == 0 {
		c.Credential.DefaultTokenTTL = time.Hour
	}

	c.RateLimit.setDefaults()
	for i := range c.Tenants {
		if c.Tenants[i].RateLimit != nil {
			c.Tenants[i].RateLimit.inherit(c.RateLimit)
		}
	}

	a := &c.Aggregation
	if a.LiveTimeout == 0 {
		a.LiveTimeout = 8 * time.Second
	}
	if a.RosterTimeout == 0 {
		a.RosterTimeout = 12 * time.Second
	}
	if a.MaxConcurrentCalls == 0 {
		a.MaxConcurrentCalls = 20
	}
	if a.Workers == 0 {
		a.Workers = 16
	}
	if a.QueueSize == 0 {
		a.QueueSize = 256
	}
	if a.QueueWarnThreshold == 0 {
		a.QueueWarnThreshold = a.QueueSize * 3 / 4
	}
	if a.FilterWorkers == 0 {
		a.FilterWorkers = 4
	}
	if a.SafeRequestsPerSecond == 0 {
		a.SafeRequestsPerSecond = 4
	}
	if a.LivePageSize == 0 {
		a.LivePageSize = 100
	}
	if a.MaxPages == 0 {
		a.MaxPages = 50
	}
	if a.DefaultPageSize == 0 {
		a.DefaultPageSize = 20
	}
	if a.MaxPageSize == 0 {
		a.MaxPageSize = 200
	}
	if a.FullSortThreshold == 0 {
		a.FullSortThreshold = 1000
	}
	if a.LookAheadPages == 0 {
		a.LookAheadPages = 2
	}

	if c.Cache.LiveTTL == 0 {
		c.Cache.LiveTTL = 30 * time.Second
	}
	if c.Cache.RosterTTL == 0 {
		c.Cache.RosterTTL = 30 * time.Minute
	}

	if c.Telemetry.Type == "" {
		c.Telemetry.Type = "memory"
	}
	if c.Telemetry.Stream == "" {
		c.Telemetry.Stream = "riderwatch:ratelimit:events"
	}
	if c.Telemetry.MaxLen == 0 {
		c.Telemetry.MaxLen = 10000
	}
	if c.Telemetry.Capacity == 0 {
		c.Telemetry.Capacity = 1000
	}

	if c.Block.Store == "" {
		c.Block.Store = "db"
	}
	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = time.Minute
	}
	if c.Scheduler.Concurrency == 0 {
		c.Scheduler.Concurrency = 4
	}
	if c.JWT.Duration == 0 {
		c.JWT.Duration = 24 * time.Hour
	}
}

func (r *RateLimitConfig) setDefaults() {
	if r.Capacity == 0 {
		r.Capacity = 60
	}
	if r.High == 0 && r.Medium == 0 && r.Low == 0 {
		r.High = r.Capacity / 2
		r.Medium = r.Capacity * 3 / 10
		r.Low = r.Capacity / 5
	}
	if r.RefillPeriod == 0 {
		r.RefillPeriod = time.Minute
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.BaseBackoff == 0 {
		r.BaseBackoff = 200 * time.Millisecond
	}
}

// inherit copies timing settings the tenant override left empty
func (r *RateLimitConfig) inherit(parent RateLimitConfig) {
	if r.Capacity == 0 {
		r.Capacity = parent.Capacity
	}
	if r.High == 0 && r.Medium == 0 && r.Low == 0 {
		r.High, r.Medium, r.Low = parent.High, parent.Medium, parent.Low
	}
	if r.RefillPeriod == 0 {
		r.RefillPeriod = parent.RefillPeriod
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = parent.MaxAttempts
	}
	if r.BaseBackoff == 0 {
		r.BaseBackoff = parent.BaseBackoff
	}
}
