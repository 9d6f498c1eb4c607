package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/amoylab/riderwatch/internal/aggregation"
	"github.com/amoylab/riderwatch/internal/apiserver/database"
	"github.com/amoylab/riderwatch/internal/apiserver/handler"
	"github.com/amoylab/riderwatch/internal/apiserver/middleware"
	"github.com/amoylab/riderwatch/internal/auth/jwt"
	"github.com/amoylab/riderwatch/internal/block"
	"github.com/amoylab/riderwatch/internal/cache"
	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/amoylab/riderwatch/internal/common/errorx"
	"github.com/amoylab/riderwatch/internal/common/redisclient"
	"github.com/amoylab/riderwatch/internal/credential"
	"github.com/amoylab/riderwatch/internal/partner"
	"github.com/amoylab/riderwatch/internal/ratelimit"
	"github.com/amoylab/riderwatch/internal/rider"
	"github.com/amoylab/riderwatch/internal/scheduler"
	"github.com/amoylab/riderwatch/internal/telemetry"
	"github.com/amoylab/riderwatch/internal/tenant"
	"github.com/amoylab/riderwatch/internal/upstream"
	"github.com/amoylab/riderwatch/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds every wired component of the service
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	db        *gorm.DB
	redis     redis.UniversalClient
	events    telemetry.Store
	tenants   *tenant.Registry
	limiter   *ratelimit.Limiter
	engine    *aggregation.Engine
	blocker   *block.Engine
	scheduler *scheduler.Scheduler
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New(cfg.Metrics)}
	built := false
	defer func() {
		if !built {
			a.close(context.Background())
		}
	}()

	var err error
	a.tenants, err = tenant.NewRegistry(cfg.Tenants)
	if err != nil {
		return nil, err
	}

	a.redis, err = redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	a.events, err = telemetry.NewStore(logger, cfg.Telemetry, a.redis)
	if err != nil {
		return nil, err
	}

	limiterOpts := []ratelimit.Option{ratelimit.WithSink(a.events), ratelimit.WithMetrics(a.metrics)}
	for id, override := range a.tenants.BudgetOverrides() {
		limiterOpts = append(limiterOpts, ratelimit.WithTenantBudget(id, override))
	}
	a.limiter = ratelimit.New(logger, cfg.RateLimit, limiterOpts...)

	client := upstream.NewClient(logger, cfg.Upstream, a.metrics)
	tokenClient := &http.Client{Timeout: cfg.Upstream.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	exchanger := credential.NewAssertionExchanger(cfg.Credential, a.tenants, tokenClient)
	tokens := credential.NewCache(logger, exchanger, cfg.Credential.RefreshSkew,
		credential.WithLimiter(a.limiter), credential.WithMetrics(a.metrics))
	gateway := partner.NewGateway(logger, client, tokens, a.limiter, a.events)

	var rosterOpts []cache.Option
	if cfg.Cache.UseRedis && a.redis != nil {
		rosterOpts = append(rosterOpts, cache.WithRedis(a.redis, cfg.Redis.Prefix))
	}
	live := cache.New[[]rider.Record](logger, "live", cfg.Cache.LiveTTL, cache.WithMetrics(a.metrics))
	roster := cache.New[[]rider.Record](logger, "roster", cfg.Cache.RosterTTL,
		append(rosterOpts, cache.WithMetrics(a.metrics))...)
	a.engine = aggregation.New(logger, cfg.Aggregation, gateway, a.tenants, live, roster,
		aggregation.WithMetrics(a.metrics))

	if cfg.Block.Store == "db" {
		a.db, err = database.Open(&cfg.Database, block.Models()...)
		if err != nil {
			return nil, err
		}
	}
	store, err := block.NewStore(cfg.Block, a.db)
	if err != nil {
		return nil, err
	}
	a.blocker = block.NewEngine(logger, store, gateway, a.engine, block.WithMetrics(a.metrics))
	if err := a.blocker.Seed(ctx, cfg.Block.Cities); err != nil {
		return nil, err
	}

	a.scheduler = scheduler.New(scheduler.Config{
		Logger:      logger,
		Riders:      a.engine,
		Evaluator:   a.blocker,
		Tenants:     a.tenants,
		Caches:      a.engine,
		Interval:    cfg.Scheduler.Interval,
		Concurrency: cfg.Scheduler.Concurrency,
	})
	built = true
	return a, nil
}

// start launches the background workers
func (a *app) start() error {
	a.engine.Start()
	if a.cfg.Scheduler.Enabled {
		return a.scheduler.Start()
	}
	return nil
}

// router builds the HTTP surface
func (a *app) router() (*gin.Engine, error) {
	jwtService, err := jwt.NewService(jwt.Config{SecretKey: a.cfg.JWT.SecretKey, Duration: a.cfg.JWT.Duration})
	if err != nil {
		return nil, errorx.New(errorx.KindConfiguration, "jwt", "", err)
	}

	r := gin.New()
	r.Use(errorx.NewErrorHandler(a.logger).RecoveryMiddleware())
	r.Use(otelgin.Middleware("riderwatch"))
	r.Use(a.metrics.Middleware())
	r.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	handler.NewHandler(a.logger, a.engine, a.blocker, a.events, a.limiter).
		Register(r, middleware.JWTAuthMiddleware(jwtService))
	return r, nil
}

// close stops workers and releases connections. Safe on a partly built app.
func (a *app) close(ctx context.Context) {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.engine != nil {
		if err := a.engine.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn("aggregation engine shutdown", zap.Error(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}

// serve runs the HTTP server until ctx is done
func (a *app) serve(ctx context.Context) error {
	r, err := a.router()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting http server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.logger.Info("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}
