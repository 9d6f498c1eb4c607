// Package scheduler periodically feeds rider balances from the merged live
// and roster views into the block decision engine.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amoylab/riderwatch/internal/block"
	"github.com/amoylab/riderwatch/internal/common/cnst"
	"github.com/amoylab/riderwatch/internal/rider"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Riders reads the live riders of one city and the tenant roster. Blocked
// riders leave the live feed, so the roster is what brings them back.
type Riders interface {
	CityRiders(ctx context.Context, tenant string, city int64) ([]rider.Record, error)
	Roster(ctx context.Context, tenant string) ([]rider.Record, error)
}

// Evaluator decides block actions from balance observations
type Evaluator interface {
	EnabledCities(ctx context.Context, tenant string) ([]int64, error)
	Evaluate(ctx context.Context, tenant string, obs block.Observation) (block.Outcome, error)
}

// Tenants lists the tenants to sweep
type Tenants interface {
	IDs() []string
}

// CacheSweeper drops expired cache entries
type CacheSweeper interface {
	SweepCaches() int
}

// ErrSweepInProgress is returned when a sweep is requested while one runs
var ErrSweepInProgress = fmt.Errorf("balance sweep already in progress")

// SweepResult summarizes one sweep
type SweepResult struct {
	ID        string         `json:"id"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime"`
	Duration  time.Duration  `json:"duration"`
	Cities    int            `json:"cities"`
	Riders    int            `json:"riders"`
	Actions   map[string]int `json:"actions"`
	Errors    int            `json:"errors"`
	Evicted   int            `json:"evicted"`
}

// Status is the scheduler state
type Status struct {
	Running    bool         `json:"running"`
	Sweeping   bool         `json:"sweeping"`
	LastResult *SweepResult `json:"lastResult,omitempty"`
}

// Config holds the scheduler collaborators and settings
type Config struct {
	Logger      *zap.Logger
	Riders      Riders
	Evaluator   Evaluator
	Tenants     Tenants
	Caches      CacheSweeper
	Interval    time.Duration
	Concurrency int
}

// Scheduler runs balance sweeps on a fixed interval
type Scheduler struct {
	logger      *zap.Logger
	riders      Riders
	evaluator   Evaluator
	tenants     Tenants
	caches      CacheSweeper
	interval    time.Duration
	concurrency int

	runningMutex sync.Mutex
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}

	sweeping atomic.Bool
	last     atomic.Pointer[SweepResult]
}

// New creates a scheduler
func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		logger:      cfg.Logger.Named(cnst.ComponentScheduler),
		riders:      cfg.Riders,
		evaluator:   cfg.Evaluator,
		tenants:     cfg.Tenants,
		caches:      cfg.Caches,
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
	}
}

// Start begins the sweep loop
func (s *Scheduler) Start() error {
	s.runningMutex.Lock()
	defer s.runningMutex.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.logger.Info("starting balance sweep scheduler", zap.Duration("interval", s.interval))

	go s.loop(ctx, s.done)
	return nil
}

// Stop cancels the loop and waits for the current sweep to finish
func (s *Scheduler) Stop() {
	s.runningMutex.Lock()
	if !s.running {
		s.runningMutex.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.done
	s.runningMutex.Unlock()

	<-done
	s.logger.Info("balance sweep scheduler stopped")
}

// Status reports whether the loop runs and the last sweep result
func (s *Scheduler) Status() Status {
	s.runningMutex.Lock()
	running := s.running
	s.runningMutex.Unlock()
	return Status{Running: running, Sweeping: s.sweeping.Load(), LastResult: s.last.Load()}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Warn("balance sweep skipped", zap.Error(err))
			}
		}
	}
}

// cityJob is one tenant city to sweep
type cityJob struct {
	tenant string
	city   int64
	roster []rider.Record
}

// Sweep evaluates every rider with a known balance in every block-enabled
// city. Overlapping sweeps are rejected with ErrSweepInProgress.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepResult, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer s.sweeping.Store(false)

	res := &SweepResult{ID: uuid.New().String(), StartTime: time.Now(), Actions: make(map[string]int)}
	logger := s.logger.With(zap.String("sweep_id", res.ID))

	if s.caches != nil {
		res.Evicted = s.caches.SweepCaches()
	}

	var jobs []cityJob
	for _, tenant := range s.tenants.IDs() {
		cities, err := s.evaluator.EnabledCities(ctx, tenant)
		if err != nil {
			logger.Error("failed to list block-enabled cities", zap.String("tenant", tenant), zap.Error(err))
			res.Errors++
			continue
		}
		if len(cities) == 0 {
			continue
		}
		roster, err := s.riders.Roster(ctx, tenant)
		if err != nil {
			logger.Warn("failed to read roster, sweeping live riders only", zap.String("tenant", tenant), zap.Error(err))
			res.Errors++
		}
		for _, city := range cities {
			jobs = append(jobs, cityJob{tenant: tenant, city: city, roster: roster})
		}
	}
	res.Cities = len(jobs)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			riders, actions, errs := s.sweepCity(gctx, logger, job)
			mu.Lock()
			defer mu.Unlock()
			res.Riders += riders
			res.Errors += errs
			for a, n := range actions {
				res.Actions[a] += n
			}
			return nil
		})
	}
	_ = g.Wait()

	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)
	s.last.Store(res)

	logger.Info("balance sweep finished",
		zap.Int("cities", res.Cities),
		zap.Int("riders", res.Riders),
		zap.Int("errors", res.Errors),
		zap.Any("actions", res.Actions),
		zap.Duration("duration", res.Duration))
	return res, ctx.Err()
}

// sweepCity evaluates the riders of one city: the live feed merged over the
// roster riders of that city. A partial city read still evaluates what was
// read.
func (s *Scheduler) sweepCity(ctx context.Context, logger *zap.Logger, job cityJob) (int, map[string]int, int) {
	errs := 0
	live, err := s.riders.CityRiders(ctx, job.tenant, job.city)
	if err != nil {
		logger.Warn("failed to read city riders",
			zap.String("tenant", job.tenant), zap.Int64("city", job.city), zap.Int("partial", len(live)), zap.Error(err))
		errs++
	}
	var roster []rider.Record
	for _, r := range job.roster {
		if r.CityID != nil && *r.CityID == job.city {
			roster = append(roster, r)
		}
	}
	recs := rider.MergeAll(live, roster)

	actions := make(map[string]int)
	evaluated := 0
	for _, r := range recs {
		if r.Balance == nil || r.EmployeeID == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		city := job.city
		if r.CityID != nil {
			city = *r.CityID
		}
		out, err := s.evaluator.Evaluate(ctx, job.tenant, block.Observation{
			EmployeeID: r.EmployeeID,
			CityID:     city,
			Balance:    *r.Balance,
		})
		evaluated++
		if err != nil {
			logger.Warn("failed to evaluate rider balance",
				zap.String("tenant", job.tenant), zap.String("employee_id", r.EmployeeID), zap.Error(err))
			errs++
			continue
		}
		if out.Action != block.ActionNone {
			actions[out.Action.String()]++
		}
	}
	return evaluated, actions, errs
}
