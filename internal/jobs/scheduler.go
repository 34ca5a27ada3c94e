package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Checker-Finance/market-index/internal/methodology"
	"github.com/Checker-Finance/market-index/internal/metrics"
	"github.com/Checker-Finance/market-index/internal/orchestrator"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// Runner is the subset of the orchestrator the scheduler drives.
type Runner interface {
	RunDaily(ctx context.Context, def methodology.IndexDefinition, date time.Time, opts orchestrator.Options) (*orchestrator.DailyReport, error)
	Rebalance(ctx context.Context, def methodology.IndexDefinition, period model.Period, opts orchestrator.Options) (*orchestrator.RebalanceReport, error)
}

// Config controls when runs fire.
type Config struct {
	RunAt        time.Time     // daily trigger, HH:MM UTC
	ValueDateLag int           // value date = today - lag
	OffsetDays   int           // rebalance offset after period start
	Interval     time.Duration // tick interval
	RetryEvery   time.Duration // spacing between attempts after a failure
	RunTimeout   time.Duration // bound on one attempt; zero means none
}

// Scheduler computes each value date once per day after RunAt and rebalances on the
// reference date of every period. Progress is tracked per index: one index failing
// never holds back another, and a failed daily run never holds back a rebalance.
type Scheduler struct {
	logger *zap.Logger
	runner Runner
	defs   []methodology.IndexDefinition
	cfg    Config
	now    func() time.Time
	stopCh chan struct{}

	dailyDone   map[string]time.Time // index -> last value date computed
	rebalanced  map[string]time.Time // index -> start of the last period rebalanced
	lastAttempt time.Time
}

// NewScheduler constructs a background job that runs periodically.
func NewScheduler(logger *zap.Logger, runner Runner, defs []methodology.IndexDefinition, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RetryEvery <= 0 {
		cfg.RetryEvery = 15 * time.Minute
	}
	return &Scheduler{
		logger: logger,
		runner: runner,
		defs:   defs,
		cfg:    cfg,
		now:    time.Now,
		stopCh: make(chan struct{}),

		dailyDone:  make(map[string]time.Time),
		rebalanced: make(map[string]time.Time),
	}
}

// Start runs the schedule loop until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler.started",
		zap.String("run_at", s.cfg.RunAt.Format("15:04")),
		zap.Int("value_date_lag", s.cfg.ValueDateLag),
		zap.Duration("interval", s.cfg.Interval))

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.stopCh:
			s.logger.Info("scheduler.stopped (manual stop)")
			return
		case <-ctx.Done():
			s.logger.Info("scheduler.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// ValueDate is the date computed by a run triggered at now.
func (s *Scheduler) ValueDate(now time.Time) time.Time {
	return model.Day(now).AddDate(0, 0, -s.cfg.ValueDateLag)
}

// due reports whether now is past today's trigger time.
func (s *Scheduler) due(now time.Time) bool {
	now = now.UTC()
	trigger := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.RunAt.Hour(), s.cfg.RunAt.Minute(), 0, 0, time.UTC)
	return !now.Before(trigger)
}

// outcome is what one index completed during an attempt.
type outcome struct {
	daily      bool
	rebalanced bool
	failed     bool
}

// runOnce executes whatever is pending for the current value date.
func (s *Scheduler) runOnce(ctx context.Context) {
	now := s.now()
	if !s.due(now) {
		return
	}
	valueDate := s.ValueDate(now)
	period, rebalanceDue := orchestrator.RebalanceDue(valueDate, s.cfg.OffsetDays)

	var pending []methodology.IndexDefinition
	for _, def := range s.defs {
		if s.dailyPending(def.Code, valueDate) || (rebalanceDue && s.rebalancePending(def.Code, period)) {
			pending = append(pending, def)
		}
	}
	if len(pending) == 0 {
		return
	}
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.cfg.RetryEvery {
		return
	}
	s.lastAttempt = now

	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	results := make([]outcome, len(pending))
	var g errgroup.Group
	for i, def := range pending {
		i, def := i, def
		g.Go(func() error {
			results[i] = s.runIndex(ctx, def, valueDate, period, rebalanceDue)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, def := range pending {
		if results[i].daily {
			s.dailyDone[def.Code] = valueDate
		}
		if results[i].rebalanced {
			s.rebalanced[def.Code] = period.Start
		}
		if results[i].failed {
			failed++
		}
	}

	s.logger.Info("scheduler.attempt_completed",
		zap.String("date", valueDate.Format(model.DayLayout)),
		zap.Int("indexes", len(pending)),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)))
	if failed == 0 {
		s.lastAttempt = time.Time{}
		metrics.SetLastRun("scheduler", now)
	}
}

// runIndex runs the pending daily value and rebalance of one index. The rebalance runs
// even when the daily run failed: a fresh index has no constituents until its first rebalance.
func (s *Scheduler) runIndex(ctx context.Context, def methodology.IndexDefinition, valueDate time.Time, period model.Period, rebalanceDue bool) outcome {
	var out outcome
	log := s.logger.With(zap.String("index", def.Code))

	if s.dailyPending(def.Code, valueDate) {
		_, err := s.runner.RunDaily(ctx, def, valueDate, orchestrator.Options{})
		switch {
		case err == nil, errors.Is(err, model.ErrValueExists):
			out.daily = true
		case errors.Is(err, model.ErrNoConstituents):
			// nothing to compute before the first rebalance
			log.Info("scheduler.daily_no_constituents", zap.String("date", valueDate.Format(model.DayLayout)))
			out.daily = true
		default:
			log.Error("scheduler.daily_failed",
				zap.String("date", valueDate.Format(model.DayLayout)),
				zap.Error(err))
			out.failed = true
		}
	}

	if rebalanceDue && s.rebalancePending(def.Code, period) {
		_, err := s.runner.Rebalance(ctx, def, period, orchestrator.Options{})
		switch {
		case err == nil, errors.Is(err, model.ErrPeriodFrozen):
			out.rebalanced = true
			log.Info("scheduler.rebalance_completed", zap.String("period", period.String()))
		default:
			log.Error("scheduler.rebalance_failed",
				zap.String("period", period.String()),
				zap.Error(err))
			out.failed = true
		}
	}
	return out
}

func (s *Scheduler) dailyPending(indexCode string, valueDate time.Time) bool {
	return !s.dailyDone[indexCode].Equal(valueDate)
}

func (s *Scheduler) rebalancePending(indexCode string, period model.Period) bool {
	return !s.rebalanced[indexCode].Equal(period.Start)
}
