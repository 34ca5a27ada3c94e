// Package orchestrator drives the monthly rebalance and the daily chain-linked
// computation of every configured index, and owns the publish boundary: nothing is
// written to the series until a run has computed completely.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Checker-Finance/market-index/internal/chain"
	"github.com/Checker-Finance/market-index/internal/eligibility"
	"github.com/Checker-Finance/market-index/internal/liquidity"
	"github.com/Checker-Finance/market-index/internal/methodology"
	"github.com/Checker-Finance/market-index/internal/metrics"
	"github.com/Checker-Finance/market-index/internal/pricing"
	"github.com/Checker-Finance/market-index/internal/ranking"
	"github.com/Checker-Finance/market-index/pkg/eventbus"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// ErrRunInProgress is returned when a run is requested for an index that is already running.
var ErrRunInProgress = errors.New("run already in progress for index")

// ObservationSource is the read side of the observation store.
type ObservationSource interface {
	GetUniverse(ctx context.Context, asOf time.Time) ([]model.Item, error)
	GetObservations(ctx context.Context, itemIDs []string, from, to time.Time) (map[string][]model.DailyObservation, error)
	GetFXRates(ctx context.Context, from, to time.Time) ([]model.FXRate, error)
}

// IndexSink receives published output. Both publish calls are all-or-nothing.
type IndexSink interface {
	PublishConstituents(ctx context.Context, set model.ConstituentSet) error
	AppendIndexValue(ctx context.Context, value model.IndexValue) error
	RecordSkip(ctx context.Context, skip model.Skip) error
}

// SeriesReader reads already-published state.
type SeriesReader interface {
	LatestValue(ctx context.Context, indexCode string) (*model.IndexValue, error)
	ValueOnOrBefore(ctx context.Context, indexCode string, date time.Time) (*model.IndexValue, error)
	ActiveConstituents(ctx context.Context, indexCode string, date time.Time) (*model.ConstituentSet, error)
}

// RunLogger persists the audit row of each run.
type RunLogger interface {
	StartRun(ctx context.Context, run *model.RunLog) error
	FinishRun(ctx context.Context, run *model.RunLog) error
}

// Store is everything the orchestrator needs from persistence.
type Store interface {
	ObservationSource
	IndexSink
	SeriesReader
	RunLogger
}

// EventPublisher announces published output to downstream consumers.
type EventPublisher interface {
	PublishIndexValue(ctx context.Context, evt model.IndexValuePublished) error
	PublishConstituents(ctx context.Context, evt model.ConstituentsPublished) error
	PublishRunCompleted(ctx context.Context, evt model.RunCompleted) error
}

// Options modify a single run.
type Options struct {
	DryRun bool      // compute and report without calling the publish interfaces
	AsOf   time.Time // rebalance reference date override; zero uses the period's reference date
}

// Orchestrator is safe for concurrent use. Runs on the same index are serialized.
type Orchestrator struct {
	m        methodology.Methodology
	store    Store
	events   EventPublisher
	bus      *eventbus.EventBus
	logger   *zap.Logger
	scorer   *liquidity.Scorer
	resolver *pricing.Resolver
	filter   *eligibility.Filter
	ranker   *ranking.Engine
	calc     *chain.Calculator
	workers  int
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an orchestrator. events and bus are optional.
func New(m methodology.Methodology, st Store, events EventPublisher, bus *eventbus.EventBus, workers int, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		m:        m,
		store:    st,
		events:   events,
		bus:      bus,
		logger:   logger,
		scorer:   liquidity.NewScorer(m),
		resolver: pricing.NewResolver(m),
		filter:   eligibility.NewFilter(m),
		ranker:   ranking.NewEngine(m),
		calc:     chain.NewCalculator(m.CoverageGate),
		workers:  workers,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Methodology returns the constants the orchestrator was built with.
func (o *Orchestrator) Methodology() methodology.Methodology { return o.m }

// lock claims the per-index run slot. The returned func releases it.
func (o *Orchestrator) lock(indexCode string) (func(), error) {
	o.mu.Lock()
	l, ok := o.locks[indexCode]
	if !ok {
		l = &sync.Mutex{}
		o.locks[indexCode] = l
	}
	o.mu.Unlock()

	if !l.TryLock() {
		return nil, fmt.Errorf("%s: %w", indexCode, ErrRunInProgress)
	}
	return l.Unlock, nil
}

// RunAll computes the value of every index on date in parallel. One index failing never
// stops the others; the joined error lists every failure.
func (o *Orchestrator) RunAll(ctx context.Context, defs []methodology.IndexDefinition, date time.Time, opts Options) ([]*DailyReport, error) {
	reports := make([]*DailyReport, len(defs))
	errs := make([]error, len(defs))

	var g errgroup.Group
	for i, def := range defs {
		i, def := i, def
		g.Go(func() error {
			reports[i], errs[i] = o.RunDaily(ctx, def, date, opts)
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}

// RebalanceAll rebalances every index for period in parallel. Indexes write disjoint keys.
func (o *Orchestrator) RebalanceAll(ctx context.Context, defs []methodology.IndexDefinition, period model.Period, opts Options) ([]*RebalanceReport, error) {
	reports := make([]*RebalanceReport, len(defs))
	errs := make([]error, len(defs))

	var g errgroup.Group
	for i, def := range defs {
		i, def := i, def
		g.Go(func() error {
			reports[i], errs[i] = o.Rebalance(ctx, def, period, opts)
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}

// start opens the run log. A failing audit write is logged, not fatal.
func (o *Orchestrator) start(ctx context.Context, runType model.RunType, indexCode string, asOf time.Time) *model.RunLog {
	run := model.NewRunLog(runType, indexCode, asOf, o.now())
	run.Details = make(map[string]any)
	if err := o.store.StartRun(ctx, run); err != nil {
		o.logger.Warn("orchestrator.runlog_start_failed",
			zap.String("index", indexCode),
			zap.String("run_type", string(runType)),
			zap.Error(err))
	}
	return run
}

// finish closes the run log and announces the outcome. It runs even when ctx is canceled.
func (o *Orchestrator) finish(ctx context.Context, run *model.RunLog, dryRun bool, status model.RunStatus, runErr error, summary string) {
	ctx = context.WithoutCancel(ctx)

	if dryRun && status == model.RunSucceeded {
		status = model.RunDryRun
	}
	run.Status = status
	run.FinishedAt = o.now().UTC()
	if runErr != nil {
		run.Error = runErr.Error()
	}

	if err := o.store.FinishRun(ctx, run); err != nil {
		o.logger.Warn("orchestrator.runlog_finish_failed",
			zap.String("run_id", run.ID.String()),
			zap.Error(err))
	}

	metrics.IncRun(run.IndexCode, string(run.RunType), string(status))
	metrics.ObserveDuration(metrics.RunDuration, run.StartedAt, run.IndexCode, string(run.RunType))
	if status != model.RunFailed {
		metrics.SetLastRun(string(run.RunType), run.FinishedAt)
	}

	evt := model.RunCompleted{Run: *run, DryRun: dryRun, Summary: summary}
	if o.events != nil {
		if err := o.events.PublishRunCompleted(ctx, evt); err != nil {
			o.logger.Warn("orchestrator.event_publish_failed",
				zap.String("event", "run_completed"),
				zap.Error(err))
		}
	}
	if o.bus != nil {
		o.bus.Publish(evt)
	}
}

// fetchFX loads the EUR→USD series covering [from, to].
func (o *Orchestrator) fetchFX(ctx context.Context, from, to time.Time) (*pricing.FXTable, error) {
	rows, err := o.store.GetFXRates(ctx, from, to)
	if err != nil {
		return nil, asFetchError("get_fx_rates", err)
	}
	return pricing.NewFXTable(rows, o.resolver.ForwardFillDays()), nil
}

// asFetchError keeps store errors typed as DataFetchError so callers can tell them apart.
func asFetchError(op string, err error) error {
	var dfe *model.DataFetchError
	if errors.As(err, &dfe) {
		return err
	}
	return &model.DataFetchError{Op: op, Err: err}
}
