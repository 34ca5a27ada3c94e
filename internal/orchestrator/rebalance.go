package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Checker-Finance/market-index/internal/eligibility"
	"github.com/Checker-Finance/market-index/internal/liquidity"
	"github.com/Checker-Finance/market-index/internal/methodology"
	"github.com/Checker-Finance/market-index/internal/metrics"
	"github.com/Checker-Finance/market-index/internal/pricing"
	"github.com/Checker-Finance/market-index/internal/ranking"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// RebalanceReport is what a rebalance computed, published or not.
type RebalanceReport struct {
	Run        model.RunLog
	DryRun     bool
	AsOf       time.Time
	Set        model.ConstituentSet
	Added      []string
	Removed    []string
	Candidates []eligibility.Candidate // every candidate evaluated, in universe order
	Rejected   []model.Decision
}

// Rebalance selects and weights the constituents of def for period as of its reference date
// and publishes them atomically. On any failure the previous period's set stays active.
func (o *Orchestrator) Rebalance(ctx context.Context, def methodology.IndexDefinition, period model.Period, opts Options) (*RebalanceReport, error) {
	unlock, err := o.lock(def.Code)
	if err != nil {
		return nil, err
	}
	defer unlock()

	asOf := ReferenceDate(period, o.m.Rebalance.OffsetDays)
	if !opts.AsOf.IsZero() {
		asOf = model.Day(opts.AsOf)
	}

	log := o.logger.With(
		zap.String("index", def.Code),
		zap.String("period", period.String()),
		zap.String("as_of", asOf.Format(model.DayLayout)),
		zap.Bool("dry_run", opts.DryRun))

	run := o.start(ctx, model.RunRebalance, def.Code, asOf)
	run.Details["period"] = period.String()
	log.Info("rebalance.started", zap.String("run_id", run.ID.String()))

	rep, err := o.rebalance(ctx, def, period, asOf, opts, run)
	if err != nil {
		var none *model.NoEligibleConstituentsError
		if errors.As(err, &none) {
			metrics.IncError("rebalance", "no_eligible_constituents")
		} else {
			metrics.IncError("rebalance", "run_failed")
		}
		log.Error("rebalance.failed", zap.Error(err))
		o.finish(ctx, run, opts.DryRun, model.RunFailed, err, "")
		return nil, err
	}

	summary := fmt.Sprintf("%d constituents for %s (+%d / -%d)",
		len(rep.Set.Constituents), period, len(rep.Added), len(rep.Removed))
	o.finish(ctx, run, opts.DryRun, model.RunSucceeded, nil, summary)
	rep.Run = *run

	log.Info("rebalance.completed",
		zap.Int("constituents", len(rep.Set.Constituents)),
		zap.Int("added", len(rep.Added)),
		zap.Int("removed", len(rep.Removed)),
		zap.Int("rejected", len(rep.Rejected)))
	return rep, nil
}

func (o *Orchestrator) rebalance(ctx context.Context, def methodology.IndexDefinition, period model.Period, asOf time.Time, opts Options, run *model.RunLog) (*RebalanceReport, error) {
	effective := period.EffectiveFrom(o.m.Rebalance.OffsetDays)

	if !opts.DryRun {
		if err := o.ensureNotFrozen(ctx, def.Code, period, effective); err != nil {
			return nil, err
		}
	}

	universe, err := o.store.GetUniverse(ctx, asOf)
	if err != nil {
		return nil, asFetchError("get_universe", err)
	}
	items := make([]model.Item, 0, len(universe))
	ids := make([]string, 0, len(universe))
	for _, it := range universe {
		if it.Kind != def.Kind {
			continue
		}
		items = append(items, it)
		if it.Eligible {
			ids = append(ids, it.ID)
		}
	}

	from := asOf.AddDate(0, 0, -o.lookbackDays())
	history, err := o.store.GetObservations(ctx, ids, from, asOf)
	if err != nil {
		return nil, asFetchError("get_observations", err)
	}
	fx, err := o.fetchFX(ctx, from, asOf)
	if err != nil {
		return nil, err
	}

	members, err := o.previousMembers(ctx, def.Code, asOf)
	if err != nil {
		return nil, err
	}

	cands, err := o.prepare(ctx, items, asOf, history, fx)
	if err != nil {
		return nil, err
	}
	run.Processed = len(cands)

	eligible, rejected := o.filter.Apply(cands, def, asOf, members)
	run.Failed = len(rejected)
	byRule := make(map[string]int)
	for _, d := range rejected {
		byRule[d.Rule]++
		metrics.IncExclusion(def.Code, d.Rule)
	}
	run.Details["rejections"] = byRule
	if len(rejected) > 0 {
		run.Details["rejected"] = rejected
	}
	run.Details["candidates"] = len(cands)
	run.Details["eligible"] = len(eligible)

	if len(eligible) == 0 {
		return nil, &model.NoEligibleConstituentsError{IndexCode: def.Code, Period: period, Candidates: len(cands)}
	}

	inputs := make([]ranking.Input, len(eligible))
	methods := make(map[model.LiquidityMethod]int)
	for i, c := range eligible {
		inputs[i] = ranking.Input{ItemID: c.Item.ID, Price: c.Price.Price, Liquidity: c.Liquidity.Score}
		methods[c.Liquidity.Method]++
	}
	run.Details["liquidity_methods"] = methods

	cons := o.ranker.Rank(def.Code, period, inputs, def.Size, members)
	for i := range cons {
		cons[i] = cons[i].Rounded()
	}
	set := model.ConstituentSet{
		IndexCode:     def.Code,
		Period:        period,
		EffectiveFrom: effective,
		Constituents:  cons,
	}
	added, removed := ranking.Diff(members, cons)
	run.Details["selected"] = len(cons)
	run.Details["added"] = len(added)
	run.Details["removed"] = len(removed)

	rep := &RebalanceReport{
		DryRun:     opts.DryRun,
		AsOf:       asOf,
		Set:        set,
		Added:      added,
		Removed:    removed,
		Candidates: cands,
		Rejected:   rejected,
	}
	if opts.DryRun {
		return rep, nil
	}

	if err := o.store.PublishConstituents(ctx, set); err != nil {
		return nil, fmt.Errorf("publish constituents: %w", err)
	}

	evt := model.ConstituentsPublished{
		RunID:     run.ID,
		IndexCode: def.Code,
		Period:    period.String(),
		Count:     len(cons),
		Added:     added,
		Removed:   removed,
	}
	if o.events != nil {
		if err := o.events.PublishConstituents(ctx, evt); err != nil {
			o.logger.Warn("orchestrator.event_publish_failed",
				zap.String("event", "constituents_published"),
				zap.String("index", def.Code),
				zap.Error(err))
		}
	}
	if o.bus != nil {
		o.bus.Publish(evt)
	}
	return rep, nil
}

// ensureNotFrozen refuses to replace a period's set once a value has been computed with it.
func (o *Orchestrator) ensureNotFrozen(ctx context.Context, indexCode string, period model.Period, effective time.Time) error {
	existing, err := o.store.ActiveConstituents(ctx, indexCode, effective)
	switch {
	case errors.Is(err, model.ErrNoConstituents):
		return nil
	case err != nil:
		return fmt.Errorf("active constituents: %w", err)
	case !existing.Period.Start.Equal(period.Start):
		return nil
	}

	latest, err := o.store.LatestValue(ctx, indexCode)
	if err != nil {
		return fmt.Errorf("latest value: %w", err)
	}
	if latest != nil && !model.Day(latest.Date).Before(effective) {
		return fmt.Errorf("%s period %s (value published %s): %w",
			indexCode, period, latest.Date.Format(model.DayLayout), model.ErrPeriodFrozen)
	}
	return nil
}

// previousMembers returns the ids of the set active on asOf. None is not an error.
func (o *Orchestrator) previousMembers(ctx context.Context, indexCode string, asOf time.Time) (map[string]bool, error) {
	set, err := o.store.ActiveConstituents(ctx, indexCode, asOf)
	if errors.Is(err, model.ErrNoConstituents) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("previous constituents: %w", err)
	}
	return set.Members(), nil
}

// lookbackDays covers the volume window, the decay window and the resolver's history
// behind the earliest of them.
func (o *Orchestrator) lookbackDays() int {
	days := o.m.VolumeWindowDays
	if l := o.scorer.Lookback(); l > days {
		days = l
	}
	return days + o.resolver.HistoryDays()
}

// prepare resolves price, liquidity and activity for every item in parallel. Each item is
// a pure function of its own history, so results are identical regardless of scheduling.
func (o *Orchestrator) prepare(ctx context.Context, items []model.Item, asOf time.Time, history map[string][]model.DailyObservation, fx pricing.FXSource) ([]eligibility.Candidate, error) {
	cands := make([]eligibility.Candidate, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hist := history[item.ID]
			cands[i] = eligibility.Candidate{
				Item:      item,
				Price:     o.resolver.Resolve(item, asOf, hist, fx),
				Liquidity: o.scorer.Score(item.ID, asOf, hist),
				Activity:  liquidity.MeasureActivity(asOf, o.m.VolumeWindowDays, hist),
				Outliers:  o.resolver.OutlierDays(item, asOf, o.m.VolumeWindowDays, hist, fx),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, c := range cands {
		metrics.IncProvenance(string(c.Price.Provenance))
	}
	return cands, nil
}
