package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Checker-Finance/market-index/internal/chain"
	"github.com/Checker-Finance/market-index/internal/methodology"
	"github.com/Checker-Finance/market-index/internal/metrics"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// DailyReport is the outcome of one daily computation. Exactly one of Value and Skip is set.
type DailyReport struct {
	Run      model.RunLog
	DryRun   bool
	Set      model.ConstituentSet
	Value    *model.IndexValue
	Skip     *model.Skip
	Excluded []model.Decision
	Today    map[string]model.ResolvedPrice
	Previous map[string]model.ResolvedPrice
}

// RunDaily computes and appends the value of def on date from the previous published value
// and the frozen weights of the period in force. A coverage failure is recorded as a skip.
// Returns model.ErrValueExists when date already has a value.
func (o *Orchestrator) RunDaily(ctx context.Context, def methodology.IndexDefinition, date time.Time, opts Options) (*DailyReport, error) {
	unlock, err := o.lock(def.Code)
	if err != nil {
		return nil, err
	}
	defer unlock()

	date = model.Day(date)
	log := o.logger.With(
		zap.String("index", def.Code),
		zap.String("date", date.Format(model.DayLayout)),
		zap.Bool("dry_run", opts.DryRun))

	latest, err := o.store.LatestValue(ctx, def.Code)
	if err != nil {
		return nil, fmt.Errorf("latest value: %w", err)
	}
	state := chain.Resume(latest)
	if state.Status == chain.Running && state.Date.Equal(date) {
		return nil, fmt.Errorf("%s on %s: %w", def.Code, date.Format(model.DayLayout), model.ErrValueExists)
	}

	run := o.start(ctx, model.RunDaily, def.Code, date)
	run.Details["state"] = state.Status.String()

	rep, err := o.daily(ctx, def, date, state, opts, run)
	if err != nil {
		var cov *model.InsufficientCoverageError
		if errors.As(err, &cov) {
			metrics.IncCoverageSkip(def.Code)
			log.Warn("chain.coverage_skip",
				zap.Float64("coverage", cov.Coverage),
				zap.Float64("required", cov.Required))
			o.finish(ctx, run, opts.DryRun, model.RunSkipped, err, "coverage below gate")
			rep.Run = *run
			return rep, nil
		}
		metrics.IncError("daily", "run_failed")
		log.Error("daily.failed", zap.Error(err))
		o.finish(ctx, run, opts.DryRun, model.RunFailed, err, "")
		return nil, err
	}

	summary := fmt.Sprintf("%.4f (%s, coverage %.2f%%)", rep.Value.Value, rep.Value.Method, rep.Value.Coverage*100)
	o.finish(ctx, run, opts.DryRun, model.RunSucceeded, nil, summary)
	rep.Run = *run

	log.Info("daily.completed",
		zap.Float64("value", rep.Value.Value),
		zap.Float64("ratio", rep.Value.Ratio),
		zap.Float64("coverage", rep.Value.Coverage),
		zap.Int("excluded", len(rep.Excluded)))
	return rep, nil
}

// daily returns a partial report alongside an *InsufficientCoverageError.
func (o *Orchestrator) daily(ctx context.Context, def methodology.IndexDefinition, date time.Time, state chain.State, opts Options, run *model.RunLog) (*DailyReport, error) {
	set, err := o.store.ActiveConstituents(ctx, def.Code, date)
	if err != nil {
		return nil, fmt.Errorf("active constituents: %w", err)
	}
	run.Details["period"] = set.Period.String()

	prevDate := date
	if state.Status == chain.Running {
		if !date.After(state.Date) {
			return nil, fmt.Errorf("%s: %s not after %s: %w",
				def.Code, date.Format(model.DayLayout), state.Date.Format(model.DayLayout), chain.ErrNotAfter)
		}
		prevDate = state.Date
	}

	ids := set.ItemIDs()
	from := prevDate.AddDate(0, 0, -o.resolver.HistoryDays())
	history, err := o.store.GetObservations(ctx, ids, from, date)
	if err != nil {
		return nil, asFetchError("get_observations", err)
	}
	fx, err := o.fetchFX(ctx, from, date)
	if err != nil {
		return nil, err
	}

	today := make([]model.ResolvedPrice, len(ids))
	previous := make([]model.ResolvedPrice, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item := model.Item{ID: id, Kind: def.Kind}
			today[i] = o.resolver.Resolve(item, date, history[id], fx)
			if state.Status == chain.Running {
				previous[i] = o.resolver.Resolve(item, prevDate, history[id], fx)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &DailyReport{
		DryRun:   opts.DryRun,
		Set:      *set,
		Today:    make(map[string]model.ResolvedPrice, len(ids)),
		Previous: make(map[string]model.ResolvedPrice, len(ids)),
	}
	for i, id := range ids {
		rep.Today[id] = today[i]
		metrics.IncProvenance(string(today[i].Provenance))
		if state.Status == chain.Running {
			rep.Previous[id] = previous[i]
		}
	}
	run.Processed = len(ids)

	res, err := o.calc.Step(state, chain.StepInput{
		IndexCode:    def.Code,
		Date:         date,
		Constituents: set.Constituents,
		Today:        rep.Today,
		Previous:     rep.Previous,
	})
	rep.Excluded = res.Excluded
	run.Failed = len(res.Excluded)
	if len(res.Excluded) > 0 {
		run.Details["excluded"] = res.Excluded
	}

	var cov *model.InsufficientCoverageError
	if errors.As(err, &cov) {
		skip := model.Skip{
			IndexCode: def.Code,
			Date:      date,
			Reason:    skipReason(cov, res.Excluded),
			Coverage:  model.Round(cov.Coverage, model.RatioPlaces),
		}
		rep.Skip = &skip
		run.Details["coverage"] = skip.Coverage
		if !opts.DryRun {
			if rerr := o.store.RecordSkip(ctx, skip); rerr != nil {
				o.logger.Warn("daily.skip_record_failed", zap.String("index", def.Code), zap.Error(rerr))
			}
		}
		return rep, err
	}
	if err != nil {
		return nil, err
	}

	refs, err := o.referenceValues(ctx, def.Code, date)
	if err != nil {
		return nil, err
	}
	value := res.Value
	value.Changes = chain.Changes(date, value.Value, func(at time.Time) (float64, bool) {
		v, ok := refs[at]
		return v, ok
	})
	value = value.Rounded()
	rep.Value = &value
	run.Details["value"] = value.Value
	run.Details["coverage"] = value.Coverage

	if opts.DryRun {
		return rep, nil
	}

	if err := o.store.AppendIndexValue(ctx, value); err != nil {
		return nil, fmt.Errorf("append index value: %w", err)
	}
	metrics.SetIndexValue(def.Code, value.Value, value.Coverage)

	evt := model.IndexValuePublished{RunID: run.ID, Value: value}
	if o.events != nil {
		if err := o.events.PublishIndexValue(ctx, evt); err != nil {
			o.logger.Warn("orchestrator.event_publish_failed",
				zap.String("event", "value_published"),
				zap.String("index", def.Code),
				zap.Error(err))
		}
	}
	if o.bus != nil {
		o.bus.Publish(evt)
	}
	return rep, nil
}

// referenceValues loads the published values the change windows compare against.
func (o *Orchestrator) referenceValues(ctx context.Context, indexCode string, date time.Time) (map[time.Time]float64, error) {
	refs := make(map[time.Time]float64, 3)
	for _, window := range []int{chain.WindowDay, chain.WindowWeek, chain.WindowMonth} {
		at := date.AddDate(0, 0, -window)
		v, err := o.store.ValueOnOrBefore(ctx, indexCode, at)
		if err != nil {
			return nil, fmt.Errorf("value on or before %s: %w", at.Format(model.DayLayout), err)
		}
		if v != nil {
			refs[at] = v.Value
		}
	}
	return refs, nil
}

func skipReason(cov *model.InsufficientCoverageError, excluded []model.Decision) string {
	reason := fmt.Sprintf("coverage %.4f below %.4f", cov.Coverage, cov.Required)
	if len(excluded) == 0 {
		return reason
	}
	ids := make([]string, 0, len(excluded))
	for _, d := range excluded {
		ids = append(ids, d.ItemID)
	}
	const maxListed = 10
	if len(ids) > maxListed {
		ids = append(ids[:maxListed], fmt.Sprintf("+%d more", len(excluded)-maxListed))
	}
	return reason + "; unpriced: " + strings.Join(ids, ", ")
}
