package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/market-index/internal/eligibility"
	"github.com/Checker-Finance/market-index/internal/methodology"
	"github.com/Checker-Finance/market-index/pkg/eventbus"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// --- Fakes ---

type memStore struct {
	mu     sync.Mutex
	items  []model.Item
	obs    map[string][]model.DailyObservation
	sets   []model.ConstituentSet
	values []model.IndexValue
	skips  []model.Skip
	runs   []model.RunLog

	universeErr  error
	publishErr   error
	publishCalls int
	appendCalls  int
}

func newMemStore() *memStore {
	return &memStore{obs: make(map[string][]model.DailyObservation)}
}

func (s *memStore) GetUniverse(_ context.Context, _ time.Time) ([]model.Item, error) {
	if s.universeErr != nil {
		return nil, s.universeErr
	}
	return append([]model.Item(nil), s.items...), nil
}

func (s *memStore) GetObservations(_ context.Context, ids []string, from, to time.Time) (map[string][]model.DailyObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]model.DailyObservation)
	for _, id := range ids {
		for _, o := range s.obs[id] {
			if o.Date.Before(from) || o.Date.After(to) {
				continue
			}
			out[id] = append(out[id], o)
		}
	}
	return out, nil
}

func (s *memStore) GetFXRates(context.Context, time.Time, time.Time) ([]model.FXRate, error) {
	return nil, nil
}

func (s *memStore) PublishConstituents(_ context.Context, set model.ConstituentSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishCalls++
	if s.publishErr != nil {
		return s.publishErr
	}
	kept := s.sets[:0]
	for _, existing := range s.sets {
		if existing.IndexCode == set.IndexCode && existing.Period.Start.Equal(set.Period.Start) {
			continue
		}
		kept = append(kept, existing)
	}
	s.sets = append(kept, set)
	return nil
}

func (s *memStore) AppendIndexValue(_ context.Context, v model.IndexValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendCalls++
	for _, existing := range s.values {
		if existing.IndexCode == v.IndexCode && existing.Date.Equal(v.Date) {
			return model.ErrValueExists
		}
	}
	s.values = append(s.values, v)
	return nil
}

func (s *memStore) RecordSkip(_ context.Context, skip model.Skip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skips = append(s.skips, skip)
	return nil
}

func (s *memStore) LatestValue(ctx context.Context, code string) (*model.IndexValue, error) {
	return s.ValueOnOrBefore(ctx, code, time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))
}

func (s *memStore) ValueOnOrBefore(_ context.Context, code string, date time.Time) (*model.IndexValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.IndexValue
	for i := range s.values {
		v := s.values[i]
		if v.IndexCode != code || v.Date.After(date) {
			continue
		}
		if best == nil || v.Date.After(best.Date) {
			best = &v
		}
	}
	return best, nil
}

func (s *memStore) ActiveConstituents(_ context.Context, code string, date time.Time) (*model.ConstituentSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.ConstituentSet
	for i := range s.sets {
		set := s.sets[i]
		if set.IndexCode != code || set.EffectiveFrom.After(date) {
			continue
		}
		if best == nil || set.Period.Start.After(best.Period.Start) {
			best = &set
		}
	}
	if best == nil {
		return nil, model.ErrNoConstituents
	}
	return best, nil
}

func (s *memStore) StartRun(_ context.Context, run *model.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *memStore) FinishRun(_ context.Context, run *model.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = *run
		}
	}
	return nil
}

func (s *memStore) lastRun() model.RunLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[len(s.runs)-1]
}

type recordingEvents struct {
	mu     sync.Mutex
	values []model.IndexValuePublished
	sets   []model.ConstituentsPublished
	runs   []model.RunCompleted
}

func (r *recordingEvents) PublishIndexValue(_ context.Context, evt model.IndexValuePublished) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, evt)
	return nil
}

func (r *recordingEvents) PublishConstituents(_ context.Context, evt model.ConstituentsPublished) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, evt)
	return nil
}

func (r *recordingEvents) PublishRunCompleted(_ context.Context, evt model.RunCompleted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, evt)
	return nil
}

// --- Fixtures ---

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := model.ParseDay(s)
	require.NoError(t, err)
	return d
}

var april = model.Period{Start: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)}

// series writes one observation per day from March 1st through April 2nd with a constant
// NM volume. Prices hold at base until the last day, which uses moved.
func series(id string, base, moved, volume float64) []model.DailyObservation {
	var out []model.DailyObservation
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		price := base
		if d.Equal(end) {
			price = moved
		}
		out = append(out, model.DailyObservation{
			ItemID:     id,
			Date:       d,
			Prices:     map[model.Market]map[model.Grade]float64{model.MarketUS: {model.GradeNM: price}},
			Volumes:    map[model.Grade]float64{model.GradeNM: volume},
			IngestedAt: d.Add(20 * time.Hour),
		})
	}
	return out
}

func card(id string) model.Item {
	return model.Item{
		ID:          id,
		Kind:        model.KindCard,
		Tier:        "Rare",
		ReleaseDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Eligible:    true,
	}
}

// threeItemStore is the reference scenario: prices {100, 80, 50} with liquidity
// {0.9, 0.8, 0.72}, plus a sealed item and a deactivated card.
func threeItemStore() *memStore {
	st := newMemStore()
	inactive := card("E")
	inactive.Eligible = false
	sealed := card("D")
	sealed.Kind = model.KindSealed
	sealed.Tier = "Sealed"
	st.items = []model.Item{card("A"), card("B"), card("C"), sealed, inactive}

	st.obs["A"] = series("A", 100, 110, 9)
	st.obs["B"] = series("B", 80, 84, 8)
	st.obs["C"] = series("C", 50, 45, 7.2)
	st.obs["D"] = series("D", 200, 200, 9)
	return st
}

func testIndex() methodology.IndexDefinition {
	m := methodology.Default()
	def, _ := m.Index("RARE_100")
	return def
}

func newTestOrchestrator(st Store, events EventPublisher) *Orchestrator {
	o := New(methodology.Default(), st, events, nil, 4, zap.NewNop())
	o.now = func() time.Time { return time.Date(2025, 4, 3, 6, 0, 0, 0, time.UTC) }
	return o
}

// --- Rebalance ---

func TestRebalance_ThreeItemScenario(t *testing.T) {
	st := threeItemStore()
	events := &recordingEvents{}
	o := newTestOrchestrator(st, events)

	rep, err := o.Rebalance(context.Background(), testIndex(), april, Options{})
	require.NoError(t, err)

	assert.Equal(t, day(t, "2025-03-31"), rep.AsOf)
	assert.Equal(t, day(t, "2025-04-01"), rep.Set.EffectiveFrom)

	cons := rep.Set.Constituents
	require.Len(t, cons, 3)
	assert.Equal(t, []string{"A", "B", "C"}, rep.Set.ItemIDs())

	assert.InDelta(t, 90, cons[0].RankingScore, 1e-3)
	assert.InDelta(t, 64, cons[1].RankingScore, 1e-3)
	assert.InDelta(t, 36, cons[2].RankingScore, 1e-3)

	assert.InDelta(t, 0.4737, cons[0].Weight, 1e-4)
	assert.InDelta(t, 0.3368, cons[1].Weight, 1e-4)
	assert.InDelta(t, 0.1895, cons[2].Weight, 1e-4)
	assert.InDelta(t, 1.0, rep.Set.TotalWeight(), 1e-6)

	for i, c := range cons {
		assert.Equal(t, i+1, c.Rank)
		assert.True(t, c.IsNew)
	}
	assert.Equal(t, []string{"A", "B", "C"}, rep.Added)
	assert.Empty(t, rep.Removed)

	// sealed item never becomes a candidate, inactive card is recorded
	assert.Len(t, rep.Candidates, 4)
	require.Len(t, rep.Rejected, 1)
	assert.Equal(t, "E", rep.Rejected[0].ItemID)
	assert.Equal(t, eligibility.RuleInactive, rep.Rejected[0].Rule)

	assert.Equal(t, 1, st.publishCalls)
	require.Len(t, events.sets, 1)
	assert.Equal(t, "2025-04", events.sets[0].Period)
	assert.Equal(t, 3, events.sets[0].Count)

	run := st.lastRun()
	assert.Equal(t, model.RunSucceeded, run.Status)
	assert.Equal(t, model.RunRebalance, run.RunType)
	assert.Equal(t, 4, run.Processed)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, rep.Rejected, run.Details["rejected"])
	require.Len(t, events.runs, 1)
	assert.True(t, events.runs[0].Succeeded())
}

func TestRebalance_DeterministicForIdenticalSnapshots(t *testing.T) {
	o := newTestOrchestrator(threeItemStore(), nil)

	first, err := o.Rebalance(context.Background(), testIndex(), april, Options{DryRun: true})
	require.NoError(t, err)
	second, err := o.Rebalance(context.Background(), testIndex(), april, Options{DryRun: true})
	require.NoError(t, err)

	a, err := json.Marshal(first.Set)
	require.NoError(t, err)
	b, err := json.Marshal(second.Set)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRebalance_DryRunPublishesNothing(t *testing.T) {
	st := threeItemStore()
	events := &recordingEvents{}
	o := newTestOrchestrator(st, events)

	rep, err := o.Rebalance(context.Background(), testIndex(), april, Options{DryRun: true})
	require.NoError(t, err)

	assert.True(t, rep.DryRun)
	assert.Len(t, rep.Set.Constituents, 3)
	assert.Zero(t, st.publishCalls)
	assert.Empty(t, st.sets)
	assert.Empty(t, events.sets)
	assert.Equal(t, model.RunDryRun, st.lastRun().Status)
}

func TestRebalance_Incumbents(t *testing.T) {
	st := threeItemStore()
	st.sets = []model.ConstituentSet{{
		IndexCode:     "RARE_100",
		Period:        april.Previous(),
		EffectiveFrom: april.Previous().Start,
		Constituents: []model.Constituent{
			{ItemID: "A", Weight: 0.5},
			{ItemID: "Z", Weight: 0.5},
		},
	}}
	o := newTestOrchestrator(st, nil)

	rep, err := o.Rebalance(context.Background(), testIndex(), april, Options{})
	require.NoError(t, err)

	assert.False(t, rep.Set.Constituents[0].IsNew)
	assert.True(t, rep.Set.Constituents[1].IsNew)
	assert.Equal(t, []string{"B", "C"}, rep.Added)
	assert.Equal(t, []string{"Z"}, rep.Removed)
}

func TestRebalance_OutlierInVolumeWindowIsRejected(t *testing.T) {
	st := threeItemStore()
	for i, o := range st.obs["C"] {
		if o.Date.Equal(day(t, "2025-03-20")) {
			st.obs["C"][i].Prices = map[model.Market]map[model.Grade]float64{model.MarketUS: {model.GradeNM: 500}}
		}
	}
	o := newTestOrchestrator(st, nil)

	rep, err := o.Rebalance(context.Background(), testIndex(), april, Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, rep.Set.ItemIDs())

	var c eligibility.Candidate
	for _, cand := range rep.Candidates {
		if cand.Item.ID == "C" {
			c = cand
		}
	}
	assert.Equal(t, model.ProvenanceFresh, c.Price.Provenance, "price on the reference date is clean")
	assert.Equal(t, []time.Time{day(t, "2025-03-20")}, c.Outliers)

	rejected, ok := st.lastRun().Details["rejected"].([]model.Decision)
	require.True(t, ok)
	var found bool
	for _, d := range rejected {
		if d.ItemID == "C" {
			found = true
			assert.Equal(t, eligibility.RuleOutlier, d.Rule)
			assert.Equal(t, day(t, "2025-03-31"), d.Date)
			assert.Contains(t, d.Detail, "2025-03-20")
		}
	}
	assert.True(t, found)
}

func TestRebalance_NoEligibleKeepsPreviousSet(t *testing.T) {
	st := threeItemStore()
	for i := range st.items {
		st.items[i].ReleaseDate = time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	}
	previous := model.ConstituentSet{
		IndexCode:     "RARE_100",
		Period:        april.Previous(),
		EffectiveFrom: april.Previous().Start,
		Constituents:  []model.Constituent{{ItemID: "A", Weight: 1}},
	}
	st.sets = []model.ConstituentSet{previous}
	events := &recordingEvents{}
	o := newTestOrchestrator(st, events)

	rep, err := o.Rebalance(context.Background(), testIndex(), april, Options{})
	require.Error(t, err)
	assert.Nil(t, rep)

	var none *model.NoEligibleConstituentsError
	require.True(t, errors.As(err, &none))
	assert.Equal(t, "RARE_100", none.IndexCode)
	assert.Equal(t, 4, none.Candidates)

	assert.Zero(t, st.publishCalls)
	active, err := st.ActiveConstituents(context.Background(), "RARE_100", day(t, "2025-04-15"))
	require.NoError(t, err)
	assert.Equal(t, previous.Period, active.Period)

	assert.Equal(t, model.RunFailed, st.lastRun().Status)
	require.Len(t, events.runs, 1)
	assert.False(t, events.runs[0].Succeeded())
}

func TestRebalance_FetchErrorAborts(t *testing.T) {
	st := threeItemStore()
	st.universeErr = errors.New("connection refused")
	o := newTestOrchestrator(st, nil)

	_, err := o.Rebalance(context.Background(), testIndex(), april, Options{})
	var dfe *model.DataFetchError
	require.True(t, errors.As(err, &dfe))
	assert.Equal(t, "get_universe", dfe.Op)
	assert.Zero(t, st.publishCalls)
	assert.Contains(t, st.lastRun().Error, "connection refused")
}

func TestRebalance_PublishFailureLeavesNoSet(t *testing.T) {
	st := threeItemStore()
	st.publishErr = errors.New("tx aborted")
	events := &recordingEvents{}
	o := newTestOrchestrator(st, events)

	_, err := o.Rebalance(context.Background(), testIndex(), april, Options{})
	require.Error(t, err)
	assert.Empty(t, st.sets)
	assert.Empty(t, events.sets)
}

func TestRebalance_FrozenPeriodRejected(t *testing.T) {
	st := threeItemStore()
	o := newTestOrchestrator(st, nil)
	ctx := context.Background()

	_, err := o.Rebalance(ctx, testIndex(), april, Options{})
	require.NoError(t, err)

	// re-run before any value uses the set replaces it
	_, err = o.Rebalance(ctx, testIndex(), april, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, st.publishCalls)

	_, err = o.RunDaily(ctx, testIndex(), day(t, "2025-04-01"), Options{})
	require.NoError(t, err)

	_, err = o.Rebalance(ctx, testIndex(), april, Options{})
	assert.ErrorIs(t, err, model.ErrPeriodFrozen)
	assert.Equal(t, 2, st.publishCalls)
}

// --- Daily ---

func TestRunDaily_BaseThenChainLinked(t *testing.T) {
	st := threeItemStore()
	events := &recordingEvents{}
	o := newTestOrchestrator(st, events)
	ctx := context.Background()
	def := testIndex()

	_, err := o.Rebalance(ctx, def, april, Options{})
	require.NoError(t, err)

	base, err := o.RunDaily(ctx, def, day(t, "2025-04-01"), Options{})
	require.NoError(t, err)
	require.NotNil(t, base.Value)
	assert.Equal(t, 100.0, base.Value.Value)
	assert.Equal(t, "base", base.Value.Method)
	assert.Equal(t, 230.0, base.Value.TotalMarketCap)
	assert.Nil(t, base.Value.Changes.Day)

	next, err := o.RunDaily(ctx, def, day(t, "2025-04-02"), Options{})
	require.NoError(t, err)
	require.NotNil(t, next.Value)

	w := map[string]float64{}
	for _, c := range next.Set.Constituents {
		w[c.ItemID] = c.Weight
	}
	ratio := (w["A"]*110 + w["B"]*84 + w["C"]*45) / (w["A"]*100 + w["B"]*80 + w["C"]*50)
	assert.InDelta(t, 100*ratio, next.Value.Value, 1e-4)
	assert.InDelta(t, ratio, next.Value.Ratio, 1e-6)
	assert.Equal(t, "laspeyres", next.Value.Method)
	assert.Equal(t, 1.0, next.Value.Coverage)
	require.NotNil(t, next.Value.Changes.Day)
	assert.InDelta(t, (next.Value.Value-100)/100*100, *next.Value.Changes.Day, 1e-3)
	assert.Nil(t, next.Value.Changes.Week)

	assert.Len(t, st.values, 2)
	assert.Len(t, events.values, 2)
	assert.Equal(t, model.RunSucceeded, st.lastRun().Status)
}

func TestRunDaily_CoverageSkipIsRecorded(t *testing.T) {
	st := threeItemStore()
	o := newTestOrchestrator(st, nil)
	ctx := context.Background()
	def := testIndex()

	_, err := o.Rebalance(ctx, def, april, Options{})
	require.NoError(t, err)
	_, err = o.RunDaily(ctx, def, day(t, "2025-04-01"), Options{})
	require.NoError(t, err)

	// A carries ~47% of the weight; a 200% jump rejects it as an outlier
	obs := st.obs["A"]
	obs[len(obs)-1].Prices[model.MarketUS][model.GradeNM] = 300

	rep, err := o.RunDaily(ctx, def, day(t, "2025-04-02"), Options{})
	require.NoError(t, err)
	assert.Nil(t, rep.Value)
	require.NotNil(t, rep.Skip)
	assert.InDelta(t, 0.5263, rep.Skip.Coverage, 1e-4)
	assert.Contains(t, rep.Skip.Reason, "unpriced: A")
	require.Len(t, rep.Excluded, 1)
	assert.Equal(t, "price_today", rep.Excluded[0].Rule)
	assert.Equal(t, model.ProvenanceOutlier, rep.Today["A"].Provenance)

	assert.Len(t, st.values, 1)
	assert.Len(t, st.skips, 1)
	assert.Equal(t, model.RunSkipped, st.lastRun().Status)
}

func TestRunDaily_DryRunAppendsNothing(t *testing.T) {
	st := threeItemStore()
	o := newTestOrchestrator(st, nil)
	ctx := context.Background()

	_, err := o.Rebalance(ctx, testIndex(), april, Options{})
	require.NoError(t, err)

	rep, err := o.RunDaily(ctx, testIndex(), day(t, "2025-04-01"), Options{DryRun: true})
	require.NoError(t, err)
	require.NotNil(t, rep.Value)
	assert.Equal(t, 100.0, rep.Value.Value)
	assert.Zero(t, st.appendCalls)
	assert.Equal(t, model.RunDryRun, st.lastRun().Status)
}

func TestRunDaily_ValueAlreadyPublished(t *testing.T) {
	st := threeItemStore()
	o := newTestOrchestrator(st, nil)
	ctx := context.Background()

	_, err := o.Rebalance(ctx, testIndex(), april, Options{})
	require.NoError(t, err)
	_, err = o.RunDaily(ctx, testIndex(), day(t, "2025-04-01"), Options{})
	require.NoError(t, err)
	runs := len(st.runs)

	_, err = o.RunDaily(ctx, testIndex(), day(t, "2025-04-01"), Options{})
	assert.ErrorIs(t, err, model.ErrValueExists)
	assert.Len(t, st.runs, runs)
}

func TestRunDaily_NoConstituentsFails(t *testing.T) {
	st := threeItemStore()
	o := newTestOrchestrator(st, nil)

	_, err := o.RunDaily(context.Background(), testIndex(), day(t, "2025-04-01"), Options{})
	assert.ErrorIs(t, err, model.ErrNoConstituents)
	assert.Equal(t, model.RunFailed, st.lastRun().Status)
	assert.Empty(t, st.values)
}

func TestRunDaily_RejectsBackfill(t *testing.T) {
	st := threeItemStore()
	o := newTestOrchestrator(st, nil)
	ctx := context.Background()

	_, err := o.Rebalance(ctx, testIndex(), april, Options{})
	require.NoError(t, err)
	_, err = o.RunDaily(ctx, testIndex(), day(t, "2025-04-02"), Options{})
	require.NoError(t, err)

	_, err = o.RunDaily(ctx, testIndex(), day(t, "2025-04-01"), Options{})
	assert.Error(t, err)
	assert.Len(t, st.values, 1)
}

// --- Concurrency ---

func TestLock_RejectsConcurrentRunOnSameIndex(t *testing.T) {
	o := newTestOrchestrator(threeItemStore(), nil)

	unlock, err := o.lock("RARE_100")
	require.NoError(t, err)

	_, err = o.RunDaily(context.Background(), testIndex(), day(t, "2025-04-01"), Options{})
	assert.ErrorIs(t, err, ErrRunInProgress)

	unlock()
	other, err := o.lock("RARE_100")
	require.NoError(t, err)
	other()
}

func TestRunAll_IsolatesFailures(t *testing.T) {
	st := threeItemStore()
	o := newTestOrchestrator(st, nil)
	ctx := context.Background()
	m := methodology.Default()
	rare100, _ := m.Index("RARE_100")
	rare500, _ := m.Index("RARE_500")

	_, err := o.Rebalance(ctx, rare100, april, Options{})
	require.NoError(t, err)

	reports, err := o.RunAll(ctx, []methodology.IndexDefinition{rare100, rare500}, day(t, "2025-04-01"), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNoConstituents)
	require.Len(t, reports, 2)
	require.NotNil(t, reports[0])
	assert.Equal(t, 100.0, reports[0].Value.Value)
	assert.Nil(t, reports[1])
}

func TestRebalanceAll_ParallelIndexes(t *testing.T) {
	st := threeItemStore()
	o := newTestOrchestrator(st, nil)
	m := methodology.Default()
	rare100, _ := m.Index("RARE_100")
	rareAll, _ := m.Index("RARE_ALL")

	reports, err := o.RebalanceAll(context.Background(), []methodology.IndexDefinition{rare100, rareAll}, april, Options{})
	require.NoError(t, err)
	require.Len(t, reports, 2)

	codes := []string{st.sets[0].IndexCode, st.sets[1].IndexCode}
	sort.Strings(codes)
	assert.Equal(t, []string{"RARE_100", "RARE_ALL"}, codes)
}

func TestFinish_PublishesOnBus(t *testing.T) {
	st := threeItemStore()
	bus := eventbus.New(zap.NewNop())
	got := make(chan model.RunCompleted, 1)
	bus.SubscribeFunc(func(evt model.RunCompleted) { got <- evt })

	o := New(methodology.Default(), st, nil, bus, 2, zap.NewNop())
	_, err := o.Rebalance(context.Background(), testIndex(), april, Options{DryRun: true})
	require.NoError(t, err)

	bus.Drain()
	select {
	case evt := <-got:
		assert.True(t, evt.DryRun)
		assert.Equal(t, model.RunDryRun, evt.Run.Status)
		assert.Contains(t, evt.Summary, "3 constituents")
	default:
		t.Fatal("no RunCompleted event on the bus")
	}
}

// --- Periods ---

func TestReferenceDateAndRebalanceDue(t *testing.T) {
	assert.Equal(t, day(t, "2025-03-31"), ReferenceDate(april, 0))
	assert.Equal(t, day(t, "2025-04-02"), ReferenceDate(april, 2))

	p, ok := RebalanceDue(day(t, "2025-03-31"), 0)
	require.True(t, ok)
	assert.Equal(t, "2025-04", p.String())

	p, ok = RebalanceDue(day(t, "2025-04-02"), 2)
	require.True(t, ok)
	assert.Equal(t, "2025-04", p.String())

	_, ok = RebalanceDue(day(t, "2025-03-31"), 2)
	assert.False(t, ok)
	_, ok = RebalanceDue(day(t, "2025-04-15"), 0)
	assert.False(t, ok)
}
