package ranking

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/market-index/internal/methodology"
	"github.com/Checker-Finance/market-index/pkg/model"
)

var period = model.Period{}

func sumWeights(cs []model.Constituent) float64 {
	var s float64
	for _, c := range cs {
		s += c.Weight
	}
	return s
}

func TestRank_ThreeItemScenario(t *testing.T) {
	inputs := []Input{
		{ItemID: "c", Price: 50, Liquidity: 0.72},
		{ItemID: "a", Price: 100, Liquidity: 0.9},
		{ItemID: "b", Price: 80, Liquidity: 0.8},
	}

	got := NewEngine(methodology.Default()).Rank("RARE_100", period, inputs, 100, nil)

	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ItemID, got[1].ItemID, got[2].ItemID})
	assert.InDelta(t, 90.0, got[0].RankingScore, 1e-9)
	assert.InDelta(t, 64.0, got[1].RankingScore, 1e-9)
	assert.InDelta(t, 36.0, got[2].RankingScore, 1e-9)
	assert.InDelta(t, 0.4737, got[0].Weight, 5e-5)
	assert.InDelta(t, 0.3368, got[1].Weight, 5e-5)
	assert.InDelta(t, 0.1895, got[2].Weight, 5e-5)
	assert.InDelta(t, 1.0, sumWeights(got), 1e-6)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, 3, got[2].Rank)
}

func TestRank_TopNCut(t *testing.T) {
	var inputs []Input
	for i := 0; i < 10; i++ {
		inputs = append(inputs, Input{ItemID: fmt.Sprintf("item-%02d", i), Price: float64(10 + i), Liquidity: 0.5})
	}

	got := NewEngine(methodology.Default()).Rank("X", period, inputs, 3, nil)

	require.Len(t, got, 3)
	assert.Equal(t, "item-09", got[0].ItemID)
	assert.Equal(t, "item-07", got[2].ItemID)
	assert.InDelta(t, 1.0, sumWeights(got), 1e-6)
}

func TestRank_AllEligibleKeepsEveryone(t *testing.T) {
	inputs := []Input{{ItemID: "a", Price: 1, Liquidity: 1}, {ItemID: "b", Price: 2, Liquidity: 1}}

	got := NewEngine(methodology.Default()).Rank("RARE_ALL", period, inputs, 0, nil)

	assert.Len(t, got, 2)
}

func TestRank_TiesBrokenByItemID(t *testing.T) {
	inputs := []Input{{ItemID: "z", Price: 10, Liquidity: 0.5}, {ItemID: "m", Price: 10, Liquidity: 0.5}}

	got := NewEngine(methodology.Default()).Rank("X", period, inputs, 1, nil)

	require.Len(t, got, 1)
	assert.Equal(t, "m", got[0].ItemID)
}

func TestRank_ZeroLiquidityUsesFloor(t *testing.T) {
	inputs := []Input{{ItemID: "a", Price: 100, Liquidity: 0}, {ItemID: "b", Price: 100, Liquidity: 0.5}}

	got := NewEngine(methodology.Default()).Rank("X", period, inputs, 0, nil)

	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ItemID)
	assert.InDelta(t, 50.0/60.0, got[0].Weight, 1e-9)
	assert.InDelta(t, 10.0/60.0, got[1].Weight, 1e-9)
}

func TestRank_EqualWeightsWhenAllScoresZero(t *testing.T) {
	m := methodology.Default()
	m.LiquidityFloor = 0
	inputs := []Input{{ItemID: "a", Price: 5}, {ItemID: "b", Price: 7}, {ItemID: "c", Price: 9}}

	got := NewEngine(m).Rank("X", period, inputs, 0, nil)

	for _, c := range got {
		assert.InDelta(t, 1.0/3.0, c.Weight, 1e-12)
	}
}

func TestRank_PriceWeightingStillSelectsByScore(t *testing.T) {
	m := methodology.Default()
	m.Weighting = methodology.WeightPrice
	inputs := []Input{
		{ItemID: "pricey-illiquid", Price: 1000, Liquidity: 0.01}, // score 10
		{ItemID: "a", Price: 100, Liquidity: 0.9},                // score 90
		{ItemID: "b", Price: 50, Liquidity: 0.8},                 // score 40
	}

	got := NewEngine(m).Rank("X", period, inputs, 2, nil)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ItemID)
	assert.Equal(t, "b", got[1].ItemID)
	assert.InDelta(t, 100.0/150.0, got[0].Weight, 1e-9)
}

func TestRank_IsNewAgainstPreviousPeriod(t *testing.T) {
	inputs := []Input{{ItemID: "a", Price: 10, Liquidity: 1}, {ItemID: "b", Price: 5, Liquidity: 1}}
	previous := map[string]bool{"a": true, "gone": true}

	got := NewEngine(methodology.Default()).Rank("X", period, inputs, 0, previous)

	assert.False(t, got[0].IsNew)
	assert.True(t, got[1].IsNew)

	added, removed := Diff(previous, got)
	assert.Equal(t, []string{"b"}, added)
	assert.Equal(t, []string{"gone"}, removed)
}

func TestRank_DeterministicAcrossInputOrder(t *testing.T) {
	inputs := []Input{
		{ItemID: "a", Price: 33.3, Liquidity: 0.31},
		{ItemID: "b", Price: 12.7, Liquidity: 0.92},
		{ItemID: "c", Price: 19.1, Liquidity: 0.55},
		{ItemID: "d", Price: 10.0, Liquidity: 0.99},
	}
	reversed := []Input{inputs[3], inputs[2], inputs[1], inputs[0]}
	e := NewEngine(methodology.Default())

	assert.Equal(t, e.Rank("X", period, inputs, 3, nil), e.Rank("X", period, reversed, 3, nil))
}

func TestRank_Empty(t *testing.T) {
	assert.Nil(t, NewEngine(methodology.Default()).Rank("X", period, nil, 10, nil))
}
