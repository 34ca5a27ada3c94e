package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound_HalfAwayFromZero(t *testing.T) {
	assert.Equal(t, 1.24, Round(1.235, 2))
	assert.Equal(t, -1.24, Round(-1.235, 2))
	assert.Equal(t, 110.0, Round(109.99996, 4))
}

func TestIndexValue_Rounded(t *testing.T) {
	day := 1.23456
	v := IndexValue{
		Value:          104.123456,
		Ratio:          1.0123456789,
		Coverage:       0.8105,
		TotalMarketCap: 1234.5678,
		Changes:        Changes{Day: &day},
	}

	r := v.Rounded()
	assert.Equal(t, 104.1235, r.Value)
	assert.Equal(t, 1.012346, r.Ratio)
	assert.Equal(t, 1234.57, r.TotalMarketCap)
	assert.Equal(t, 1.2346, *r.Changes.Day)
	assert.Nil(t, r.Changes.Week)
	assert.Equal(t, 1.23456, day, "source pointer must not be modified")
}

func TestConstituent_Rounded(t *testing.T) {
	c := Constituent{Weight: 0.473684210526, RankingScore: 90.00004, Price: 99.999, LiquidityScore: 0.45678}.Rounded()
	assert.Equal(t, 0.47368421, c.Weight)
	assert.Equal(t, 90.0, c.RankingScore)
	assert.Equal(t, 100.0, c.Price)
	assert.Equal(t, 0.4568, c.LiquidityScore)
}
