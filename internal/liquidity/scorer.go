// Package liquidity turns volume history, or listing depth when volume is too
// sparse, into a 0–1 liquidity score per item.
package liquidity

import (
	"math"
	"time"

	"github.com/Checker-Finance/market-index/internal/methodology"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// Scorer computes liquidity records. It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	decay        []float64
	minDays      int
	volumeCal    float64
	listingCal   float64
	gradeWeights map[model.Grade]float64
	unknownGrade float64
}

// NewScorer builds a scorer from the methodology constants.
func NewScorer(m methodology.Methodology) *Scorer {
	decay := make([]float64, len(m.Liquidity.DecayWeights))
	copy(decay, m.Liquidity.DecayWeights)
	return &Scorer{
		decay:        decay,
		minDays:      m.Liquidity.MinVolumeDays,
		volumeCal:    m.Liquidity.VolumeCalibration,
		listingCal:   m.Liquidity.ListingCalibration,
		gradeWeights: m.GradeWeights,
		unknownGrade: m.UnknownGradeWeight,
	}
}

// Lookback is the number of trailing days the scorer reads, as-of date included.
func (s *Scorer) Lookback() int { return len(s.decay) }

// Score computes the liquidity of one item as of asOf.
// history may hold any observations of the item; rows outside the decay window are ignored
// and later ingestions of the same day replace earlier ones.
//
// The decayed volume is used when at least MinVolumeDays days carry a volume row and the
// grade-weighted volume is positive. Otherwise the score falls back to the most recent
// listings, including when every reported volume is zero. VolumeDays still counts the
// zero-volume rows in that case.
func (s *Scorer) Score(itemID string, asOf time.Time, history []model.DailyObservation) model.LiquidityRecord {
	asOf = model.Day(asOf)
	days := s.window(asOf, history)

	rec := model.LiquidityRecord{ItemID: itemID, AsOf: asOf}

	var weighted, decaySum float64
	for offset, obs := range days {
		if obs == nil || !obs.HasVolume() {
			continue
		}
		rec.VolumeDays++
		weighted += s.decay[offset] * s.weightedSum(obs.Volumes)
		decaySum += s.decay[offset]
	}

	if rec.VolumeDays >= s.minDays && weighted > 0 && decaySum > 0 {
		rec.Method = model.MethodVolumeDecay
		rec.Score = clamp01(weighted / decaySum / s.volumeCal)
		return rec
	}

	rec.Method = model.MethodListingFallback
	for _, obs := range days {
		if obs == nil || len(obs.Listings) == 0 {
			continue
		}
		// most recent day with listing data
		rec.Score = clamp01(s.weightedSum(obs.Listings) / s.listingCal)
		break
	}
	return rec
}

// window indexes history by day offset from asOf (0 = asOf).
func (s *Scorer) window(asOf time.Time, history []model.DailyObservation) []*model.DailyObservation {
	days := make([]*model.DailyObservation, len(s.decay))
	for i := range history {
		obs := &history[i]
		offset := model.DaysBetween(obs.Date, asOf)
		if offset < 0 || offset >= len(days) {
			continue
		}
		if cur := days[offset]; cur == nil || obs.IngestedAt.After(cur.IngestedAt) {
			days[offset] = obs
		}
	}
	return days
}

func (s *Scorer) weightedSum(byGrade map[model.Grade]float64) float64 {
	var total float64
	for g, v := range byGrade {
		w, ok := s.gradeWeights[g]
		if !ok {
			w = s.unknownGrade
		}
		total += model.Sanitize(v) * w
	}
	return total
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 1:
		return 1
	}
	return v
}
