// Package pricing reduces raw multi-market, multi-grade price fields to one
// canonical USD price per item and day, with provenance.
package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/Checker-Finance/market-index/internal/methodology"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// Rejection reasons recorded on resolved prices and decisions.
const (
	ReasonPriceBounds      = "price_bounds"
	ReasonDailyJump        = "daily_jump"
	ReasonMarketDivergence = "market_divergence"
	ReasonNoFXRate         = "no_fx_rate"
	ReasonNoPrice          = "no_price"
)

// Resolver is stateless and safe for concurrent use.
type Resolver struct {
	cfg methodology.Pricing
}

// NewResolver builds a resolver from the methodology constants.
func NewResolver(m methodology.Methodology) *Resolver {
	return &Resolver{cfg: m.Pricing}
}

// ForwardFillDays is the staleness bound applied when a day has no valid price.
func (r *Resolver) ForwardFillDays() int { return r.cfg.ForwardFillDays }

// composite is the combined price of one observation before outlier checks.
type composite struct {
	price float64
	note  string
}

// HistoryDays is how many days before a date Resolve reads: the forward-fill bound plus the
// window that decides whether the oldest candidate close was itself accepted.
func (r *Resolver) HistoryDays() int { return 2 * r.cfg.ForwardFillDays }

// Resolve returns the canonical price of item on date from its observation history.
// history may span any dates; rows after date are never read. Days rejected as outliers
// are treated as missing: they never serve as a forward-fill source or as the previous close.
func (r *Resolver) Resolve(item model.Item, date time.Time, history []model.DailyObservation, fx FXSource) model.ResolvedPrice {
	date = model.Day(date)
	byDay := latestByDay(history, date)

	res := model.ResolvedPrice{ItemID: item.ID, Date: date}
	last, haveLast := r.lastAccepted(item.Kind, date, byDay, fx)

	cur, ok, reason := r.combine(item.Kind, byDay[date], fx)
	if ok {
		res.SourceDate = date
		res.Price = cur.price
		res.Reason = cur.note
		if !r.inBounds(cur.price) {
			res.Provenance = model.ProvenanceOutlier
			res.Reason = ReasonPriceBounds
			return res
		}
		if haveLast {
			if move, jumped := r.jump(cur.price, last.price); jumped {
				res.Provenance = model.ProvenanceOutlier
				res.Reason = fmt.Sprintf("%s: %.2f%% vs %.2f", ReasonDailyJump, move*100, last.price)
				return res
			}
		}
		res.Provenance = model.ProvenanceFresh
		return res
	}

	if haveLast {
		back := model.DaysBetween(last.day, date)
		res.Price = last.price
		res.SourceDate = last.day
		res.Provenance = model.ProvenanceForwardFilled
		res.Reason = fmt.Sprintf("forward-filled %dd", back)
		return res
	}

	res.Provenance = model.ProvenanceMissing
	res.Reason = reason
	return res
}

// OutlierDays returns the days in the windowDays before date, oldest first, whose price was
// rejected as an outlier. date itself is not included.
func (r *Resolver) OutlierDays(item model.Item, date time.Time, windowDays int, history []model.DailyObservation, fx FXSource) []time.Time {
	date = model.Day(date)
	var days []time.Time
	for back := windowDays; back >= 1; back-- {
		d := date.AddDate(0, 0, -back)
		if r.Resolve(item, d, history, fx).Provenance == model.ProvenanceOutlier {
			days = append(days, d)
		}
	}
	return days
}

// acceptedClose is one daily price that passed the outlier rules.
type acceptedClose struct {
	day   time.Time
	price float64
}

// lastAccepted returns the most recent accepted close before date within the forward-fill
// bound. Closes are accepted oldest first: a day counts when it is in bounds and does not jump
// against the previous accepted close, itself at most ForwardFillDays older.
func (r *Resolver) lastAccepted(kind model.ItemKind, date time.Time, byDay map[time.Time]*model.DailyObservation, fx FXSource) (acceptedClose, bool) {
	bound := r.cfg.ForwardFillDays
	var (
		last acceptedClose
		have bool
	)
	for back := r.HistoryDays(); back >= 1; back-- {
		d := date.AddDate(0, 0, -back)
		c, ok, _ := r.combine(kind, byDay[d], fx)
		if !ok || !r.inBounds(c.price) {
			continue
		}
		if have && model.DaysBetween(last.day, d) <= bound {
			if _, jumped := r.jump(c.price, last.price); jumped {
				continue
			}
		}
		last, have = acceptedClose{day: d, price: c.price}, true
	}
	if !have || model.DaysBetween(last.day, date) > bound {
		return acceptedClose{}, false
	}
	return last, true
}

// jump reports the relative move from prev to cur and whether it exceeds the threshold.
func (r *Resolver) jump(cur, prev float64) (float64, bool) {
	move := math.Abs(cur/prev - 1)
	return move, move > r.cfg.MaxDailyJump
}

func (r *Resolver) inBounds(p float64) bool {
	return p >= r.cfg.MinPrice && p <= r.cfg.MaxPrice
}

// combine merges the US and EU legs of one observation.
func (r *Resolver) combine(kind model.ItemKind, obs *model.DailyObservation, fx FXSource) (composite, bool, string) {
	if obs == nil {
		return composite{}, false, ReasonNoPrice
	}
	w := r.cfg.WeightsFor(kind)

	us, hasUS := r.gradePrice(obs.Prices[model.MarketUS])
	hasUS = hasUS && w.US > 0

	eur, hasEU := r.gradePrice(obs.Prices[model.MarketEU])
	hasEU = hasEU && w.EU > 0
	var eu float64
	reason := ReasonNoPrice
	if hasEU {
		rate, ok := rateFor(fx, obs.Date)
		if ok {
			eu = eur * rate
		} else {
			hasEU = false
			reason = ReasonNoFXRate
		}
	}

	switch {
	case hasUS && hasEU:
		if r.cfg.MaxMarketDivergence > 0 && math.Max(us, eu)/math.Min(us, eu) > r.cfg.MaxMarketDivergence {
			return composite{price: us, note: ReasonMarketDivergence}, true, ""
		}
		return composite{price: (w.US*us + w.EU*eu) / (w.US + w.EU)}, true, ""
	case hasUS:
		return composite{price: us}, true, ""
	case hasEU:
		return composite{price: eu}, true, ""
	}
	return composite{}, false, reason
}

func rateFor(fx FXSource, day time.Time) (float64, bool) {
	if fx == nil {
		return 0, false
	}
	return fx.EURUSD(day)
}

// gradePrice picks the reference grade, then falls back in priority order.
func (r *Resolver) gradePrice(byGrade map[model.Grade]float64) (float64, bool) {
	for _, g := range r.cfg.GradePriority {
		if p := model.Sanitize(byGrade[g]); p > 0 {
			return p, true
		}
	}
	return 0, false
}

// latestByDay keeps the newest ingestion per day up to and including asOf.
func latestByDay(history []model.DailyObservation, asOf time.Time) map[time.Time]*model.DailyObservation {
	out := make(map[time.Time]*model.DailyObservation, len(history))
	for i := range history {
		obs := &history[i]
		d := model.Day(obs.Date)
		if d.After(asOf) {
			continue
		}
		if cur, ok := out[d]; !ok || obs.IngestedAt.After(cur.IngestedAt) {
			out[d] = obs
		}
	}
	return out
}
