// Package health verifies that the engine's inputs and outputs are fresh and consistent.
package health

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/market-index/internal/methodology"
	"github.com/Checker-Finance/market-index/internal/metrics"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// weightTolerance bounds |Σweight - 1| for a published set.
const weightTolerance = 0.001

// Source is the read surface the checks need.
type Source interface {
	HealthCheck(ctx context.Context) error
	LatestObservationDate(ctx context.Context) (time.Time, error)
	LatestValue(ctx context.Context, indexCode string) (*model.IndexValue, error)
	ActiveConstituents(ctx context.Context, indexCode string, date time.Time) (*model.ConstituentSet, error)
}

// Config holds the freshness limits. Ages are measured against the value date, which trails
// the wall clock by ValueDateLag days.
type Config struct {
	ValueDateLag    int
	PriceMaxAgeDays int
	IndexMaxAgeDays int
}

// Check is the result of one probe.
type Check struct {
	Name    string         `json:"name"`
	OK      bool           `json:"ok"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Report aggregates every check.
type Report struct {
	CheckedAt time.Time `json:"checked_at"`
	Healthy   bool      `json:"healthy"`
	Checks    []Check   `json:"checks"`
}

// Failed lists the names of failing checks.
func (r Report) Failed() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.OK {
			out = append(out, c.Name)
		}
	}
	return out
}

type Checker struct {
	src    Source
	defs   []methodology.IndexDefinition
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewChecker(src Source, defs []methodology.IndexDefinition, cfg Config, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{src: src, defs: defs, cfg: cfg, logger: logger, now: time.Now}
}

// Run executes every check. Later checks still run when connectivity fails.
func (c *Checker) Run(ctx context.Context) Report {
	today := model.Day(c.now())
	rep := Report{CheckedAt: c.now().UTC(), Healthy: true}

	rep.Checks = append(rep.Checks,
		c.connectivity(ctx),
		c.prices(ctx, today),
		c.indexes(ctx, today),
		c.constituents(ctx, today),
	)
	for _, chk := range rep.Checks {
		if !chk.OK {
			rep.Healthy = false
			metrics.IncError("health", chk.Name)
		}
	}
	if !rep.Healthy {
		c.logger.Warn("health.unhealthy", zap.Strings("failed", rep.Failed()))
	}
	return rep
}

func (c *Checker) connectivity(ctx context.Context) Check {
	chk := Check{Name: "connectivity"}
	if err := c.src.HealthCheck(ctx); err != nil {
		chk.Message = err.Error()
		return chk
	}
	chk.OK = true
	chk.Message = "redis and postgres reachable"
	return chk
}

// effectiveAge discounts the settlement lag from the age of a dated row.
func (c *Checker) effectiveAge(latest, today time.Time) (int, int) {
	age := model.DaysBetween(latest, today)
	return age, age - c.cfg.ValueDateLag
}

func (c *Checker) prices(ctx context.Context, today time.Time) Check {
	chk := Check{Name: "price_freshness"}
	latest, err := c.src.LatestObservationDate(ctx)
	if err != nil {
		chk.Message = fmt.Sprintf("price check failed: %v", err)
		return chk
	}
	if latest.IsZero() {
		chk.Message = "no price data found"
		return chk
	}
	age, effective := c.effectiveAge(latest, today)
	chk.Details = map[string]any{"latest_price_date": latest.Format(model.DayLayout), "age_days": age}
	if effective > c.cfg.PriceMaxAgeDays {
		chk.Message = fmt.Sprintf("prices are stale: %s (%dd ago)", latest.Format(model.DayLayout), age)
		return chk
	}
	chk.OK = true
	chk.Message = fmt.Sprintf("latest prices: %s (%dd ago)", latest.Format(model.DayLayout), age)
	return chk
}

func (c *Checker) indexes(ctx context.Context, today time.Time) Check {
	chk := Check{Name: "index_freshness", OK: true}
	values := make(map[string]float64)
	var issues []string

	for _, def := range c.defs {
		v, err := c.src.LatestValue(ctx, def.Code)
		switch {
		case err != nil:
			issues = append(issues, fmt.Sprintf("%s: %v", def.Code, err))
			continue
		case v == nil:
			issues = append(issues, def.Code+": no values")
			continue
		}
		values[def.Code] = v.Value
		if age, effective := c.effectiveAge(v.Date, today); effective > c.cfg.IndexMaxAgeDays {
			issues = append(issues, fmt.Sprintf("%s: stale since %s (%dd)", def.Code, v.Date.Format(model.DayLayout), age))
		}
	}

	chk.Details = map[string]any{"values": values}
	if len(issues) > 0 {
		chk.OK = false
		chk.Message = "index issues: " + strings.Join(issues, "; ")
		return chk
	}
	chk.Message = "index values: " + formatValues(values)
	return chk
}

// constituents checks the set in force on the current value date.
func (c *Checker) constituents(ctx context.Context, today time.Time) Check {
	chk := Check{Name: "constituents", OK: true}
	valueDate := today.AddDate(0, 0, -c.cfg.ValueDateLag)
	perIndex := make(map[string]any, len(c.defs))
	var issues []string

	for _, def := range c.defs {
		set, err := c.src.ActiveConstituents(ctx, def.Code, valueDate)
		if errors.Is(err, model.ErrNoConstituents) {
			issues = append(issues, def.Code+": no constituents")
			continue
		}
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", def.Code, err))
			continue
		}

		count := len(set.Constituents)
		sum := set.TotalWeight()
		perIndex[def.Code] = map[string]any{
			"period":     set.Period.String(),
			"count":      count,
			"expected":   def.Size,
			"weight_sum": model.Round(sum, 4),
		}
		switch {
		case count == 0:
			issues = append(issues, def.Code+": no constituents")
		case !def.AllEligible() && count > def.Size:
			issues = append(issues, fmt.Sprintf("%s: %d/%d constituents", def.Code, count, def.Size))
		}
		if count > 0 && math.Abs(sum-1) > weightTolerance {
			issues = append(issues, fmt.Sprintf("%s: weights sum to %.4f", def.Code, sum))
		}
	}

	chk.Details = map[string]any{"value_date": valueDate.Format(model.DayLayout), "indexes": perIndex}
	if len(issues) > 0 {
		chk.OK = false
		chk.Message = "constituent issues: " + strings.Join(issues, "; ")
		return chk
	}
	chk.Message = "constituents OK"
	return chk
}

func formatValues(values map[string]float64) string {
	codes := make([]string, 0, len(values))
	for code := range values {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = fmt.Sprintf("%s: %.2f", code, values[code])
	}
	return strings.Join(parts, ", ")
}
