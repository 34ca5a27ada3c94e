package methodology

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Checker-Finance/market-index/pkg/model"
)

// Load returns Default() overlaid with the YAML document at path.
// An empty path returns the defaults. The result is validated.
func Load(path string) (Methodology, error) {
	m := Default()
	if path == "" {
		return m, m.Validate()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Methodology{}, fmt.Errorf("read methodology %s: %w", path, err)
	}
	if err := Parse(raw, &m); err != nil {
		return Methodology{}, fmt.Errorf("parse methodology %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return Methodology{}, fmt.Errorf("methodology %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a YAML document onto m. Unknown keys are rejected.
func Parse(raw []byte, m *Methodology) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks internal consistency and returns every problem found.
func (m Methodology) Validate() error {
	var issues []string
	add := func(format string, args ...any) { issues = append(issues, fmt.Sprintf(format, args...)) }

	if len(m.Liquidity.DecayWeights) == 0 {
		add("liquidity.decay_weights is empty")
	}
	for i, w := range m.Liquidity.DecayWeights {
		if w < 0 {
			add("liquidity.decay_weights[%d] is negative", i)
		}
	}
	if m.Liquidity.MinVolumeDays < 1 {
		add("liquidity.min_volume_days must be >= 1")
	}
	if m.Liquidity.VolumeCalibration <= 0 || m.Liquidity.ListingCalibration <= 0 {
		add("liquidity calibration constants must be positive")
	}
	for g, w := range m.GradeWeights {
		if w < 0 || w > 1 {
			add("grade weight %s=%v outside [0,1]", g, w)
		}
	}
	if m.Pricing.MinPrice < 0 || m.Pricing.MaxPrice <= m.Pricing.MinPrice {
		add("pricing bounds invalid: min=%v max=%v", m.Pricing.MinPrice, m.Pricing.MaxPrice)
	}
	if m.Pricing.MaxDailyJump <= 0 {
		add("pricing.max_daily_jump must be positive")
	}
	if m.Pricing.ForwardFillDays < 0 {
		add("pricing.forward_fill_days must be >= 0")
	}
	if len(m.Pricing.GradePriority) == 0 {
		add("pricing.grade_priority is empty")
	}
	for kind, w := range m.Pricing.MarketWeights {
		if w.US < 0 || w.EU < 0 || w.US+w.EU <= 0 {
			add("market weights for %s invalid", kind)
		}
	}
	if m.Weighting != WeightLiquidityAdjusted && m.Weighting != WeightPrice {
		add("unknown weighting %q", m.Weighting)
	}
	if m.LiquidityFloor < 0 || m.LiquidityFloor > 1 {
		add("liquidity_floor outside [0,1]")
	}
	if m.CoverageGate <= 0 || m.CoverageGate > 1 {
		add("coverage_gate must be in (0,1]")
	}
	if m.VolumeWindowDays < 1 {
		add("volume_window_days must be >= 1")
	}
	if m.Rebalance.OffsetDays < 0 || m.Rebalance.OffsetDays > 27 {
		add("rebalance.offset_days must be within [0,27]")
	}
	if len(m.Indexes) == 0 {
		add("no indexes configured")
	}

	seen := make(map[string]bool)
	for _, d := range m.Indexes {
		code := strings.ToUpper(d.Code)
		switch {
		case code == "":
			add("index with empty code")
			continue
		case seen[code]:
			add("duplicate index %s", d.Code)
		}
		seen[code] = true

		if d.Kind != model.KindCard && d.Kind != model.KindSealed {
			add("index %s: unknown kind %q", d.Code, d.Kind)
		}
		if d.Size < 0 {
			add("index %s: negative size", d.Code)
		}
		if d.MinTier != "" {
			if _, ok := m.TierRank(d.MinTier); !ok {
				add("index %s: min_tier %q not in tier ranking", d.Code, d.MinTier)
			}
		}
		if d.Maintenance.MinAvgVolume > d.Entry.MinAvgVolume || d.Maintenance.MinTradingDays > d.Entry.MinTradingDays {
			add("index %s: maintenance thresholds stricter than entry", d.Code)
		}
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid methodology: %s", strings.Join(issues, "; "))
	}
	return nil
}
