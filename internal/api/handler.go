package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/market-index/internal/methodology"
	"github.com/Checker-Finance/market-index/internal/orchestrator"
	"github.com/Checker-Finance/market-index/pkg/model"
)

const (
	defaultValuesWindow = 30 // days
	defaultRunsLimit    = 20
	maxRunsLimit        = 200
)

// SeriesReader defines the published-state reads needed by the handler.
type SeriesReader interface {
	LatestValue(ctx context.Context, indexCode string) (*model.IndexValue, error)
	Values(ctx context.Context, indexCode string, from, to time.Time) ([]model.IndexValue, error)
	ActiveConstituents(ctx context.Context, indexCode string, date time.Time) (*model.ConstituentSet, error)
	RecentRuns(ctx context.Context, indexCode string, limit int) ([]model.RunLog, error)
}

// DryRunner computes without publishing.
type DryRunner interface {
	Rebalance(ctx context.Context, def methodology.IndexDefinition, period model.Period, opts orchestrator.Options) (*orchestrator.RebalanceReport, error)
	RunDaily(ctx context.Context, def methodology.IndexDefinition, date time.Time, opts orchestrator.Options) (*orchestrator.DailyReport, error)
}

// IndexHandler serves the read API and operator dry runs.
type IndexHandler struct {
	logger *zap.Logger
	m      methodology.Methodology
	series SeriesReader
	runner DryRunner
	now    func() time.Time
}

// NewIndexHandler creates a new IndexHandler. runner is optional; without it dry runs are disabled.
func NewIndexHandler(logger *zap.Logger, m methodology.Methodology, series SeriesReader, runner DryRunner) *IndexHandler {
	return &IndexHandler{
		logger: logger,
		m:      m,
		series: series,
		runner: runner,
		now:    time.Now,
	}
}

// ListIndexes returns every configured index with its latest value.
func (h *IndexHandler) ListIndexes(c *fiber.Ctx) error {
	out := make([]IndexSummary, 0, len(h.m.Indexes))
	for _, code := range h.m.Codes() {
		def, _ := h.m.Index(code)
		latest, err := h.series.LatestValue(c.Context(), def.Code)
		if err != nil {
			h.logger.Error("api.latest_value.failed", zap.String("index", def.Code), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		out = append(out, IndexSummary{Code: def.Code, Kind: def.Kind, Size: def.Size, Latest: latest})
	}
	return c.JSON(out)
}

// GetValues returns the published series in [from, to]. Defaults to the last 30 days.
func (h *IndexHandler) GetValues(c *fiber.Ctx) error {
	def, ok := h.index(c)
	if !ok {
		return nil
	}

	to := model.Day(h.now())
	if s := c.Query("to"); s != "" {
		d, err := model.ParseDay(s)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		to = d
	}
	from := to.AddDate(0, 0, -defaultValuesWindow)
	if s := c.Query("from"); s != "" {
		d, err := model.ParseDay(s)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		from = d
	}
	if from.After(to) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "from is after to"})
	}

	values, err := h.series.Values(c.Context(), def.Code, from, to)
	if err != nil {
		h.logger.Error("api.values.failed", zap.String("index", def.Code), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if values == nil {
		values = []model.IndexValue{}
	}
	return c.JSON(values)
}

// GetConstituents returns the set in force on ?date (default today).
func (h *IndexHandler) GetConstituents(c *fiber.Ctx) error {
	def, ok := h.index(c)
	if !ok {
		return nil
	}

	date := model.Day(h.now())
	if s := c.Query("date"); s != "" {
		d, err := model.ParseDay(s)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		date = d
	}

	set, err := h.series.ActiveConstituents(c.Context(), def.Code, date)
	if err != nil {
		return h.fail(c, def.Code, err)
	}
	return c.JSON(set)
}

// GetRuns returns the most recent run logs of an index.
func (h *IndexHandler) GetRuns(c *fiber.Ctx) error {
	def, ok := h.index(c)
	if !ok {
		return nil
	}

	limit := defaultRunsLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxRunsLimit {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be between 1 and 200"})
		}
		limit = n
	}

	runs, err := h.series.RecentRuns(c.Context(), def.Code, limit)
	if err != nil {
		return h.fail(c, def.Code, err)
	}
	if runs == nil {
		runs = []model.RunLog{}
	}
	return c.JSON(runs)
}

// DryRun computes a rebalance or a daily value without publishing it.
func (h *IndexHandler) DryRun(c *fiber.Ctx) error {
	if h.runner == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "dry runs are disabled"})
	}
	def, ok := h.index(c)
	if !ok {
		return nil
	}

	var req DryRunRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	parsed, err := req.Validate()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	opts := orchestrator.Options{DryRun: true}
	if parsed.Type == DryRunDaily {
		rep, err := h.runner.RunDaily(c.Context(), def, parsed.Date, opts)
		if err != nil {
			return h.fail(c, def.Code, err)
		}
		return c.JSON(toDailyResponse(rep))
	}

	opts.AsOf = parsed.Date
	rep, err := h.runner.Rebalance(c.Context(), def, parsed.Period, opts)
	if err != nil {
		return h.fail(c, def.Code, err)
	}
	return c.JSON(toRebalanceResponse(rep))
}

// index resolves :code or writes a 404.
func (h *IndexHandler) index(c *fiber.Ctx) (methodology.IndexDefinition, bool) {
	def, ok := h.m.Index(c.Params("code"))
	if !ok {
		_ = c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown index " + c.Params("code")})
	}
	return def, ok
}

// fail maps engine errors to HTTP statuses.
func (h *IndexHandler) fail(c *fiber.Ctx, indexCode string, err error) error {
	var (
		none *model.NoEligibleConstituentsError
		dfe  *model.DataFetchError
	)
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNoConstituents):
		status = fiber.StatusNotFound
	case errors.Is(err, orchestrator.ErrRunInProgress), errors.Is(err, model.ErrValueExists), errors.Is(err, model.ErrPeriodFrozen):
		status = fiber.StatusConflict
	case errors.As(err, &none):
		status = fiber.StatusUnprocessableEntity
	case errors.As(err, &dfe):
		status = fiber.StatusBadGateway
	}
	if status >= fiber.StatusInternalServerError {
		h.logger.Error("api.request.failed", zap.String("index", indexCode), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
