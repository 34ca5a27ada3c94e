// Package notify posts run outcomes to an operator chat webhook as embed messages.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/market-index/internal/httpclient"
	"github.com/Checker-Finance/market-index/internal/metrics"
	"github.com/Checker-Finance/market-index/pkg/eventbus"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// Embed colours.
const (
	ColorSuccess = 5763719
	ColorWarning = 16705372
	ColorFailure = 15548997
)

const maxDescription = 2000

type embedFooter struct {
	Text string `json:"text"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      embedFooter  `json:"footer"`
}

type payload struct {
	Embeds []embed `json:"embeds"`
}

// Webhook sends notifications through the shared retrying executor.
type Webhook struct {
	url     string
	host    string
	exec    *httpclient.Executor
	footer  string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewWebhook builds a notifier for rawURL. The footer identifies the deployment.
func NewWebhook(rawURL, footer string, exec *httpclient.Executor, timeout time.Duration, logger *zap.Logger) (*Webhook, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		url:     rawURL,
		host:    u.Host,
		exec:    exec,
		footer:  footer,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Subscribe attaches the notifier to run outcomes on the bus.
func (w *Webhook) Subscribe(bus *eventbus.EventBus) {
	bus.SubscribeFunc(func(evt model.RunCompleted) {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if err := w.NotifyRun(ctx, evt); err != nil {
			w.logger.Warn("notify.webhook_failed",
				zap.String("index", evt.Run.IndexCode),
				zap.String("run_id", evt.Run.ID.String()),
				zap.Error(err))
		}
	})
}

// NotifyRun renders one run outcome.
func (w *Webhook) NotifyRun(ctx context.Context, evt model.RunCompleted) error {
	run := evt.Run
	title, color := runTitle(run, evt.DryRun)

	desc := evt.Summary
	if run.Error != "" {
		desc = "Error: " + run.Error
	}

	fields := []embedField{
		{Name: "Index", Value: run.IndexCode, Inline: true},
		{Name: "As of", Value: run.AsOf.Format(model.DayLayout), Inline: true},
		{Name: "Processed", Value: fmt.Sprintf("%d (%d failed)", run.Processed, run.Failed), Inline: true},
	}
	if !run.FinishedAt.IsZero() {
		fields = append(fields, embedField{
			Name:   "Duration",
			Value:  run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String(),
			Inline: true,
		})
	}
	return w.Send(ctx, title, desc, color, fields...)
}

func runTitle(run model.RunLog, dryRun bool) (string, int) {
	kind := "Index Calculation"
	if run.RunType == model.RunRebalance {
		kind = "Rebalance"
	}
	if dryRun {
		kind += " (dry run)"
	}
	switch run.Status {
	case model.RunFailed:
		return "❌ " + kind + " - Failed", ColorFailure
	case model.RunSkipped:
		return "⚠️ " + kind + " - Skipped", ColorWarning
	default:
		return "✅ " + kind + " - Success", ColorSuccess
	}
}

// Send posts a single embed.
func (w *Webhook) Send(ctx context.Context, title, description string, color int, fields ...embedField) error {
	if len(description) > maxDescription {
		description = description[:maxDescription]
	}
	body, err := json.Marshal(payload{Embeds: []embed{{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   w.now().UTC().Format(time.RFC3339),
		Fields:      fields,
		Footer:      embedFooter{Text: w.footer},
	}}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if err := w.exec.DoJSON(ctx, req, w.host, nil); err != nil {
		metrics.IncWebhook("error")
		return err
	}
	metrics.IncWebhook("ok")
	return nil
}
