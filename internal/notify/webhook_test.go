package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/market-index/internal/httpclient"
	"github.com/Checker-Finance/market-index/pkg/eventbus"
	"github.com/Checker-Finance/market-index/pkg/model"
)

type recorder struct {
	mu       sync.Mutex
	payloads []payload
	status   int
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	raw, _ := io.ReadAll(req.Body)
	var p payload
	_ = json.Unmarshal(raw, &p)

	r.mu.Lock()
	r.payloads = append(r.payloads, p)
	status := r.status
	r.mu.Unlock()

	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func newWebhook(t *testing.T, srv *httptest.Server) *Webhook {
	t.Helper()
	exec := httpclient.New(zap.NewNop(), nil, srv.Client(), 0, "webhook", nil)
	w, err := NewWebhook(srv.URL+"/api/webhooks/1/abc", "market-index dev", exec, time.Second, zap.NewNop())
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2025, 3, 4, 6, 0, 0, 0, time.UTC) }
	return w
}

func run(status model.RunStatus, runType model.RunType) model.RunLog {
	start := time.Date(2025, 3, 4, 6, 0, 0, 0, time.UTC)
	r := model.NewRunLog(runType, "RARE_100", start.AddDate(0, 0, -2), start)
	r.Status = status
	r.Processed = 100
	r.FinishedAt = start.Add(1500 * time.Millisecond)
	return *r
}

func TestNotifyRun_Success(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	w := newWebhook(t, srv)
	err := w.NotifyRun(context.Background(), model.RunCompleted{
		Run:     run(model.RunSucceeded, model.RunDaily),
		Summary: "RARE_100: 104.25 (+1.20%)",
	})
	require.NoError(t, err)

	require.Len(t, rec.payloads, 1)
	require.Len(t, rec.payloads[0].Embeds, 1)
	e := rec.payloads[0].Embeds[0]
	assert.Equal(t, "✅ Index Calculation - Success", e.Title)
	assert.Equal(t, ColorSuccess, e.Color)
	assert.Equal(t, "RARE_100: 104.25 (+1.20%)", e.Description)
	assert.Equal(t, "2025-03-04T06:00:00Z", e.Timestamp)
	assert.Equal(t, "market-index dev", e.Footer.Text)
	require.Len(t, e.Fields, 4)
	assert.Equal(t, "2025-03-02", e.Fields[1].Value)
	assert.Equal(t, "1.5s", e.Fields[3].Value)
}

func TestNotifyRun_FailureAndSkip(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()
	w := newWebhook(t, srv)

	failed := run(model.RunFailed, model.RunRebalance)
	failed.Error = "no eligible constituents"
	require.NoError(t, w.NotifyRun(context.Background(), model.RunCompleted{Run: failed}))
	require.NoError(t, w.NotifyRun(context.Background(), model.RunCompleted{Run: run(model.RunSkipped, model.RunDaily)}))
	require.NoError(t, w.NotifyRun(context.Background(), model.RunCompleted{Run: run(model.RunDryRun, model.RunRebalance), DryRun: true}))

	require.Len(t, rec.payloads, 3)
	assert.Equal(t, "❌ Rebalance - Failed", rec.payloads[0].Embeds[0].Title)
	assert.Equal(t, ColorFailure, rec.payloads[0].Embeds[0].Color)
	assert.Equal(t, "Error: no eligible constituents", rec.payloads[0].Embeds[0].Description)
	assert.Equal(t, ColorWarning, rec.payloads[1].Embeds[0].Color)
	assert.Equal(t, "✅ Rebalance (dry run) - Success", rec.payloads[2].Embeds[0].Title)
}

func TestSend_RemoteErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(&recorder{status: http.StatusBadRequest})
	defer srv.Close()

	err := newWebhook(t, srv).Send(context.Background(), "t", "d", ColorSuccess)
	assert.Error(t, err)
}

func TestSend_TruncatesDescription(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	long := make([]byte, maxDescription+500)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, newWebhook(t, srv).Send(context.Background(), "t", string(long), ColorSuccess))
	assert.Len(t, rec.payloads[0].Embeds[0].Description, maxDescription)
}

func TestSubscribe_DeliversBusEvents(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	bus := eventbus.New(zap.NewNop())
	newWebhook(t, srv).Subscribe(bus)

	bus.Publish(model.RunCompleted{Run: run(model.RunSucceeded, model.RunDaily)})
	bus.Drain()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.payloads, 1)
}

func TestNewWebhook_InvalidURL(t *testing.T) {
	_, err := NewWebhook("not a url", "", nil, time.Second, nil)
	assert.Error(t, err)
}
