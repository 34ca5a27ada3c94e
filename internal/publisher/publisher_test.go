package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/market-index/pkg/model"
)

// --- mock types ---

// mockJetStream overrides the JetStreamContext methods the publisher uses.
// Anything else panics through the nil embedded interface.
type mockJetStream struct {
	nats.JetStreamContext
	published []*nats.Msg
	fail      bool
	streams   map[string]*nats.StreamConfig
}

func (m *mockJetStream) PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	if m.fail {
		return nil, errors.New("mock publish error")
	}
	m.published = append(m.published, msg)
	return &nats.PubAck{Stream: "mock-stream"}, nil
}

func (m *mockJetStream) StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	if cfg, ok := m.streams[stream]; ok {
		return &nats.StreamInfo{Config: *cfg}, nil
	}
	return nil, nats.ErrStreamNotFound
}

func (m *mockJetStream) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	if m.streams == nil {
		m.streams = map[string]*nats.StreamConfig{}
	}
	m.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

// --- helper ---

func newTestPublisher(fail bool) (*Publisher, *mockJetStream) {
	js := &mockJetStream{fail: fail}
	return &Publisher{
		nc:      nil,
		js:      js,
		prefix:  "evt.index",
		service: "market-index",
	}, js
}

var valueDate = time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)

// --- tests ---

func TestPublishEnvelope_Success(t *testing.T) {
	pub, js := newTestPublisher(false)
	env := &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		IndexCode:     "RARE_100",
		Topic:         "evt.index.value.published.v1",
		EventType:     "index.value.published",
		Version:       "1.0.0",
		Timestamp:     time.Now(),
		Payload:       json.RawMessage(`{"value":{"value":104.5}}`),
	}

	err := pub.PublishEnvelope(context.Background(), "evt.index.value.published.v1", env)
	require.NoError(t, err)
	require.Len(t, js.published, 1)

	msg := js.published[0]
	assert.Equal(t, "evt.index.value.published.v1", msg.Subject)
	assert.Equal(t, "index.value.published", msg.Header.Get("event_type"))
	assert.Equal(t, "RARE_100", msg.Header.Get("index_code"))
	assert.Equal(t, env.ID.String(), msg.Header.Get(nats.MsgIdHdr))

	var parsed model.Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &parsed))
	assert.Equal(t, "RARE_100", parsed.IndexCode)
}

func TestPublishEnvelope_Failure(t *testing.T) {
	pub, _ := newTestPublisher(true)
	env := &model.Envelope{ID: uuid.New(), EventType: "index.value.published"}

	err := pub.PublishEnvelope(context.Background(), "evt.index.value.published.v1", env)
	assert.Error(t, err)
}

func TestPublishIndexValue(t *testing.T) {
	pub, js := newTestPublisher(false)
	runID := uuid.New()

	err := pub.PublishIndexValue(context.Background(), model.IndexValuePublished{
		RunID: runID,
		Value: model.IndexValue{IndexCode: "RARE_100", Date: valueDate, Value: 104.5},
	})
	require.NoError(t, err)
	require.Len(t, js.published, 1)

	var env model.Envelope
	require.NoError(t, json.Unmarshal(js.published[0].Data, &env))
	assert.Equal(t, "evt.index.value.published.v1", env.Topic)
	assert.Equal(t, "index.value.published", env.EventType)
	assert.Equal(t, runID, env.CorrelationID)

	var payload model.IndexValuePublished
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, 104.5, payload.Value.Value)
}

func TestPublishConstituents(t *testing.T) {
	pub, js := newTestPublisher(false)

	err := pub.PublishConstituents(context.Background(), model.ConstituentsPublished{
		RunID:     uuid.New(),
		IndexCode: "SEALED_100",
		Period:    "2025-04",
		Count:     2,
		Added:     []string{"b"},
		Removed:   []string{"z"},
	})
	require.NoError(t, err)
	require.Len(t, js.published, 1)
	assert.Equal(t, "evt.index.constituents.published.v1", js.published[0].Subject)
	assert.Equal(t, "SEALED_100", js.published[0].Header.Get("index_code"))
}

func TestPublishRunCompleted(t *testing.T) {
	pub, js := newTestPublisher(false)
	run := model.NewRunLog(model.RunRebalance, "RARE_100", valueDate, time.Now())
	run.Status = model.RunDryRun

	require.NoError(t, pub.PublishRunCompleted(context.Background(), model.RunCompleted{Run: *run, DryRun: true}))
	require.Len(t, js.published, 1)
	assert.Equal(t, "evt.index.run.completed.v1", js.published[0].Subject)
}

func TestPublish_Raw(t *testing.T) {
	pub, js := newTestPublisher(false)

	require.NoError(t, pub.Publish(context.Background(), "evt.index.scheduler.tick", map[string]any{"ok": true}))
	require.Len(t, js.published, 1)
	assert.Equal(t, "market-index", js.published[0].Header.Get("source"))

	assert.Error(t, pub.Publish(context.Background(), "x", func() {}))
}

func TestEnsureStream(t *testing.T) {
	pub, js := newTestPublisher(false)

	require.NoError(t, pub.EnsureStream("INDEX_EVENTS"))
	require.Contains(t, js.streams, "INDEX_EVENTS")
	assert.Equal(t, []string{"evt.index.>"}, js.streams["INDEX_EVENTS"].Subjects)

	// second call finds the stream
	require.NoError(t, pub.EnsureStream("INDEX_EVENTS"))
	assert.Len(t, js.streams, 1)
}

func TestClose_NilConn(t *testing.T) {
	pub, _ := newTestPublisher(false)
	pub.Close()
}
