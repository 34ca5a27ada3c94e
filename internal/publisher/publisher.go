package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/market-index/internal/metrics"
	"github.com/Checker-Finance/market-index/pkg/logger"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// Event types, appended to the subject prefix.
const (
	EventValuePublished        = "value.published"
	EventConstituentsPublished = "constituents.published"
	EventRunCompleted          = "run.completed"

	envelopeVersion = "1.0.0"
)

// Publisher wraps a NATS connection and publishes index events to JetStream.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	prefix  string // e.g. "evt.index"
	service string
}

// New creates a new Publisher with JetStream enabled.
func New(nc *nats.Conn, prefix, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		nc:      nc,
		js:      js,
		prefix:  prefix,
		service: service,
	}, nil
}

// EnsureStream creates the events stream over "<prefix>.>" when it does not exist yet.
func (p *Publisher) EnsureStream(stream string) error {
	_, err := p.js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{p.prefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
	})
	if err == nil {
		logger.S().Infow("publisher.stream_created", "stream", stream, "subjects", p.prefix+".>")
	}
	return err
}

// Subject returns the versioned subject of an event type.
func (p *Publisher) Subject(eventType string) string {
	return p.prefix + "." + eventType + ".v1"
}

// PublishEnvelope serializes and publishes a canonical event envelope to NATS.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			"index_code":     []string{env.IndexCode},
		},
	}
	// JetStream de-duplicates redelivered publishes by message id.
	msg.Header.Set(nats.MsgIdHdr, env.ID.String())

	start := time.Now()
	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"index_code", env.IndexCode,
			"error", err,
		)
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	logger.S().Infow("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
		"index_code", env.IndexCode,
	)

	metrics.IncNATSMessage(subject, "ok")
	return nil
}

func (p *Publisher) envelope(eventType, indexCode string, correlation uuid.UUID, payload any) (*model.Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return nil, err
	}
	return &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: correlation,
		IndexCode:     indexCode,
		Topic:         p.Subject(eventType),
		EventType:     "index." + eventType,
		Version:       envelopeVersion,
		Timestamp:     time.Now().UTC(),
		Payload:       data,
	}, nil
}

// PublishIndexValue emits index.value.published for a newly appended value.
func (p *Publisher) PublishIndexValue(ctx context.Context, evt model.IndexValuePublished) error {
	env, err := p.envelope(EventValuePublished, evt.Value.IndexCode, evt.RunID, evt)
	if err != nil {
		return err
	}
	return p.PublishEnvelope(ctx, env.Topic, env)
}

// PublishConstituents emits index.constituents.published after a committed rebalance.
func (p *Publisher) PublishConstituents(ctx context.Context, evt model.ConstituentsPublished) error {
	env, err := p.envelope(EventConstituentsPublished, evt.IndexCode, evt.RunID, evt)
	if err != nil {
		return err
	}
	return p.PublishEnvelope(ctx, env.Topic, env)
}

// PublishRunCompleted emits index.run.completed for every finished run, dry runs included.
func (p *Publisher) PublishRunCompleted(ctx context.Context, evt model.RunCompleted) error {
	env, err := p.envelope(EventRunCompleted, evt.Run.IndexCode, evt.Run.ID, evt)
	if err != nil {
		return err
	}
	return p.PublishEnvelope(ctx, env.Topic, env)
}

// Publish publishes raw JSON payloads (for non-canonical internal events).
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{"source": []string{p.service}},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	metrics.IncNATSMessage(subject, "ok")
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
