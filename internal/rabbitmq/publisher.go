package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/market-index/internal/metrics"
	"github.com/Checker-Finance/market-index/pkg/eventbus"
	"github.com/Checker-Finance/market-index/pkg/model"
)

const (
	// RoutingValuePublished carries every appended index value.
	RoutingValuePublished = "index.value.published"
	// RoutingConstituentsPublished carries committed rebalances.
	RoutingConstituentsPublished = "index.constituents.published"
	// RoutingRunCompleted carries run outcomes, dry runs included.
	RoutingRunCompleted = "index.run.completed"

	publishTimeout = 5 * time.Second
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher forwards index events from the event bus to a RabbitMQ topic exchange
// consumed by the presentation layer.
type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	eventBus *eventbus.EventBus
	logger   *zap.Logger
}

// NewPublisher dials RabbitMQ, declares the exchange and subscribes to the bus.
func NewPublisher(url, exchange string, eventBus *eventbus.EventBus, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := newPublisher(ch, exchange, eventBus, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, eventBus *eventbus.EventBus, logger *zap.Logger) (*Publisher, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	p := &Publisher{
		channel:  ch,
		exchange: exchange,
		eventBus: eventBus,
		logger:   logger,
	}
	p.subscribeToEvents()
	return p, nil
}

func (p *Publisher) subscribeToEvents() {
	p.eventBus.SubscribeFunc(func(evt model.IndexValuePublished) {
		p.publish(RoutingValuePublished, evt.Value.IndexCode, evt)
	})
	p.eventBus.SubscribeFunc(func(evt model.ConstituentsPublished) {
		p.publish(RoutingConstituentsPublished, evt.IndexCode, evt)
	})
	p.eventBus.SubscribeFunc(func(evt model.RunCompleted) {
		p.publish(RoutingRunCompleted, evt.Run.IndexCode, evt)
	})
}

func (p *Publisher) publish(routingKey, indexCode string, event any) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("rabbitmq.marshal_failed", zap.String("routing_key", routingKey), zap.Error(err))
		metrics.IncError("rabbitmq", "marshal_failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Headers:      amqp.Table{"index_code": indexCode},
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("rabbitmq.publish_failed",
			zap.String("routing_key", routingKey),
			zap.String("index", indexCode),
			zap.Error(err))
		metrics.IncError("rabbitmq", "publish_failed")
		return
	}
	p.logger.Debug("rabbitmq.published", zap.String("routing_key", routingKey), zap.String("index", indexCode))
}

// Close closes the publisher
func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
