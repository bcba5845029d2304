package audit

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the subset of *amqp.Channel used by [AMQPSink].
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes each event as a persistent JSON message.
type AMQPSink struct {
	publisher  Publisher
	exchange   string
	routingKey string
	timeout    time.Duration
	failures   atomic.Uint64
}

// NewAMQPSink publishes to exchange with routingKey. An empty exchange with the queue
// name as routing key targets the default exchange.
func NewAMQPSink(publisher Publisher, exchange, routingKey string) *AMQPSink {
	return &AMQPSink{
		publisher:  publisher,
		exchange:   exchange,
		routingKey: routingKey,
		timeout:    2 * time.Second,
	}
}

func (s *AMQPSink) Emit(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		s.failures.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.publisher.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.Timestamp,
		Type:         event.EventType,
		Body:         body,
	})
	if err != nil {
		s.failures.Add(1)
	}
}

// Failures returns how many events could not be published.
func (s *AMQPSink) Failures() uint64 {
	return s.failures.Load()
}
