package kafka

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"ms-restaurant/internal/events"
	"ms-restaurant/internal/kafka"
	"ms-restaurant/internal/logger"
)

// KeyedPublisher is satisfied by *kafka.Producer.
type KeyedPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// EventPublisher puts order events on the bus, keyed by order id and
// carrying their targets, so every instance can route them.
type EventPublisher struct {
	Producer KeyedPublisher
}

func NewEventPublisher(p KeyedPublisher) *EventPublisher {
	return &EventPublisher{Producer: p}
}

func (p *EventPublisher) Publish(ctx context.Context, e events.Event) error {
	raw, err := events.MarshalEvent(e)
	if err != nil {
		return err
	}
	if err := p.Producer.Publish(ctx, e.Payload.OrderRef(), raw); err != nil {
		return fmt.Errorf("publish %s: %w", e.Kind(), err)
	}
	return nil
}

// EventHandler decodes bus messages and hands them to the local sink,
// normally this instance's router hub.
func EventHandler(sink events.Sink, log *logger.Logger) kafka.Handler {
	return func(ctx context.Context, msg kafkago.Message) error {
		e, err := events.UnmarshalEvent(msg.Value)
		if err != nil {
			return err
		}
		log.Debug("KAFKA", fmt.Sprintf("relay %s for order %s", e.Kind(), string(msg.Key)))
		return sink.Publish(ctx, e)
	}
}
