package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-restaurant/internal/logger"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Handler processes one message. A returned error is logged and the message
// is skipped.
type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	Reader       MessageReader
	Topic        string
	Logger       *logger.Logger
	RetryBackoff time.Duration
}

// NewConsumer joins groupID on topic. A fresh group starts at the newest
// offset: events published while an instance was down are not replayed.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
	})
	return &Consumer{Reader: reader, Topic: topic, Logger: log, RetryBackoff: time.Second}
}

// Run reads until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	c.Logger.LogKafka("CONSUME", c.Topic, "consumer started")
	for {
		msg, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.Logger.LogKafka("CONSUME", c.Topic, "consumer stopped")
				return nil
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("read from %s: %v", c.Topic, err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.RetryBackoff):
			}
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.Logger.Warn("KAFKA", fmt.Sprintf("skip message %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.Reader.Close()
}
