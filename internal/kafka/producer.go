package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-restaurant/internal/logger"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer MessageWriter
	Topic  string
	Logger *logger.Logger
}

// NewProducer writes to one topic. Messages with the same key land on the
// same partition, so per-order ordering survives the bus.
func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{Writer: writer, Topic: topic, Logger: log}
}

func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	err := p.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
	if err != nil {
		return fmt.Errorf("write to %s: %w", p.Topic, err)
	}
	p.Logger.LogKafka("PUBLISH", p.Topic, fmt.Sprintf("key=%s bytes=%d", key, len(value)))
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
