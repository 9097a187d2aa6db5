package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-restaurant/internal/logger"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader hands out queued results, then blocks until ctx is done.
type fakeReader struct {
	results chan readResult
}

type readResult struct {
	msg kafka.Message
	err error
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case res := <-r.results:
		return res.msg, res.err
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) Close() error { return nil }

func TestProducerPublishesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{Writer: w, Topic: "restaurant.order.events", Logger: logger.NewNopLogger()}

	require.NoError(t, p.Publish(context.Background(), "order-1", []byte(`{"event":"order.new"}`)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "order-1", string(w.msgs[0].Key))

	w.err = errors.New("leader not available")
	err := p.Publish(context.Background(), "order-1", nil)
	assert.ErrorContains(t, err, "restaurant.order.events")
}

func TestConsumerSkipsBadMessagesAndStopsOnCancel(t *testing.T) {
	r := &fakeReader{results: make(chan readResult, 4)}
	c := &Consumer{Reader: r, Topic: "t", Logger: logger.NewNopLogger(), RetryBackoff: time.Millisecond}

	r.results <- readResult{msg: kafka.Message{Value: []byte("bad")}}
	r.results <- readResult{err: errors.New("broker hiccup")}
	r.results <- readResult{msg: kafka.Message{Value: []byte("good")}}

	ctx, cancel := context.WithCancel(context.Background())
	var seen []string
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(_ context.Context, msg kafka.Message) error {
			seen = append(seen, string(msg.Value))
			if string(msg.Value) == "good" {
				cancel()
				return nil
			}
			return errors.New("cannot decode")
		})
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, []string{"bad", "good"}, seen)
}
