package events

import (
	"context"
	"errors"
	"fmt"
)

// Sink receives events after the originating transaction has committed.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Fanout publishes to every sink and joins their errors. One failing sink
// does not stop the others.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for i, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })
