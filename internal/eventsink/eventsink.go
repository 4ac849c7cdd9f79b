// Package eventsink defines the consumer seam for the speculator's event
// stream and two implementations: a plain buffered channel fan-out, and a
// wall-clock-staggered wrapper for animation.
package eventsink

import (
	"context"

	"speculatoviz/internal/events"
	"speculatoviz/internal/metrics"
)

// Sink receives a generation's events in the order the speculator produces
// them. Emit may block for backpressure; it is one of the three cooperative
// suspension points the speculator checks ctx at.
type Sink interface {
	Emit(ctx context.Context, e events.Event) error
}

// ChannelSink fans events out over a buffered channel, preserving order.
// Consumers read Events until it is closed by Close.
type ChannelSink struct {
	Events chan events.Event
}

// NewChannelSink constructs a ChannelSink with the given buffer depth.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{Events: make(chan events.Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, e events.Event) error {
	metrics.SinkQueueDepth.Set(float64(len(s.Events)))
	select {
	case s.Events <- e:
		metrics.SinkQueueDepth.Set(float64(len(s.Events)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals no further events will be sent. Callers must not call Emit
// after Close.
func (s *ChannelSink) Close() {
	close(s.Events)
}

var _ Sink = (*ChannelSink)(nil)
