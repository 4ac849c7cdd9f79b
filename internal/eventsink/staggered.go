package eventsink

import (
	"context"
	"time"

	"speculatoviz/internal/events"
)

// StaggeredSink wraps another Sink and inserts the optional wall-clock delay
// spec §5 allows for animation: 50ms after a DraftToken event, 80ms after a
// VerifyResult event, none for Metrics/Done/Error. Grounded on
// original_source's asyncio.sleep(0.05)/asyncio.sleep(0.08) calls in its
// event-emission loop; here the sleep happens after handing off to the
// wrapped sink so it never delays the speculator's own accounting of a
// suspension point beyond the Emit call itself.
type StaggeredSink struct {
	Inner         Sink
	DraftStagger  time.Duration
	VerifyStagger time.Duration
}

// NewStaggeredSink wraps inner with the spec's default staggers.
func NewStaggeredSink(inner Sink) *StaggeredSink {
	return &StaggeredSink{
		Inner:         inner,
		DraftStagger:  50 * time.Millisecond,
		VerifyStagger: 80 * time.Millisecond,
	}
}

func (s *StaggeredSink) Emit(ctx context.Context, e events.Event) error {
	if err := s.Inner.Emit(ctx, e); err != nil {
		return err
	}
	var d time.Duration
	switch e.Type() {
	case "draft_token":
		d = s.DraftStagger
	case "verify_result":
		d = s.VerifyStagger
	default:
		return nil
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Sink = (*StaggeredSink)(nil)
