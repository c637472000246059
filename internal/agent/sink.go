package agent

import "context"

// Sink is the single-producer, single-consumer event channel between the
// engine (sole producer) and the streaming transport (sole consumer).
// Cancellation is modeled through ctx rather than a consumer-side channel
// close, since closing a channel the producer still writes to would race;
// ctx.Done() gives the producer the same "observe cancellation at the next
// emission point" guarantee without that hazard.
type Sink struct {
	ch chan Event
}

func NewSink(buffer int) *Sink {
	return &Sink{ch: make(chan Event, buffer)}
}

func (s *Sink) Emit(ctx context.Context, e Event) error {
	select {
	case s.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) Events() <-chan Event {
	return s.ch
}

func (s *Sink) Close() {
	close(s.ch)
}
