package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// Sink receives security events. Implementations must be safe for
// concurrent use; a Write error must leave already-written records intact.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// NoOpSink discards events. Useful in tests that assert flow behavior only.
type NoOpSink struct{}

func (NoOpSink) Write(context.Context, Event) error { return nil }

// JSONWriterSink writes one JSON object per line. It is the local fallback
// when the primary sink fails and a reasonable primary for single-node
// deployments.
type JSONWriterSink struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewJSONWriterSink creates a JSONWriterSink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Write(_ context.Context, event Event) error {
	if s == nil || s.writer == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	_, err = s.writer.Write([]byte("\n"))
	return err
}

// ChannelSink forwards events into a buffered channel, for consumers that
// stream events elsewhere (SIEM forwarders, test assertions).
type ChannelSink struct {
	events chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Write(ctx context.Context, event Event) error {
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the receive side of the channel.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// Tee fans an event out to every sink, returning the first error after all
// sinks were attempted.
func Tee(sinks ...Sink) Sink {
	return teeSink(sinks)
}

type teeSink []Sink

func (t teeSink) Write(ctx context.Context, event Event) error {
	var first error
	for _, sink := range t {
		if sink == nil {
			continue
		}
		if err := sink.Write(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
