package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// collectSink records every event it receives, optionally failing first.
type collectSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (s *collectSink) Write(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversToSink(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(sink, nil, 16)

	for i := 0; i < 5; i++ {
		d.Record(context.Background(), New(ActionLoginSuccess, SeverityLow))
	}
	d.Close()

	if got := sink.count(); got != 5 {
		t.Fatalf("expected 5 events delivered, got %d", got)
	}
}

func TestDispatcherFullQueueWritesInline(t *testing.T) {
	// A sink that blocks until released, so the queue backs up.
	release := make(chan struct{})
	var mu sync.Mutex
	var delivered int
	blocking := sinkFunc(func(_ context.Context, _ Event) error {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	d := NewDispatcher(blocking, nil, 1)

	// First event occupies the flusher, second fills the buffer. The third
	// must not be dropped even though nothing is draining.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			d.Record(context.Background(), New(ActionLoginFailed, SeverityMedium))
		}
		close(done)
	}()

	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Record deadlocked on a full queue")
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if delivered != 3 {
		t.Fatalf("expected all 3 events delivered, got %d", delivered)
	}
}

type sinkFunc func(ctx context.Context, event Event) error

func (f sinkFunc) Write(ctx context.Context, event Event) error { return f(ctx, event) }

func TestDispatcherFallbackOnSinkFailure(t *testing.T) {
	var buf bytes.Buffer
	fallback := NewJSONWriterSink(&buf)
	d := NewDispatcher(&collectSink{fail: true}, fallback, 4)

	event := New(ActionAccountLocked, SeverityCritical)
	event.IdentityID = "u1"
	d.Record(context.Background(), event)
	d.Close()

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("fallback sink received nothing")
	}
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("fallback output is not JSON: %v", err)
	}
	if got.ID != event.ID || got.Action != ActionAccountLocked {
		t.Fatalf("unexpected fallback record: %+v", got)
	}
}

func TestDispatcherCloseDrains(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(sink, nil, 64)

	for i := 0; i < 50; i++ {
		d.Record(context.Background(), New(ActionTokenRefreshed, SeverityLow))
	}
	d.Close()

	if got := sink.count(); got != 50 {
		t.Fatalf("Close lost events: %d of 50 delivered", got)
	}

	// Records after Close still land, written inline.
	d.Record(context.Background(), New(ActionSessionRevoked, SeverityMedium))
	if got := sink.count(); got != 51 {
		t.Fatalf("post-Close record not written inline: %d", got)
	}
}

func TestTeeFansOut(t *testing.T) {
	a := &collectSink{}
	b := &collectSink{}
	tee := Tee(a, nil, b)

	if err := tee.Write(context.Background(), New(ActionLoginSuccess, SeverityLow)); err != nil {
		t.Fatalf("Tee write failed: %v", err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("tee did not reach all sinks: %d, %d", a.count(), b.count())
	}

	// A failing member does not stop the others.
	tee = Tee(&collectSink{fail: true}, b)
	if err := tee.Write(context.Background(), New(ActionLoginSuccess, SeverityLow)); err == nil {
		t.Fatal("expected first error surfaced")
	}
	if b.count() != 2 {
		t.Fatalf("tee skipped later sink after failure: %d", b.count())
	}
}
