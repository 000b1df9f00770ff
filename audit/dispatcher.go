package audit

import (
	"context"
	"log"
	"sync"
)

// Dispatcher decouples event writes from the auth response path. Record
// enqueues synchronously into a bounded queue drained by one background
// goroutine; when the queue is full it degrades to a direct blocking write
// on the caller's goroutine instead of dropping. Auditability of auth
// failures is a security requirement, not best-effort telemetry.
//
// When the sink fails, the event is re-written to the fallback sink (local
// JSON log by default) so the record is never silently lost.
type Dispatcher struct {
	sink     Sink
	fallback Sink
	ch       chan Event
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewDispatcher starts a dispatcher draining into sink. fallback receives
// events the sink rejected; nil means stdlib log only.
func NewDispatcher(sink Sink, fallback Sink, buffer int) *Dispatcher {
	if sink == nil {
		sink = NoOpSink{}
	}
	if buffer <= 0 {
		buffer = 1
	}

	d := &Dispatcher{
		sink:     sink,
		fallback: fallback,
		ch:       make(chan Event, buffer),
		done:     make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.write(context.Background(), event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.write(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(ctx context.Context, event Event) {
	if err := d.sink.Write(ctx, event); err != nil {
		log.Printf("authcore/audit: sink write failed for %s event: %v", event.Action, err)
		if d.fallback != nil {
			if err := d.fallback.Write(ctx, event); err != nil {
				log.Printf("authcore/audit: fallback write failed: %v", err)
			}
		}
	}
}

// Record enqueues the event. Queue full means the background flusher is
// behind; the write then happens inline on the caller's goroutine.
func (d *Dispatcher) Record(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-d.done:
		d.write(ctx, event)
		return
	default:
	}

	select {
	case d.ch <- event:
	default:
		d.write(ctx, event)
	}
}

// Close drains the queue and stops the background goroutine. Events recorded
// after Close are written inline.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}
