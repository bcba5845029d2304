package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher forwards audit events to a sink from a single background goroutine, so the
// sink never sees concurrent calls.
//
// With DropIfFull set, routine events are discarded when the buffer is full and counted
// by Dropped. Security-significant events (refresh reuse) are never discarded for lack
// of space: Emit waits for a free slot, giving up only when ctx ends or the dispatcher
// closes.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	stop       chan struct{}
	dropIfFull bool

	worker   sync.WaitGroup
	stopOnce sync.Once
	stopped  atomic.Bool
	dropped  atomic.Uint64
}

// NewDispatcher starts the delivery goroutine. A disabled config yields a nil
// dispatcher, on which every method is a no-op.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
	}
	d.worker.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.worker.Done()

	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain flushes whatever is still buffered once stop is closed.
func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// Emit queues event for delivery. Events emitted after Close are discarded.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.stopped.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull && !event.SecuritySignificant() {
		d.offer(event)
		return
	}
	if !d.enqueue(ctx, event) && event.SecuritySignificant() {
		d.dropped.Add(1)
	}
}

// offer enqueues without waiting.
func (d *Dispatcher) offer(event Event) {
	select {
	case d.queue <- event:
	case <-d.stop:
	default:
		d.dropped.Add(1)
	}
}

// enqueue waits for buffer space. It reports false when ctx ended or the dispatcher
// closed first.
func (d *Dispatcher) enqueue(ctx context.Context, event Event) bool {
	select {
	case d.queue <- event:
		return true
	case <-ctx.Done():
		return false
	case <-d.stop:
		return false
	}
}

// Close stops accepting events, drains the buffer, and waits for the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.stop)
		d.worker.Wait()
	})
}

// Dropped returns how many events never reached the buffer: routine events discarded
// under DropIfFull, and security-significant events abandoned because ctx ended first.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
