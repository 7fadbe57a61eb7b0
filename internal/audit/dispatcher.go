package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int

	// DropIfFull discards events instead of waiting when the buffer is full.
	DropIfFull bool

	// BlockTimeout bounds the wait when DropIfFull is false. Zero waits until
	// the caller's context is done.
	BlockTimeout time.Duration

	// Logger receives sink panics. Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// Dispatcher relays events to a sink from a single worker goroutine so that
// slow sinks never sit on the request path.
type Dispatcher struct {
	cfg     Config
	sink    Sink
	logger  logrus.FieldLogger
	events  chan Event
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher returns nil when auditing is disabled; a nil *Dispatcher
// accepts every call.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		events: make(chan Event, cfg.BufferSize),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for event := range d.events {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.dropped.Add(1)
			d.logger.WithFields(logrus.Fields{
				"audit": event.EventType,
				"panic": r,
			}).Error("audit sink panicked")
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event for delivery. Events emitted after Close are discarded.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.events <- event:
		return
	default:
	}
	if d.cfg.DropIfFull {
		d.dropped.Add(1)
		return
	}

	var timeout <-chan time.Time
	if d.cfg.BlockTimeout > 0 {
		timer := time.NewTimer(d.cfg.BlockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case d.events <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-timeout:
		d.dropped.Add(1)
	}
}

// Close stops accepting events and waits until the queued ones are delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()
	d.wg.Wait()
}

// Dropped reports events lost to a full buffer, a timed-out wait or a
// panicking sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
