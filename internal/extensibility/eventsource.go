// Package extensibility holds decorators and adapters around the federation
// interfaces: asynchronous callback delivery, gateway logging, periodic
// status reports.
package extensibility

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/comalice/fedsync/internal/federation"
)

// CallbackPump implements federation.Callbacks by queueing every callback
// and delivering it to a sink on one goroutine, in arrival order. It decouples
// the sink from the goroutine the federation calls back on, the way a real
// federation delivers callbacks on its own thread.
//
// The queue is unbounded so a sink that calls back into the federation from
// a callback never blocks on its own pump. Callbacks queue until a sink is
// attached, which lets the pump join a federation before the sink exists.
type CallbackPump struct {
	logger *slog.Logger

	mu      sync.Mutex
	sink    federation.Callbacks
	pending []func(federation.Callbacks)
	stopped bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

var _ federation.Callbacks = (*CallbackPump)(nil)

// NewCallbackPump starts a pump delivering to sink. sink may be nil and
// attached later.
func NewCallbackPump(sink federation.Callbacks, logger *slog.Logger) *CallbackPump {
	if logger == nil {
		logger = slog.Default()
	}
	p := &CallbackPump{
		sink:   sink,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *CallbackPump) run() {
	defer close(p.done)
	for range p.wake {
		p.mu.Lock()
		sink, stopped := p.sink, p.stopped
		if sink == nil && !stopped {
			p.mu.Unlock()
			continue
		}
		batch := p.pending
		p.pending = nil
		p.mu.Unlock()

		if sink != nil {
			for _, fn := range batch {
				fn(sink)
			}
		}
		if stopped {
			return
		}
	}
}

// Attach sets the sink and delivers what queued before it.
func (p *CallbackPump) Attach(sink federation.Callbacks) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
	p.signal()
}

func (p *CallbackPump) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *CallbackPump) enqueue(what, label string, fn func(federation.Callbacks)) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.logger.Debug("callback after pump stopped", slog.String("callback", what), slog.String("label", label))
		return
	}
	p.pending = append(p.pending, fn)
	p.mu.Unlock()
	p.signal()
}

func (p *CallbackPump) RegistrationSucceeded(label string) {
	p.enqueue("registration-succeeded", label, func(cb federation.Callbacks) {
		cb.RegistrationSucceeded(label)
	})
}

func (p *CallbackPump) RegistrationFailed(label string, reason federation.FailureReason) {
	p.enqueue("registration-failed", label, func(cb federation.Callbacks) {
		cb.RegistrationFailed(label, reason)
	})
}

func (p *CallbackPump) Announced(label string, tag []byte) {
	tag = append([]byte(nil), tag...)
	p.enqueue("announced", label, func(cb federation.Callbacks) {
		cb.Announced(label, tag)
	})
}

func (p *CallbackPump) Synchronized(label string) {
	p.enqueue("synchronized", label, func(cb federation.Callbacks) {
		cb.Synchronized(label)
	})
}

// Drain blocks until every callback queued before the call was delivered.
func (p *CallbackPump) Drain(ctx context.Context) error {
	reached := make(chan struct{})
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.pending = append(p.pending, func(federation.Callbacks) { close(reached) })
	p.mu.Unlock()
	p.signal()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-reached:
		return nil
	}
}

// Stop delivers what is queued, then stops the pump. Later callbacks are
// dropped, as is everything queued when no sink was ever attached.
func (p *CallbackPump) Stop() {
	p.once.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		p.signal()
	})
	<-p.done
}

// Heartbeat calls a report function at a fixed interval until stopped.
type Heartbeat struct {
	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewHeartbeat starts calling report every d.
func NewHeartbeat(d time.Duration, report func()) *Heartbeat {
	h := &Heartbeat{
		ticker: time.NewTicker(d),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.run(report)
	return h
}

func (h *Heartbeat) run(report func()) {
	defer close(h.done)
	for {
		select {
		case <-h.ticker.C:
			report()
		case <-h.stop:
			h.ticker.Stop()
			return
		}
	}
}

// Stop stops the ticker and waits for an in-flight report to return.
func (h *Heartbeat) Stop() {
	h.once.Do(func() { close(h.stop) })
	<-h.done
}
