package production

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/comalice/fedsync/internal/core"
)

// ChannelPublisher forwards point transitions to a Go channel. Publish never
// blocks: a full channel drops the transition and counts it.
type ChannelPublisher struct {
	mu      sync.RWMutex
	ch      chan<- core.Transition
	closed  bool
	dropped atomic.Uint64
}

// NewChannelPublisher creates a ChannelPublisher with the given output channel.
func NewChannelPublisher(ch chan<- core.Transition) *ChannelPublisher {
	return &ChannelPublisher{ch: ch}
}

func (p *ChannelPublisher) Publish(ctx context.Context, t core.Transition) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil
	}
	select {
	case p.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.dropped.Add(1)
		return nil
	}
}

// Dropped returns the number of transitions lost to backpressure.
func (p *ChannelPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close closes the output channel. Later publishes are ignored.
func (p *ChannelPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}

// LogPublisher writes every transition to a logger at debug level.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher. A nil logger uses slog.Default().
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, t core.Transition) error {
	p.logger.DebugContext(ctx, "sync point transition",
		slog.String("federate", t.Federate),
		slog.String("list", t.List),
		slog.String("label", t.Label),
		slog.String("from", t.From.String()),
		slog.String("to", t.To.String()))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// MultiPublisher fans transitions out to several publishers.
type MultiPublisher []core.Publisher

func (m MultiPublisher) Publish(ctx context.Context, t core.Transition) error {
	var result *multierror.Error
	for _, p := range m {
		if err := p.Publish(ctx, t); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m MultiPublisher) Close() error {
	var result *multierror.Error
	for _, p := range m {
		if err := p.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
