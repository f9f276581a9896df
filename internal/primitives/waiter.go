package primitives

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default wait cadences.
const (
	DefaultSleepInterval           = 100 * time.Microsecond
	DefaultMembershipCheckInterval = time.Second
	DefaultStatusInterval          = 10 * time.Second
)

// MembershipChecker reports whether the federate is still part of the
// federation execution.
type MembershipChecker interface {
	IsExecutionMember() bool
}

// ShutdownChecker reports whether the host asked the process to stop.
type ShutdownChecker interface {
	ShutdownRequested() bool
}

// WaitConfig holds the cadences of a blocking poll.
type WaitConfig struct {
	// SleepInterval is the pause between two samples of the awaited state.
	SleepInterval time.Duration `json:"sleep_interval,omitempty" yaml:"sleep_interval,omitempty"`
	// MembershipCheckInterval is how often execution membership is re-checked.
	MembershipCheckInterval time.Duration `json:"membership_check_interval,omitempty" yaml:"membership_check_interval,omitempty"`
	// StatusInterval is how often a waiting diagnostic is logged.
	StatusInterval time.Duration `json:"status_interval,omitempty" yaml:"status_interval,omitempty"`
}

// WithDefaults returns a copy with zero fields replaced by the defaults.
func (c WaitConfig) WithDefaults() WaitConfig {
	if c.SleepInterval <= 0 {
		c.SleepInterval = DefaultSleepInterval
	}
	if c.MembershipCheckInterval <= 0 {
		c.MembershipCheckInterval = DefaultMembershipCheckInterval
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	return c
}

// Waiter runs bounded busy-poll loops. The sampled condition is expected to
// take and release its own lock; Waiter never holds one while sleeping.
type Waiter struct {
	cfg      WaitConfig
	member   MembershipChecker
	shutdown ShutdownChecker
	logger   *slog.Logger
}

// NewWaiter builds a Waiter. member and shutdown may be nil.
func NewWaiter(cfg WaitConfig, member MembershipChecker, shutdown ShutdownChecker, logger *slog.Logger) *Waiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Waiter{
		cfg:      cfg.WithDefaults(),
		member:   member,
		shutdown: shutdown,
		logger:   logger,
	}
}

// Config returns the effective cadences.
func (w *Waiter) Config() WaitConfig {
	return w.cfg
}

// Wait samples done until it reports true or an error.
//
// A host shutdown request yields ErrShutdown and a lost membership yields
// ErrMembershipLost. Cancelling ctx returns the context error.
func (w *Waiter) Wait(ctx context.Context, what string, done func() (bool, error)) error {
	ok, err := done()
	if err != nil || ok {
		return err
	}

	start := time.Now()
	nextMembership := start.Add(w.cfg.MembershipCheckInterval)
	nextStatus := start.Add(w.cfg.StatusInterval)

	timer := time.NewTimer(w.cfg.SleepInterval)
	defer timer.Stop()

	for {
		if w.shutdown != nil && w.shutdown.ShutdownRequested() {
			return fmt.Errorf("waiting for %s: %w", what, ErrShutdown)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", what, ctx.Err())
		case <-timer.C:
		}
		timer.Reset(w.cfg.SleepInterval)

		ok, err := done()
		if err != nil || ok {
			return err
		}

		now := time.Now()
		if !now.Before(nextMembership) {
			if w.member != nil && !w.member.IsExecutionMember() {
				return fmt.Errorf("waiting for %s: %w", what, ErrMembershipLost)
			}
			nextMembership = now.Add(w.cfg.MembershipCheckInterval)
		}
		if !now.Before(nextStatus) {
			w.logger.Info("still waiting",
				slog.String("for", what),
				slog.Duration("elapsed", now.Sub(start)))
			nextStatus = now.Add(w.cfg.StatusInterval)
		}
	}
}
