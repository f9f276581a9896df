package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/comalice/fedsync/internal/federation"
	"github.com/comalice/fedsync/internal/primitives"
)

// Gateway callbacks. The federation invokes these; each takes the list lock
// only for the state change it makes.

func (m *Manager) RegistrationSucceeded(label string) {
	if err := m.MarkRegistered(label); errors.Is(err, primitives.ErrNotFound) {
		m.logger.Warn("registration confirmed for unknown sync point", slog.String("label", label))
	}
}

func (m *Manager) RegistrationFailed(label string, reason federation.FailureReason) {
	if reason == federation.ReasonLabelNotUnique {
		m.logger.Debug("sync point already registered by the federation", slog.String("label", label))
		m.RegistrationSucceeded(label)
		return
	}

	l, err := m.lookup(label)
	if err != nil {
		m.logger.Warn("registration failed for unknown sync point",
			slog.String("label", label), slog.String("reason", reason.String()))
		return
	}
	_ = l.update(label, func(p *primitives.Point) error {
		p.State = primitives.StateError
		return nil
	})
	_ = m.fail(fmt.Errorf("registration of %q failed: %s: %w", label, reason, primitives.ErrProtocol))
}

func (m *Manager) Announced(label string, tag []byte) {
	l, err := m.lookup(label)
	if err != nil {
		m.logger.Debug("announced sync point not added locally, achieving it", slog.String("label", label))
		l = m.addUnrecognized(label)
	}

	t, _ := time.ParseDuration(string(tag))
	err = l.update(label, func(p *primitives.Point) error {
		if p.Time == 0 && t != 0 {
			p.Time = t
		}
		// nothing waits on auto-achieved points, so a new round reuses them
		if l.policy.AutoAchieve() && p.State == primitives.StateSynchronized {
			p.State = primitives.StateKnown
		}
		return announce(p)
	})
	if err != nil {
		_ = m.fail(err)
		return
	}

	if l.policy.AutoAchieve() {
		if _, err := m.Achieve(context.Background(), label); err != nil {
			m.logger.Warn("auto achieve", slog.String("label", label), slog.Any("err", err))
		}
	}
}

func (m *Manager) Synchronized(label string) {
	if err := m.MarkSynchronized(label); errors.Is(err, primitives.ErrNotFound) {
		m.logger.Warn("synchronization for unknown sync point", slog.String("label", label))
	}
}
