// Options for configuring Manager instances.
package core

import (
	"log/slog"

	"github.com/comalice/fedsync/internal/primitives"
)

// Option applies configuration to a Manager.
type Option func(*Manager)

// WithFederate names the federate owning the manager, used in logs,
// published transitions and checkpoints.
func WithFederate(name string) Option {
	return func(m *Manager) {
		m.federate = name
	}
}

// WithRunID tags snapshots with the identifier of the current run.
func WithRunID(id string) Option {
	return func(m *Manager) {
		m.runID = id
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithTerminator sets the fatal error path. Defaults to
// primitives.ExitTerminator.
func WithTerminator(t primitives.Terminator) Option {
	return func(m *Manager) {
		m.terminate = t
	}
}

// WithWaitConfig sets the poll cadences of the blocking waits.
func WithWaitConfig(c primitives.WaitConfig) Option {
	return func(m *Manager) {
		m.waitCfg = c
	}
}

// WithShutdown sets the host shutdown flag consulted by every wait.
func WithShutdown(s primitives.ShutdownChecker) Option {
	return func(m *Manager) {
		m.shutdown = s
	}
}

// WithPersister configures checkpoint storage.
func WithPersister(p Persister) Option {
	return func(m *Manager) {
		m.persister = p
	}
}

// WithPublisher configures a sink for point state changes.
func WithPublisher(pb Publisher) Option {
	return func(m *Manager) {
		m.publisher = pb
	}
}
