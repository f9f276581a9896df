// Package builder offers a fluent way to declare federate and federation
// configurations in Go code instead of YAML.
package builder

import (
	"time"

	"github.com/comalice/fedsync/internal/primitives"
)

// Option configures a federate.
type Option func(*primitives.FederateConfig)

// ListOption configures a synchronization list.
type ListOption func(*primitives.ListConfig)

// WorkerOption configures a worker thread.
type WorkerOption func(*primitives.WorkerConfig)

// New creates a federate configuration. The main cycle defaults to one
// second.
func New(name string, opts ...Option) primitives.FederateConfig {
	c := primitives.FederateConfig{
		Name:    name,
		Threads: primitives.ThreadConfig{MainCycle: time.Second},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Federation bundles federates into a federation configuration.
func Federation(name string, ticks int, tickRate time.Duration, federates ...primitives.FederateConfig) primitives.FederationConfig {
	return primitives.FederationConfig{
		Name:      name,
		Ticks:     ticks,
		TickRate:  tickRate,
		Federates: federates,
	}
}

// List adds a synchronization list.
func List(name string, opts ...ListOption) Option {
	return func(c *primitives.FederateConfig) {
		l := primitives.ListConfig{Name: name}
		for _, opt := range opts {
			opt(&l)
		}
		c.Lists = append(c.Lists, l)
	}
}

// Policy sets the list policy by name.
func Policy(name string) ListOption {
	return func(l *primitives.ListConfig) { l.Policy = name }
}

// Registers makes the federate register the list's points.
func Registers() ListOption {
	return func(l *primitives.ListConfig) { l.Register = true }
}

// AtShutdown achieves the list in the shutdown round instead of at startup.
func AtShutdown() ListOption {
	return func(l *primitives.ListConfig) { l.Phase = primitives.PhaseShutdown }
}

// Points adds untimed points.
func Points(labels ...string) ListOption {
	return func(l *primitives.ListConfig) {
		for _, label := range labels {
			l.Points = append(l.Points, primitives.PointConfig{Label: label})
		}
	}
}

// TimedPoint adds a point due at t and switches the list to the timed policy.
func TimedPoint(label string, t time.Duration) ListOption {
	return func(l *primitives.ListConfig) {
		l.Policy = primitives.PolicyTimed
		l.Points = append(l.Points, primitives.PointConfig{Label: label, Time: t})
	}
}

// MainCycle sets the main thread data cycle.
func MainCycle(d time.Duration) Option {
	return func(c *primitives.FederateConfig) { c.Threads.MainCycle = d }
}

// Resolution sets the base time unit of every cycle.
func Resolution(d time.Duration) Option {
	return func(c *primitives.FederateConfig) { c.Threads.Resolution = d }
}

// Worker declares a worker thread.
func Worker(id int, cycle time.Duration, opts ...WorkerOption) Option {
	return func(c *primitives.FederateConfig) {
		w := primitives.WorkerConfig{ID: id, Cycle: cycle}
		for _, opt := range opts {
			opt(&w)
		}
		c.Threads.Workers = append(c.Threads.Workers, w)
	}
}

// AsyncMustFinish runs the worker as an async must-finish job.
func AsyncMustFinish() WorkerOption {
	return func(w *primitives.WorkerConfig) { w.AsyncMustFinish = true }
}

// Object declares a shared object touched by the given threads.
func Object(name string, threads ...int) Option {
	return func(c *primitives.FederateConfig) {
		c.Threads.Objects = append(c.Threads.Objects, primitives.SharedObject{Name: name, Threads: threads})
	}
}

// Disable excludes threads from the barrier.
func Disable(ids ...int) Option {
	return func(c *primitives.FederateConfig) {
		c.Threads.Disabled = append(c.Threads.Disabled, ids...)
	}
}

// Wait sets the poll cadences.
func Wait(w primitives.WaitConfig) Option {
	return func(c *primitives.FederateConfig) { c.Wait = w }
}

// Checkpoint stores snapshots in dir using format ("json" or "yaml").
func Checkpoint(dir, format string) Option {
	return func(c *primitives.FederateConfig) {
		c.Checkpoint = primitives.CheckpointConfig{Dir: dir, Format: format}
	}
}
