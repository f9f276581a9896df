package primitives

import (
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"
)

// List policy names accepted in configuration.
const (
	PolicyStandard = "standard"
	PolicyTimed    = "timed"
)

// Phases of a federate run in which a standard list is achieved.
const (
	PhaseStartup  = "startup"
	PhaseShutdown = "shutdown"
)

// FederationConfig describes a set of federates run together in one process.
type FederationConfig struct {
	Name      string           `json:"name" yaml:"name"`
	Ticks     int              `json:"ticks,omitempty" yaml:"ticks,omitempty"`
	TickRate  time.Duration    `json:"tick_rate,omitempty" yaml:"tick_rate,omitempty"`
	Federates []FederateConfig `json:"federates" yaml:"federates"`
}

// FederateConfig is the setup of one federate.
type FederateConfig struct {
	Name       string           `json:"name" yaml:"name"`
	Lists      []ListConfig     `json:"lists,omitempty" yaml:"lists,omitempty"`
	Threads    ThreadConfig     `json:"threads" yaml:"threads"`
	Wait       WaitConfig       `json:"wait,omitempty" yaml:"wait,omitempty"`
	Checkpoint CheckpointConfig `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
}

// ListConfig declares a named synchronization list.
type ListConfig struct {
	Name   string `json:"name" yaml:"name"`
	Policy string `json:"policy,omitempty" yaml:"policy,omitempty"`
	// Register makes this federate register the points with the federation.
	// Federates that only wait on points leave it false.
	Register bool `json:"register,omitempty" yaml:"register,omitempty"`
	// Phase picks the round a standard list is achieved in, startup by
	// default. Timed lists are achieved during the run.
	Phase  string        `json:"phase,omitempty" yaml:"phase,omitempty"`
	Points []PointConfig `json:"points" yaml:"points"`
}

// PointConfig declares a synchronization point inside a list.
type PointConfig struct {
	Label string        `json:"label" yaml:"label"`
	Time  time.Duration `json:"time,omitempty" yaml:"time,omitempty"`
}

// ThreadConfig declares the main cycle and the worker threads of a federate.
type ThreadConfig struct {
	MainCycle time.Duration `json:"main_cycle" yaml:"main_cycle"`
	// Resolution is the base time unit every cycle must be a multiple of.
	Resolution time.Duration  `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Disabled   []int          `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Workers    []WorkerConfig `json:"workers,omitempty" yaml:"workers,omitempty"`
	Objects    []SharedObject `json:"objects,omitempty" yaml:"objects,omitempty"`
}

// WorkerConfig declares one worker thread and its data cycle.
type WorkerConfig struct {
	ID    int           `json:"id" yaml:"id"`
	Cycle time.Duration `json:"cycle" yaml:"cycle"`
	// AsyncMustFinish runs the worker as an async must-finish job whose
	// cycle is owned by the scheduler.
	AsyncMustFinish bool `json:"async_must_finish,omitempty" yaml:"async_must_finish,omitempty"`
}

// SharedObject is a block of federate data touched by one or more threads.
type SharedObject struct {
	Name    string `json:"name" yaml:"name"`
	Threads []int  `json:"threads" yaml:"threads"`
}

// References reports whether the object is touched by threadID.
func (o SharedObject) References(threadID int) bool {
	return slices.Contains(o.Threads, threadID)
}

// CheckpointConfig selects where manager snapshots are written.
type CheckpointConfig struct {
	Dir    string `json:"dir,omitempty" yaml:"dir,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// ThreadCount returns the number of threads the config implies:
// the main thread plus every worker or object thread ID.
func (c ThreadConfig) ThreadCount() int {
	highest := 0
	for _, w := range c.Workers {
		highest = max(highest, w.ID)
	}
	for _, o := range c.Objects {
		for _, id := range o.Threads {
			highest = max(highest, id)
		}
	}
	for _, id := range c.Disabled {
		highest = max(highest, id)
	}
	return highest + 1
}

// Worker returns the worker declared with id.
func (c ThreadConfig) Worker(id int) (WorkerConfig, bool) {
	for _, w := range c.Workers {
		if w.ID == id {
			return w, true
		}
	}
	return WorkerConfig{}, false
}

// Validate checks the federation and every federate, reporting all problems.
func (c *FederationConfig) Validate() error {
	var result *multierror.Error
	if c.Name == "" {
		result = multierror.Append(result, fmt.Errorf("federation name is required: %w", ErrConfig))
	}
	if c.Ticks < 0 {
		result = multierror.Append(result, fmt.Errorf("ticks %d is negative: %w", c.Ticks, ErrConfig))
	}
	if len(c.Federates) == 0 {
		result = multierror.Append(result, fmt.Errorf("federation %q has no federates: %w", c.Name, ErrConfig))
	}
	seen := make(map[string]bool)
	for i := range c.Federates {
		f := &c.Federates[i]
		if f.Name != "" && seen[f.Name] {
			result = multierror.Append(result, fmt.Errorf("duplicate federate %q: %w", f.Name, ErrConfig))
		}
		seen[f.Name] = true
		if err := f.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Validate checks a federate:
//   - non-empty name
//   - unique, non-empty list names with a known policy and phase
//   - labels unique across every list
//   - thread configuration (see ThreadConfig.Validate)
func (c *FederateConfig) Validate() error {
	var result *multierror.Error
	if c.Name == "" {
		result = multierror.Append(result, fmt.Errorf("federate name is required: %w", ErrConfig))
	}

	lists := make(map[string]bool)
	labels := make(map[string]string)
	for _, l := range c.Lists {
		if l.Name == "" {
			result = multierror.Append(result, fmt.Errorf("federate %q: list name is required: %w", c.Name, ErrConfig))
		} else if lists[l.Name] {
			result = multierror.Append(result, fmt.Errorf("federate %q: duplicate list %q: %w", c.Name, l.Name, ErrConfig))
		}
		lists[l.Name] = true

		switch l.Policy {
		case "", PolicyStandard, PolicyTimed:
		default:
			result = multierror.Append(result, fmt.Errorf("federate %q: list %q: unknown policy %q: %w", c.Name, l.Name, l.Policy, ErrConfig))
		}
		switch l.Phase {
		case "", PhaseStartup, PhaseShutdown:
		default:
			result = multierror.Append(result, fmt.Errorf("federate %q: list %q: unknown phase %q: %w", c.Name, l.Name, l.Phase, ErrConfig))
		}

		for _, p := range l.Points {
			if p.Label == "" {
				result = multierror.Append(result, fmt.Errorf("federate %q: list %q: empty label: %w", c.Name, l.Name, ErrConfig))
				continue
			}
			if owner, dup := labels[p.Label]; dup {
				result = multierror.Append(result, fmt.Errorf("federate %q: label %q in list %q already in list %q: %w", c.Name, p.Label, l.Name, owner, ErrConfig))
				continue
			}
			labels[p.Label] = l.Name
		}
	}

	if err := c.Threads.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("federate %q: %w", c.Name, err))
	}

	switch c.Checkpoint.Format {
	case "", "yaml", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("federate %q: unknown checkpoint format %q: %w", c.Name, c.Checkpoint.Format, ErrConfig))
	}
	return result.ErrorOrNil()
}

// Validate checks the harmonic-rate rules:
//   - main cycle positive and a multiple of the resolution
//   - thread 0 never disabled, worker IDs positive and unique
//   - worker cycles are integer multiples of the main cycle
//   - a worker slower than main is referenced by at least one object
//   - each object's worker threads share one cycle
func (c ThreadConfig) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format+": %w", append(args, ErrConfig)...))
	}

	if c.MainCycle <= 0 {
		fail("main cycle %s must be positive", c.MainCycle)
		return result.ErrorOrNil()
	}
	if c.Resolution > 0 && c.MainCycle%c.Resolution != 0 {
		fail("main cycle %s is not a multiple of resolution %s", c.MainCycle, c.Resolution)
	}
	for _, id := range c.Disabled {
		if id == 0 {
			fail("main thread 0 cannot be disabled")
		} else if id < 0 {
			fail("disabled thread %d is negative", id)
		}
	}

	cycles := map[int]time.Duration{0: c.MainCycle}
	for _, w := range c.Workers {
		switch {
		case w.ID <= 0:
			fail("worker id %d must be positive", w.ID)
			continue
		case cycles[w.ID] != 0:
			fail("duplicate worker %d", w.ID)
			continue
		case w.Cycle < c.MainCycle:
			fail("worker %d cycle %s is shorter than main cycle %s", w.ID, w.Cycle, c.MainCycle)
		case w.Cycle%c.MainCycle != 0:
			fail("worker %d cycle %s is not an integer multiple of main cycle %s", w.ID, w.Cycle, c.MainCycle)
		case c.Resolution > 0 && w.Cycle%c.Resolution != 0:
			fail("worker %d cycle %s is not a multiple of resolution %s", w.ID, w.Cycle, c.Resolution)
		}
		cycles[w.ID] = w.Cycle

		if w.Cycle != c.MainCycle && !slices.ContainsFunc(c.Objects, func(o SharedObject) bool { return o.References(w.ID) }) {
			fail("worker %d runs at %s but no shared object names it", w.ID, w.Cycle)
		}
	}

	names := make(map[string]bool)
	for _, o := range c.Objects {
		if o.Name == "" {
			fail("shared object name is required")
		} else if names[o.Name] {
			fail("duplicate shared object %q", o.Name)
		}
		names[o.Name] = true

		var cycle time.Duration
		for _, id := range o.Threads {
			if id < 0 {
				fail("object %q: thread %d is negative", o.Name, id)
				continue
			}
			// the main thread exchanges every object each tick
			if id == 0 || slices.Contains(c.Disabled, id) {
				continue
			}
			tc, ok := cycles[id]
			if !ok {
				fail("object %q: thread %d is not a declared worker", o.Name, id)
				continue
			}
			if cycle != 0 && tc != cycle {
				fail("object %q: thread %d cycle %s conflicts with %s", o.Name, id, tc, cycle)
			}
			cycle = tc
		}
	}
	return result.ErrorOrNil()
}
