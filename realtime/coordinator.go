package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/comalice/fedsync/internal/federation"
	"github.com/comalice/fedsync/internal/primitives"
)

// Coordinator is the multi-rate barrier between the main thread, which owns
// the federation exchange, and the worker threads that read and write the
// shared objects at slower harmonic rates.
//
// Every exported method takes the single coordinator lock only to sample or
// change thread states; blocking waits poll and never hold it while sleeping.
type Coordinator struct {
	mu sync.Mutex

	sched      federation.Scheduler
	logger     *slog.Logger
	terminate  primitives.Terminator
	waitCfg    primitives.WaitConfig
	member     primitives.MembershipChecker
	resolution time.Duration
	disabled   []int

	waiter      *primitives.Waiter
	initialized bool
	threadCount int
	mainCycle   time.Duration
	states      []primitives.ThreadState
	threadCycle []time.Duration
	objects     []primitives.SharedObject
	objectCycle []time.Duration
	anyWorker   bool
}

// CoordinatorOption applies configuration to a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithTerminator sets the fatal error path.
func WithTerminator(t primitives.Terminator) CoordinatorOption {
	return func(c *Coordinator) {
		c.terminate = t
	}
}

// WithWaitConfig sets the poll cadences of the barrier waits.
func WithWaitConfig(cfg primitives.WaitConfig) CoordinatorOption {
	return func(c *Coordinator) {
		c.waitCfg = cfg
	}
}

// WithMembership sets the check consulted while a barrier wait is blocked,
// usually the federation gateway.
func WithMembership(m primitives.MembershipChecker) CoordinatorOption {
	return func(c *Coordinator) {
		c.member = m
	}
}

// WithResolution sets the base time unit every cycle must be a multiple of.
func WithResolution(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.resolution = d
	}
}

// WithDisabledThreads excludes thread IDs from the barrier. They are checked
// by Initialize.
func WithDisabledThreads(ids ...int) CoordinatorOption {
	return func(c *Coordinator) {
		c.disabled = append(c.disabled, ids...)
	}
}

// NewCoordinator builds an uninitialized coordinator over sched.
func NewCoordinator(sched federation.Scheduler, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{sched: sched}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.terminate == nil {
		c.terminate = primitives.ExitTerminator(c.logger)
	}
	c.waiter = primitives.NewWaiter(c.waitCfg, c.member, sched, c.logger)
	return c
}

func (c *Coordinator) fail(err error) error {
	if err != nil && primitives.Fatal(err) {
		c.terminate(err)
	}
	return err
}

func configErr(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, primitives.ErrConfig)...)
}

func (c *Coordinator) checkResolution(what string, d time.Duration) error {
	if c.resolution > 0 && d%c.resolution != 0 {
		return configErr("%s cycle %s is not a multiple of resolution %s", what, d, c.resolution)
	}
	if tic := c.sched.TimeTic(); tic > 0 && d%tic != 0 {
		return configErr("%s cycle %s is not representable at scheduler tic %s", what, d, tic)
	}
	return nil
}

// Initialize sizes the thread table from the scheduler and records the main
// cycle and the shared objects. It may be called once.
func (c *Coordinator) Initialize(mainCycle time.Duration, objects []primitives.SharedObject) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail(c.initializeLocked(mainCycle, objects))
}

func (c *Coordinator) initializeLocked(mainCycle time.Duration, objects []primitives.SharedObject) error {
	if c.initialized {
		return configErr("thread coordinator already initialized")
	}
	if mainCycle <= 0 {
		return configErr("main cycle %s must be positive", mainCycle)
	}
	if err := c.checkResolution("main thread", mainCycle); err != nil {
		return err
	}

	n := max(c.sched.NumThreads(), 1)
	states := make([]primitives.ThreadState, n)
	for _, id := range c.disabled {
		switch {
		case id == 0:
			return configErr("main thread 0 cannot be disabled")
		case id < 0 || id >= n:
			return configErr("disabled thread %d out of range [1, %d)", id, n)
		}
		states[id] = primitives.ThreadDisabled
	}
	states[0] = primitives.ThreadReset

	for _, obj := range objects {
		for _, id := range obj.Threads {
			if id < 0 || id >= n {
				return configErr("object %q names thread %d outside [0, %d)", obj.Name, id, n)
			}
		}
	}

	c.threadCount = n
	c.mainCycle = mainCycle
	c.states = states
	c.threadCycle = make([]time.Duration, n)
	c.threadCycle[0] = mainCycle
	c.objects = append([]primitives.SharedObject(nil), objects...)
	c.objectCycle = make([]time.Duration, len(objects))
	c.initialized = true

	c.logger.Debug("thread coordinator initialized",
		slog.Int("threads", n),
		slog.Duration("main_cycle", mainCycle),
		slog.Int("objects", len(objects)))
	return nil
}

// Associate binds threadID to the barrier at the given data cycle. Disabled
// threads are ignored.
func (c *Coordinator) Associate(threadID int, cycle time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail(c.associateLocked(threadID, cycle))
}

func (c *Coordinator) associateLocked(id int, cycle time.Duration) error {
	if !c.initialized {
		return configErr("thread %d associated before initialization", id)
	}
	if n := max(c.sched.NumThreads(), 1); n != c.threadCount {
		return configErr("scheduler thread count changed from %d to %d", c.threadCount, n)
	}
	if id < 0 || id >= c.threadCount {
		return configErr("thread %d out of range [0, %d)", id, c.threadCount)
	}
	if c.states[id] == primitives.ThreadDisabled {
		c.logger.Debug("skipping association of disabled thread", slog.Int("thread", id))
		return nil
	}

	if id == 0 {
		if cycle != c.mainCycle {
			return configErr("main thread cycle %s differs from main cycle %s", cycle, c.mainCycle)
		}
		return nil
	}

	if c.states[id] != primitives.ThreadNotAssociated {
		return configErr("thread %d already associated", id)
	}
	if cycle < c.mainCycle {
		return configErr("thread %d cycle %s is shorter than main cycle %s", id, cycle, c.mainCycle)
	}
	if cycle%c.mainCycle != 0 {
		return configErr("thread %d cycle %s is not an integer multiple of main cycle %s", id, cycle, c.mainCycle)
	}
	if err := c.checkResolution(fmt.Sprintf("thread %d", id), cycle); err != nil {
		return err
	}

	switch pt := c.sched.ProcessType(id); pt {
	case primitives.ProcessScheduled:
	case primitives.ProcessAsyncMustFinish:
		if amf := c.sched.AMFCycle(id); amf != cycle {
			return configErr("thread %d cycle %s does not match its async must-finish cycle %s", id, cycle, amf)
		}
	default:
		return configErr("thread %d has unsupported process type %s", id, pt)
	}

	referenced := false
	for i, obj := range c.objects {
		if !obj.References(id) {
			continue
		}
		referenced = true
		if c.objectCycle[i] != 0 && c.objectCycle[i] != cycle {
			return configErr("object %q: thread %d cycle %s conflicts with %s", obj.Name, id, cycle, c.objectCycle[i])
		}
	}
	if cycle != c.mainCycle && !referenced {
		return configErr("thread %d runs at %s but no shared object names it", id, cycle)
	}

	for i, obj := range c.objects {
		if obj.References(id) {
			c.objectCycle[i] = cycle
		}
	}
	c.threadCycle[id] = cycle
	c.states[id] = primitives.ThreadReset
	c.anyWorker = true

	c.logger.Debug("thread associated", slog.Int("thread", id), slog.Duration("cycle", cycle))
	return nil
}

// Verify checks that every non-disabled thread a shared object names has
// been associated. All problems are reported together.
func (c *Coordinator) Verify() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return c.fail(configErr("thread coordinator verified before initialization"))
	}
	c.logger.Debug("thread associations\n" + c.summaryLocked())

	var result *multierror.Error
	for _, obj := range c.objects {
		for _, id := range obj.Threads {
			if c.states[id] == primitives.ThreadNotAssociated {
				result = multierror.Append(result,
					configErr("object %q names thread %d but that thread was never associated", obj.Name, id))
			}
		}
	}
	return c.fail(result.ErrorOrNil())
}

// AnnounceDataAvailable is called by the main thread once federation data
// has been received. Workers starting a cycle at the current time become
// ready to receive, then the main thread does.
func (c *Coordinator) AnnounceDataAvailable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.anyWorker {
		return
	}

	t := c.sched.SimTime()
	for id := 1; id < c.threadCount; id++ {
		if c.states[id].Idle() {
			continue
		}
		if c.onReceiveLocked(id, t) {
			c.states[id] = primitives.ThreadReadyToReceive
		}
	}
	c.states[0] = primitives.ThreadReadyToReceive
}

// AnnounceDataSent is called by the main thread once all outgoing data has
// been handed to the federation. Workers blocked in WaitToSendData proceed.
func (c *Coordinator) AnnounceDataSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.anyWorker {
		c.states[0] = primitives.ThreadReadyToSend
	}
}

// WaitToReceiveData blocks the calling thread until the main thread has
// announced incoming data. Disabled threads return at once.
func (c *Coordinator) WaitToReceiveData(ctx context.Context) error {
	id := c.sched.ProcessID(ctx)

	c.mu.Lock()
	skip := !c.anyWorker || c.stateLocked(id) == primitives.ThreadDisabled
	c.mu.Unlock()
	if skip {
		return nil
	}

	err := c.waiter.Wait(ctx, fmt.Sprintf("thread %d to receive data", id), func() (bool, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.states[0] == primitives.ThreadReadyToReceive, nil
	})
	return c.fail(err)
}

// WaitToSendData blocks until outgoing data may be handed off. The main
// thread waits for every worker ending its cycle at the current time; a
// worker marks itself ready to send and waits for the main thread.
func (c *Coordinator) WaitToSendData(ctx context.Context) error {
	c.mu.Lock()
	anyWorker := c.anyWorker
	c.mu.Unlock()
	if !anyWorker {
		return nil
	}

	if id := c.sched.ProcessID(ctx); id != 0 {
		return c.waitToSendWorker(ctx, id)
	}
	return c.waitToSendMain(ctx)
}

func (c *Coordinator) waitToSendMain(ctx context.Context) error {
	t := c.sched.SimTime()
	next := 1
	err := c.waiter.Wait(ctx, "worker threads to send data", func() (bool, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		for ; next < c.threadCount; next++ {
			s := c.states[next]
			if s != primitives.ThreadReadyToSend && !s.Idle() && c.onSendLocked(next, t) {
				return false, nil
			}
		}
		return true, nil
	})
	return c.fail(err)
}

func (c *Coordinator) waitToSendWorker(ctx context.Context, id int) error {
	c.mu.Lock()
	if id < 0 || id >= c.threadCount {
		c.mu.Unlock()
		return c.fail(configErr("thread %d out of range [0, %d)", id, c.threadCount))
	}
	if c.states[id] == primitives.ThreadDisabled {
		c.mu.Unlock()
		return nil
	}
	c.states[id] = primitives.ThreadReadyToSend
	c.mu.Unlock()

	err := c.waiter.Wait(ctx, fmt.Sprintf("thread %d to send data", id), func() (bool, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.states[0] == primitives.ThreadReadyToSend, nil
	})
	return c.fail(err)
}

func (c *Coordinator) stateLocked(id int) primitives.ThreadState {
	if id < 0 || id >= len(c.states) {
		return primitives.ThreadNotAssociated
	}
	return c.states[id]
}

// ThreadState returns the barrier state of a thread.
func (c *Coordinator) ThreadState(id int) primitives.ThreadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(id)
}

// ThreadCount returns the size of the thread table.
func (c *Coordinator) ThreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadCount
}

// MainCycle returns the main thread data cycle.
func (c *Coordinator) MainCycle() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mainCycle
}

// AnyWorker reports whether at least one worker thread is associated.
func (c *Coordinator) AnyWorker() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anyWorker
}

// Summary renders the association table.
func (c *Coordinator) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summaryLocked()
}

func (c *Coordinator) summaryLocked() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %-16s %-12s %s\n", "THREAD", "STATE", "CYCLE", "OBJECTS")
	for id := range c.threadCount {
		var names []string
		for _, obj := range c.objects {
			if obj.References(id) {
				names = append(names, obj.Name)
			}
		}
		cycle := "-"
		if c.threadCycle[id] > 0 {
			cycle = c.threadCycle[id].String()
		}
		fmt.Fprintf(&b, "%-8d %-16s %-12s %s\n", id, c.states[id], cycle, strings.Join(names, ","))
	}
	return strings.TrimRight(b.String(), "\n")
}
