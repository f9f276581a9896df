package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/comalice/fedsync/internal/federation"
	"github.com/comalice/fedsync/internal/primitives"
)

// Job is the work a thread does in one of its data cycles. t is the
// simulation time at the start of the cycle.
type Job func(ctx context.Context, t time.Duration) error

// Worker declares a worker thread driven by the Runtime.
type Worker struct {
	ID    int
	Cycle time.Duration
	// Type defaults to primitives.ProcessScheduled.
	Type primitives.ProcessType
	Job  Job
}

// Config configures the tick runtime.
type Config struct {
	// TimeStep is the simulation time advanced per tick, normally the main
	// thread data cycle. Default 1s.
	TimeStep time.Duration
	// TickRate paces ticks against the wall clock. Zero runs ticks back to
	// back.
	TickRate time.Duration
	// TimeTic is the scheduler resolution reported to the coordinator.
	TimeTic time.Duration
	// Ticks bounds the run. Zero runs until Stop or context cancellation.
	Ticks int
	// Threads overrides the thread count, for tables with disabled IDs
	// above the highest worker.
	Threads int
	Logger  *slog.Logger
}

// Runtime plays the host scheduler: it runs the main job every tick and
// each worker job at the start of its cycle, in lockstep with a Coordinator.
// Runtime implements federation.Scheduler.
type Runtime struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	main    Job
	workers map[int]*workerSlot
	coord   *Coordinator
	started bool

	simTime  atomic.Int64
	tickNum  atomic.Uint64
	shutdown atomic.Bool

	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	stopped sync.Once
}

type workerSlot struct {
	Worker
	start    chan time.Duration
	received chan struct{}
	// idle holds a token while the worker is between cycles.
	idle chan struct{}
}

var _ federation.Scheduler = (*Runtime)(nil)

// NewRuntime creates a runtime with defaults filled in.
func NewRuntime(cfg Config) *Runtime {
	if cfg.TimeStep <= 0 {
		cfg.TimeStep = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runtime{
		cfg:     cfg,
		logger:  cfg.Logger,
		workers: make(map[int]*workerSlot),
		done:    make(chan struct{}),
	}
}

// SetMain sets the main thread job.
func (rt *Runtime) SetMain(job Job) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.main = job
}

// AddWorker declares a worker thread. It must be called before Start.
func (rt *Runtime) AddWorker(w Worker) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.started {
		return fmt.Errorf("worker %d added after start: %w", w.ID, primitives.ErrConfig)
	}
	if w.ID <= 0 {
		return fmt.Errorf("worker ID %d must be positive: %w", w.ID, primitives.ErrConfig)
	}
	if _, ok := rt.workers[w.ID]; ok {
		return fmt.Errorf("worker %d declared twice: %w", w.ID, primitives.ErrConfig)
	}
	if w.Cycle <= 0 {
		w.Cycle = rt.cfg.TimeStep
	}
	if w.Type == primitives.ProcessUnsupported {
		w.Type = primitives.ProcessScheduled
	}
	slot := &workerSlot{
		Worker:   w,
		start:    make(chan time.Duration, 1),
		received: make(chan struct{}),
		idle:     make(chan struct{}, 1),
	}
	slot.idle <- struct{}{}
	rt.workers[w.ID] = slot
	return nil
}

// Attach binds the coordinator whose barrier every tick goes through.
func (rt *Runtime) Attach(c *Coordinator) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.coord = c
}

// Start runs the tick loop in the background.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	if rt.started {
		rt.mu.Unlock()
		return errors.New("runtime already started")
	}
	rt.started = true
	ctx, rt.cancel = context.WithCancel(ctx)
	rt.mu.Unlock()

	go func() {
		defer close(rt.done)
		rt.runErr = rt.run(ctx)
	}()
	return nil
}

// Run starts the runtime and blocks until it finishes.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.Start(ctx); err != nil {
		return err
	}
	return rt.Wait()
}

// Wait blocks until the tick loop exits and returns its error. Cancellation
// through Stop is not an error.
func (rt *Runtime) Wait() error {
	<-rt.done
	if errors.Is(rt.runErr, context.Canceled) {
		return nil
	}
	return rt.runErr
}

// Stop cancels the tick loop and waits for every thread to exit.
func (rt *Runtime) Stop() error {
	rt.stopped.Do(func() {
		rt.mu.Lock()
		cancel := rt.cancel
		rt.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
	rt.mu.Lock()
	started := rt.started
	rt.mu.Unlock()
	if !started {
		return nil
	}
	return rt.Wait()
}

// RequestShutdown raises the host shutdown flag. The tick loop stops before
// its next tick and barrier waits observing it fail, both with
// primitives.ErrShutdown.
func (rt *Runtime) RequestShutdown() {
	rt.shutdown.Store(true)
}

// TickNumber returns the number of completed ticks.
func (rt *Runtime) TickNumber() uint64 {
	return rt.tickNum.Load()
}

func (rt *Runtime) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	rt.mu.Lock()
	main, coord := rt.main, rt.coord
	workers := make([]*workerSlot, 0, len(rt.workers))
	for _, w := range rt.workers {
		workers = append(workers, w)
	}
	rt.mu.Unlock()
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })

	for _, w := range workers {
		g.Go(func() error {
			return rt.workerLoop(ctx, coord, w)
		})
	}
	g.Go(func() error {
		return rt.mainLoop(ctx, coord, main, workers)
	})
	return g.Wait()
}

func (rt *Runtime) mainLoop(ctx context.Context, coord *Coordinator, main Job, workers []*workerSlot) error {
	// the worker goroutines only exit on cancellation
	defer rt.cancel()

	ctx = federation.WithThread(ctx, 0)
	var ticker *time.Ticker
	if rt.cfg.TickRate > 0 {
		ticker = time.NewTicker(rt.cfg.TickRate)
		defer ticker.Stop()
	}

	for tick := 0; rt.cfg.Ticks == 0 || tick < rt.cfg.Ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rt.shutdown.Load() {
			return fmt.Errorf("tick %d: %w", tick, primitives.ErrShutdown)
		}
		t := time.Duration(tick) * rt.cfg.TimeStep
		rt.simTime.Store(int64(t))

		if err := rt.step(ctx, coord, main, workers, t); err != nil {
			return fmt.Errorf("tick %d at %s: %w", tick, t, err)
		}
		rt.tickNum.Add(1)

		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
	rt.logger.Debug("runtime finished", slog.Uint64("ticks", rt.tickNum.Load()))
	return nil
}

func (rt *Runtime) workerLoop(ctx context.Context, coord *Coordinator, w *workerSlot) error {
	ctx = federation.WithThread(ctx, w.ID)
	for {
		var t time.Duration
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t = <-w.start:
		}

		if coord != nil {
			if err := coord.WaitToReceiveData(ctx); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w.received <- struct{}{}:
		}

		if w.Job != nil {
			if err := w.Job(ctx, t); err != nil {
				return fmt.Errorf("worker %d job at %s: %w", w.ID, t, err)
			}
		}
		if coord != nil {
			if err := coord.WaitToSendData(ctx); err != nil {
				return err
			}
		}
		w.idle <- struct{}{}
	}
}

// Scheduler view.

func (rt *Runtime) NumThreads() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	n := rt.cfg.Threads
	for id := range rt.workers {
		n = max(n, id+1)
	}
	return max(n, 1)
}

func (rt *Runtime) ProcessType(id int) primitives.ProcessType {
	if id == 0 {
		return primitives.ProcessMain
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if w, ok := rt.workers[id]; ok {
		return w.Type
	}
	return primitives.ProcessUnsupported
}

func (rt *Runtime) AMFCycle(id int) time.Duration {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if w, ok := rt.workers[id]; ok && w.Type == primitives.ProcessAsyncMustFinish {
		return w.Cycle
	}
	return 0
}

func (rt *Runtime) TimeTic() time.Duration {
	return rt.cfg.TimeTic
}

func (rt *Runtime) SimTime() time.Duration {
	return time.Duration(rt.simTime.Load())
}

func (rt *Runtime) ProcessID(ctx context.Context) int {
	return federation.ThreadFromContext(ctx)
}

func (rt *Runtime) ShutdownRequested() bool {
	return rt.shutdown.Load()
}
