package fedsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/comalice/fedsync/internal/core"
	"github.com/comalice/fedsync/internal/extensibility"
	"github.com/comalice/fedsync/internal/federation"
	"github.com/comalice/fedsync/internal/primitives"
	"github.com/comalice/fedsync/internal/production"
	"github.com/comalice/fedsync/realtime"
)

// Option configures a Federate.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	terminate  primitives.Terminator
	publisher  core.Publisher
	mainJob    realtime.Job
	workerJobs map[int]realtime.Job
	ticks      int
	tickRate   time.Duration
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTerminator sets the fatal error path shared by the manager and the
// coordinator. Defaults to primitives.ExitTerminator.
func WithTerminator(t primitives.Terminator) Option {
	return func(o *options) { o.terminate = t }
}

// WithPublisher receives every point state change of the federate.
func WithPublisher(p core.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithMainJob sets the work the main thread does each tick, after the timed
// points due at that tick are synchronized.
func WithMainJob(job realtime.Job) Option {
	return func(o *options) { o.mainJob = job }
}

// WithWorkerJob sets the job of worker id.
func WithWorkerJob(id int, job realtime.Job) Option {
	return func(o *options) {
		if o.workerJobs == nil {
			o.workerJobs = make(map[int]realtime.Job)
		}
		o.workerJobs[id] = job
	}
}

// WithTicks bounds the run. Zero runs until the context is cancelled.
func WithTicks(n int) Option {
	return func(o *options) { o.ticks = n }
}

// WithTickRate paces ticks against the wall clock.
func WithTickRate(d time.Duration) Option {
	return func(o *options) { o.tickRate = d }
}

// Federate is one participant of a federation: its synchronization points,
// its threads, and the runtime driving them.
type Federate struct {
	cfg    primitives.FederateConfig
	runID  string
	logger *slog.Logger
	opts   options

	pump      *extensibility.CallbackPump
	amb       *federation.Ambassador
	manager   *core.Manager
	coord     *realtime.Coordinator
	runtime   *realtime.Runtime
	persister core.Persister
	waiter    *primitives.Waiter

	closeOnce sync.Once
	closeErr  error
}

// NewFederate validates cfg, joins fed and sets up the manager, the runtime
// and the thread coordinator. Every federate of a run should be created
// before any of them runs, so registrations reach all of them.
//
// The federate owns the publisher and closes it on Close, or right away if
// construction fails.
func NewFederate(cfg primitives.FederateConfig, fed *federation.Loopback, opts ...Option) (_ *Federate, err error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	defer func() {
		if err != nil && o.publisher != nil {
			_ = o.publisher.Close()
		}
	}()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	f := &Federate{
		cfg:   cfg,
		runID: uuid.NewString(),
		opts:  o,
	}
	f.logger = o.logger.With(slog.String("federate", cfg.Name), slog.String("run", f.runID))
	if o.terminate == nil {
		o.terminate = primitives.ExitTerminator(f.logger)
		f.opts.terminate = o.terminate
	}

	persister, err := production.NewPersister(cfg.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("federate %q: %w", cfg.Name, err)
	}
	f.persister = persister

	f.pump = extensibility.NewCallbackPump(nil, f.logger)
	f.amb, err = fed.Join(cfg.Name, f.pump)
	if err != nil {
		f.pump.Stop()
		return nil, err
	}
	gw := extensibility.NewLoggingGateway(f.amb, f.logger)

	f.runtime = realtime.NewRuntime(realtime.Config{
		TimeStep: cfg.Threads.MainCycle,
		TickRate: o.tickRate,
		TimeTic:  cfg.Threads.Resolution,
		Ticks:    o.ticks,
		Threads:  cfg.Threads.ThreadCount(),
		Logger:   f.logger,
	})

	mopts := []core.Option{
		core.WithFederate(cfg.Name),
		core.WithRunID(f.runID),
		core.WithLogger(o.logger),
		core.WithTerminator(o.terminate),
		core.WithWaitConfig(cfg.Wait),
		core.WithShutdown(f.runtime),
	}
	if persister != nil {
		mopts = append(mopts, core.WithPersister(persister))
	}
	if o.publisher != nil {
		mopts = append(mopts, core.WithPublisher(o.publisher))
	}
	f.manager = core.NewManager(gw, mopts...)
	f.waiter = primitives.NewWaiter(cfg.Wait, gw, f.runtime, f.logger)

	if err := f.setup(gw); err != nil {
		f.amb.Resign()
		f.pump.Stop()
		return nil, err
	}
	return f, nil
}

func (f *Federate) setup(gw primitives.MembershipChecker) error {
	if err := f.manager.Configure(f.cfg.Lists); err != nil {
		return err
	}
	f.pump.Attach(f.manager)

	threads := f.cfg.Threads
	for _, w := range threads.Workers {
		if slices.Contains(threads.Disabled, w.ID) {
			continue
		}
		pt := primitives.ProcessScheduled
		if w.AsyncMustFinish {
			pt = primitives.ProcessAsyncMustFinish
		}
		err := f.runtime.AddWorker(realtime.Worker{ID: w.ID, Cycle: w.Cycle, Type: pt, Job: f.opts.workerJobs[w.ID]})
		if err != nil {
			return err
		}
	}

	f.coord = realtime.NewCoordinator(f.runtime,
		realtime.WithLogger(f.logger),
		realtime.WithTerminator(f.opts.terminate),
		realtime.WithWaitConfig(f.cfg.Wait),
		realtime.WithMembership(gw),
		realtime.WithResolution(threads.Resolution),
		realtime.WithDisabledThreads(threads.Disabled...))
	if err := f.coord.Initialize(threads.MainCycle, threads.Objects); err != nil {
		return err
	}
	for _, w := range threads.Workers {
		if err := f.coord.Associate(w.ID, w.Cycle); err != nil {
			return err
		}
	}
	if err := f.coord.Verify(); err != nil {
		return err
	}

	f.runtime.Attach(f.coord)
	f.runtime.SetMain(f.step)
	return nil
}

func (f *Federate) Name() string                       { return f.cfg.Name }
func (f *Federate) RunID() string                      { return f.runID }
func (f *Federate) Manager() *core.Manager             { return f.manager }
func (f *Federate) Coordinator() *realtime.Coordinator { return f.coord }
func (f *Federate) Runtime() *realtime.Runtime         { return f.runtime }

// RequestShutdown tells the federate its host is shutting down. Pending
// waits and the tick loop fail with primitives.ErrShutdown, and the shutdown
// round is skipped.
func (f *Federate) RequestShutdown() {
	f.logger.Warn("host shutdown requested")
	f.runtime.RequestShutdown()
}

// Run executes the whole federate lifetime: startup round, ticks, shutdown
// round, checkpoint. The federate resigns from the federation on return.
func (f *Federate) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	start := time.Now()
	if err := f.Startup(ctx); err != nil {
		return fmt.Errorf("federate %q startup: %w", f.cfg.Name, err)
	}

	hb := extensibility.NewHeartbeat(f.waiter.Config().StatusInterval, func() {
		f.logger.Info("federate running",
			slog.Uint64("tick", f.runtime.TickNumber()),
			slog.Duration("sim_time", f.runtime.SimTime()))
		f.logger.Debug(f.manager.String())
	})
	err = f.runtime.Run(ctx)
	hb.Stop()
	if err != nil {
		return fmt.Errorf("federate %q: %w", f.cfg.Name, err)
	}
	if err := ctx.Err(); err != nil {
		f.logger.Info("federate interrupted", slog.Uint64("ticks", f.runtime.TickNumber()))
		return err
	}

	if err := f.Shutdown(ctx); err != nil {
		return fmt.Errorf("federate %q shutdown: %w", f.cfg.Name, err)
	}
	if f.persister != nil {
		if err := f.manager.Checkpoint(ctx); err != nil {
			return err
		}
	}
	f.logger.Info("federate finished",
		slog.Uint64("ticks", f.runtime.TickNumber()),
		slog.Duration("took", time.Since(start)))
	return nil
}

// Startup registers the lists this federate owns, waits for every point to
// be announced, and runs the startup round.
func (f *Federate) Startup(ctx context.Context) error {
	for _, lc := range f.cfg.Lists {
		if !lc.Register {
			continue
		}
		err := f.waiter.Wait(ctx, "registration of list "+lc.Name, func() (bool, error) {
			return f.manager.RegisterAll(ctx, lc.Name)
		})
		if err != nil {
			return err
		}
	}
	for _, lc := range f.cfg.Lists {
		if err := f.manager.WaitForAllAnnounced(ctx, lc.Name); err != nil {
			return err
		}
	}
	return f.round(ctx, primitives.PhaseStartup)
}

// Shutdown runs the shutdown round.
func (f *Federate) Shutdown(ctx context.Context) error {
	return f.round(ctx, primitives.PhaseShutdown)
}

func (f *Federate) round(ctx context.Context, phase string) error {
	for _, lc := range f.cfg.Lists {
		if lc.Policy == primitives.PolicyTimed || listPhase(lc) != phase {
			continue
		}
		err := f.waiter.Wait(ctx, "achievement of list "+lc.Name, func() (bool, error) {
			return f.manager.AchieveAll(ctx, lc.Name)
		})
		if err != nil {
			return err
		}
		if err := f.manager.WaitForAllSynchronized(ctx, lc.Name); err != nil {
			return err
		}
		f.logger.Info("sync list reached", slog.String("list", lc.Name), slog.String("phase", phase))
	}
	return nil
}

func listPhase(lc primitives.ListConfig) string {
	if lc.Phase == "" {
		return primitives.PhaseStartup
	}
	return lc.Phase
}

// step is the main thread job: synchronize the timed points due at t, then
// run the user job.
func (f *Federate) step(ctx context.Context, t time.Duration) error {
	for _, lc := range f.cfg.Lists {
		if lc.Policy != primitives.PolicyTimed || !f.manager.CheckDue(lc.Name, t) {
			continue
		}
		l, ok := f.manager.List(lc.Name)
		if !ok {
			continue
		}
		due := l.Select(func(p primitives.Point) bool {
			return p.State == primitives.StateAnnounced && l.Policy().Due(p, t)
		})
		for _, label := range due {
			if err := f.manager.AchieveAndWait(ctx, label); err != nil {
				return fmt.Errorf("timed point %q: %w", label, err)
			}
			f.logger.Info("timed sync point reached", slog.String("label", label), slog.Duration("sim_time", t))
		}
	}
	if f.opts.mainJob != nil {
		return f.opts.mainJob(ctx, t)
	}
	return nil
}

// Close resigns from the federation, stops callback delivery and closes the
// publisher. It is safe to call more than once.
func (f *Federate) Close() error {
	f.closeOnce.Do(func() {
		if err := f.runtime.Stop(); err != nil && !errors.Is(err, context.Canceled) {
			f.logger.Debug("runtime stopped with error", slog.Any("err", err))
		}
		f.amb.Resign()
		f.pump.Stop()
		if f.opts.publisher != nil {
			f.closeErr = f.opts.publisher.Close()
		}
	})
	return f.closeErr
}

func (f *Federate) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "federate %s (run %s)\n", f.cfg.Name, f.runID)
	b.WriteString(f.manager.String())
	b.WriteString("\n")
	b.WriteString(f.coord.Summary())
	return b.String()
}
