package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comalice/fedsync/internal/core"
	"github.com/comalice/fedsync/internal/federation"
	"github.com/comalice/fedsync/internal/primitives"
	"github.com/comalice/fedsync/testutil"
)

type transitions struct {
	mu  sync.Mutex
	all []core.Transition
}

func (r *transitions) Publish(_ context.Context, t core.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, t)
	return nil
}

func (r *transitions) Close() error { return nil }

// of returns the "FROM>TO" sequence recorded for label.
func (r *transitions) of(label string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var seq []string
	for _, t := range r.all {
		if t.Label == label {
			seq = append(seq, t.From.String()+">"+t.To.String())
		}
	}
	return seq
}

type fixture struct {
	m     *core.Manager
	gw    *testutil.Gateway
	term  *primitives.RecordingTerminator
	trans *transitions
}

func newFixture(t *testing.T, opts ...core.Option) fixture {
	t.Helper()
	f := fixture{
		gw:    testutil.NewGateway(),
		term:  primitives.NewRecordingTerminator(8),
		trans: &transitions{},
	}
	opts = append([]core.Option{
		core.WithFederate("lander"),
		core.WithTerminator(f.term.Terminate),
		core.WithPublisher(f.trans),
		core.WithWaitConfig(primitives.WaitConfig{
			SleepInterval:           time.Millisecond,
			MembershipCheckInterval: 5 * time.Millisecond,
			StatusInterval:          time.Hour,
		}),
	}, opts...)
	f.m = core.NewManager(f.gw, opts...)
	return f
}

func (f fixture) fatal(t *testing.T) []error {
	t.Helper()
	var errs []error
	for {
		select {
		case err := <-f.term.Errors():
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

func TestAddDuplicateLabelFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.m.Add("init", "A"))
	require.NoError(t, f.m.MarkAnnounced("A"))

	err := f.m.Add("shutdown", "A")
	require.ErrorIs(t, err, primitives.ErrConfig)
	assert.ErrorContains(t, err, `label already in list "init"`)

	err = f.m.Add("init", "A")
	require.ErrorIs(t, err, primitives.ErrConfig)

	assert.False(t, f.m.ContainsList("shutdown"))
	assert.Equal(t, primitives.StateAnnounced, f.m.State("A"))
	assert.Len(t, f.fatal(t), 2)
}

func TestAddListDuplicate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.m.AddList("mode", core.Timed))
	require.ErrorIs(t, f.m.AddList("mode", core.Standard), primitives.ErrConfig)

	l, ok := f.m.List("mode")
	require.True(t, ok)
	assert.Equal(t, core.Timed, l.Policy())
}

func TestInitListRound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.m.Add("init", "A"))
	require.NoError(t, f.m.Add("init", "B"))

	ok, err := f.m.RegisterAll(ctx, "init")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"register:A", "register:B"}, f.gw.Calls())

	f.m.RegistrationSucceeded("A")
	f.m.Announced("A", nil)
	assert.True(t, f.m.IsAnnounced("A"))

	ok, err = f.m.Achieve(ctx, "A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, f.m.IsAchieved("A"))

	f.m.Synchronized("A")
	assert.True(t, f.m.IsSynchronized("A"))

	require.NoError(t, f.m.WaitForSynchronized(ctx, "A"))
	assert.Equal(t, primitives.StateKnown, f.m.State("A"))
	assert.True(t, f.m.IsRegistered("A"))

	assert.Equal(t, []string{
		"UNKNOWN>REGISTERED",
		"REGISTERED>ANNOUNCED",
		"ANNOUNCED>ACHIEVED",
		"ACHIEVED>SYNCHRONIZED",
		"SYNCHRONIZED>KNOWN",
	}, f.trans.of("A"))

	assert.Equal(t, primitives.StateRegistered, f.m.State("B"))
	assert.Equal(t, []string{"UNKNOWN>REGISTERED"}, f.trans.of("B"))
	assert.Empty(t, f.fatal(t))
}

func TestKnownPointStartsNextRound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.gw.OnAchieve(f.m.Synchronized)
	require.NoError(t, f.m.Add("loop", "tick"))

	for range 3 {
		f.m.Announced("tick", nil)
		ok, err := f.m.Achieve(ctx, "tick")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, f.m.WaitForSynchronized(ctx, "tick"))
		require.Equal(t, primitives.StateKnown, f.m.State("tick"))
	}
	assert.Empty(t, f.fatal(t))
}

func TestRegisterKnownPointOpensNextRound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.gw.OnAchieve(f.m.Synchronized)
	require.NoError(t, f.m.Add("loop", "tick"))

	for range 2 {
		ok, err := f.m.Register(ctx, "tick")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, primitives.StateRegistered, f.m.State("tick"))

		f.m.Announced("tick", nil)
		require.NoError(t, f.m.AchieveAndWait(ctx, "tick"))
		require.Equal(t, primitives.StateKnown, f.m.State("tick"))
	}
	assert.Equal(t, []string{"register:tick", "achieve:tick", "register:tick", "achieve:tick"}, f.gw.Calls())

	// another federate registered the label for the next round first
	f.m.RegistrationFailed("tick", federation.ReasonLabelNotUnique)
	assert.Equal(t, primitives.StateRegistered, f.m.State("tick"))
	assert.Empty(t, f.fatal(t))
}

func TestRegisterFailedDuringCall(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.m.Add("init", "A"))
	f.gw.OnRegister(func(label string) {
		f.m.RegistrationFailed(label, federation.ReasonSetMemberNotJoined)
	})

	ok, err := f.m.Register(context.Background(), "A")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, primitives.StateError, f.m.State("A"))
	assert.Len(t, f.fatal(t), 1)
}

func TestWaitForAnnounced(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.m.Add("init", "A"))

	done := make(chan error, 1)
	go func() { done <- f.m.WaitForAnnounced(context.Background(), "A") }()

	select {
	case err := <-done:
		t.Fatalf("returned before announcement: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, f.m.MarkAnnounced("A"))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("did not return after announcement")
	}
}

func TestWaitForAnnouncedInvalidState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.m.Add("init", "A"))
	f.m.Announced("A", nil)
	_, err := f.m.Achieve(ctx, "A")
	require.NoError(t, err)

	err = f.m.WaitForAnnounced(ctx, "A")
	require.ErrorIs(t, err, primitives.ErrProtocol)
	assert.Len(t, f.fatal(t), 1)
}

func TestWaitForAllAnnounced(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.m.Add("init", "A"))
	require.NoError(t, f.m.Add("init", "B"))

	go func() {
		time.Sleep(5 * time.Millisecond)
		f.m.Announced("B", nil)
		f.m.Announced("A", nil)
	}()

	require.NoError(t, f.m.WaitForAllAnnounced(context.Background(), "init"))
	assert.True(t, f.m.IsAnnounced("A"))
	assert.True(t, f.m.IsAnnounced("B"))
}

func TestAchieveTransientResults(t *testing.T) {
	t.Parallel()

	tcs := map[string]federation.Result{
		"not announced":       federation.ResultNotAnnounced,
		"not a member":        federation.ResultNotMember,
		"save in progress":    federation.ResultSaveInProgress,
		"restore in progress": federation.ResultRestoreInProgress,
		"not connected":       federation.ResultNotConnected,
		"internal error":      federation.ResultInternalError,
	}
	for name, result := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			f := newFixture(t)
			require.NoError(t, f.m.Add("init", "A"))
			require.NoError(t, f.m.MarkAnnounced("A"))
			f.gw.FailAchieve("A", result)

			ok, err := f.m.Achieve(ctx, "A")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, primitives.StateAnnounced, f.m.State("A"))
			assert.Equal(t, []string{"UNKNOWN>ANNOUNCED"}, f.trans.of("A"))

			f.gw.FailAchieve("A", federation.ResultOK)
			ok, err = f.m.Achieve(ctx, "A")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Empty(t, f.fatal(t))
		})
	}
}

func TestAchieveRequiresAnnounced(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.m.Add("init", "A"))
	require.NoError(t, f.m.MarkRegistered("A"))

	ok, err := f.m.Achieve(ctx, "A")
	assert.False(t, ok)
	require.ErrorIs(t, err, primitives.ErrProtocol)
	assert.Empty(t, f.gw.Calls())
	assert.Len(t, f.fatal(t), 1)

	_, err = f.m.Achieve(ctx, "missing")
	require.ErrorIs(t, err, primitives.ErrNotFound)
	assert.Empty(t, f.fatal(t))
}

func TestSynchronizedBeforeAchieveReturns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.gw.OnAchieve(f.m.Synchronized)
	require.NoError(t, f.m.Add("init", "A"))
	f.m.Announced("A", nil)

	ok, err := f.m.Achieve(ctx, "A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, primitives.StateSynchronized, f.m.State("A"))
	assert.Equal(t, []string{
		"UNKNOWN>ANNOUNCED",
		"ANNOUNCED>ACHIEVED",
		"ACHIEVED>SYNCHRONIZED",
	}, f.trans.of("A"))
}

func TestSynchronizeUnachievedIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.m.Add("init", "A"))
	f.m.Announced("A", nil)

	err := f.m.MarkSynchronized("A")
	require.ErrorIs(t, err, primitives.ErrProtocol)
	assert.Len(t, f.fatal(t), 1)
}

func TestRegistrationResults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.m.Add("init", "A"))
	require.NoError(t, f.m.Add("init", "B"))
	require.NoError(t, f.m.Add("init", "C"))

	f.m.RegistrationFailed("A", federation.ReasonLabelNotUnique)
	assert.Equal(t, primitives.StateRegistered, f.m.State("A"))
	assert.Empty(t, f.fatal(t))

	f.gw.FailRegister("B", federation.ResultNotConnected)
	ok, err := f.m.Register(ctx, "B")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, primitives.StateUnknown, f.m.State("B"))

	ok, err = f.m.RegisterAll(ctx, "init")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"register:B", "register:B", "register:C"}, f.gw.Calls())

	f.m.RegistrationFailed("C", federation.ReasonSetMemberNotJoined)
	assert.Equal(t, primitives.StateError, f.m.State("C"))
	errs := f.fatal(t)
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "set-member-not-joined")

	_, err = f.m.Register(ctx, "C")
	require.ErrorIs(t, err, primitives.ErrProtocol)
}

func TestRegisterForSendsSet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.m.AddTimed("mode", "freeze", 2*time.Second))

	ok, err := f.m.RegisterFor(context.Background(), "freeze", []string{"lander", "rover"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"register:freeze[lander rover]"}, f.gw.Calls())
}

func TestUnrecognizedLabelAutoAchieved(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.m.Announced("stranger", []byte("1.5s"))

	assert.True(t, f.m.ContainsList(core.UnrecognizedListName))
	assert.Equal(t, primitives.StateAchieved, f.m.State("stranger"))
	assert.Equal(t, []string{"achieve:stranger"}, f.gw.Calls())
	assert.Equal(t, "unrecognized/stranger=ACHIEVED@1.5s", f.m.LabelString("stranger"))

	f.m.Synchronized("stranger")
	f.m.Announced("stranger", nil)
	assert.Equal(t, primitives.StateAchieved, f.m.State("stranger"))
	assert.Empty(t, f.fatal(t))
}

func TestTimedList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.m.AddList("mode", core.Timed))
	require.NoError(t, f.m.AddTimed("mode", "early", time.Second))
	require.NoError(t, f.m.AddTimed("mode", "late", 5*time.Second))

	assert.False(t, f.m.CheckDue("mode", 500*time.Millisecond))
	assert.True(t, f.m.CheckDue("mode", time.Second))
	assert.False(t, f.m.CheckDue("missing", time.Hour))

	f.m.Announced("early", nil)
	f.m.Announced("late", nil)

	ok, err := f.m.AchieveDue(ctx, "mode", 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, f.m.IsAchieved("early"))
	assert.True(t, f.m.IsAnnounced("late"))
	assert.True(t, f.m.CheckDue("mode", 5*time.Second))

	ok, err = f.m.AchieveAll(ctx, "mode")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, f.m.IsAchieved("late"))
	assert.False(t, f.m.CheckDue("mode", time.Hour))
}

func TestClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.m.Add("init", "A"))

	require.ErrorIs(t, f.m.Clear("A"), core.ErrNotClearable)
	require.ErrorIs(t, f.m.Clear("nope"), primitives.ErrNotFound)

	f.m.Announced("A", nil)
	_, err := f.m.Achieve(ctx, "A")
	require.NoError(t, err)
	require.NoError(t, f.m.Clear("A"))
	assert.False(t, f.m.Contains("A"))

	require.NoError(t, f.m.Add("shutdown", "A"))
	assert.Empty(t, f.fatal(t))

	f.m.Reset()
	assert.Empty(t, f.m.ListNames())
	assert.False(t, f.m.Contains("A"))
}

func TestWaitMembershipLost(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.m.Add("init", "A"))
	f.gw.SetMember(false)

	err := f.m.WaitForAnnounced(context.Background(), "A")
	require.ErrorIs(t, err, primitives.ErrMembershipLost)
	assert.Len(t, f.fatal(t), 1)
}

func TestWaitShutdown(t *testing.T) {
	t.Parallel()

	sched := testutil.NewScheduler(1)
	sched.RequestShutdown()
	f := newFixture(t, core.WithShutdown(sched))
	require.NoError(t, f.m.Add("init", "A"))
	f.m.Announced("A", nil)
	_, err := f.m.Achieve(context.Background(), "A")
	require.NoError(t, err)

	err = f.m.WaitForSynchronized(context.Background(), "A")
	require.ErrorIs(t, err, primitives.ErrShutdown)
	assert.Len(t, f.fatal(t), 1)
}

func TestAchieveAndWait(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.m.Add("shutdown", "stop"))
	f.gw.OnAchieve(func(label string) {
		go func() {
			time.Sleep(5 * time.Millisecond)
			f.m.Synchronized(label)
		}()
	})
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.m.Announced("stop", nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.m.AchieveAndWait(ctx, "stop"))
	assert.Equal(t, primitives.StateKnown, f.m.State("stop"))
	assert.Equal(t, []string{"achieve:stop"}, f.gw.Calls())
}

func TestAchieveAndWaitRetriesTransient(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.m.Add("shutdown", "stop"))
	f.m.Announced("stop", nil)
	f.gw.FailAchieve("stop", federation.ResultSaveInProgress)
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.gw.OnAchieve(f.m.Synchronized)
		f.gw.FailAchieve("stop", federation.ResultOK)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.m.AchieveAndWait(ctx, "stop"))
	assert.Greater(t, len(f.gw.Calls()), 1)
	assert.Equal(t, primitives.StateKnown, f.m.State("stop"))
}

func TestSnapshotRestore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.m.Add("init", "A"))
	require.NoError(t, f.m.AddList("mode", core.Timed))
	require.NoError(t, f.m.AddTimed("mode", "freeze", 3*time.Second))
	f.m.Announced("A", nil)

	snap := f.m.Snapshot()
	assert.Equal(t, "lander", snap.Federate)
	require.Len(t, snap.Lists, 2)
	assert.Equal(t, "timed", snap.Lists[1].Policy)

	f.m.Reset()
	require.NoError(t, f.m.Restore(snap))
	assert.Equal(t, []string{"init", "mode"}, f.m.ListNames())
	assert.True(t, f.m.IsAnnounced("A"))
	assert.Equal(t, primitives.StateUnknown, f.m.State("freeze"))
	assert.True(t, f.m.CheckDue("mode", 3*time.Second))

	snap.Lists[1].Points = append(snap.Lists[1].Points, primitives.NewPoint("A"))
	require.ErrorIs(t, f.m.Restore(snap), primitives.ErrConfig)
	assert.Len(t, f.fatal(t), 1)

	require.ErrorIs(t, f.m.Checkpoint(context.Background()), core.ErrNoPersister)
}

func TestConfigure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.m.Configure([]primitives.ListConfig{
		{Name: "init", Points: []primitives.PointConfig{{Label: "A"}}},
		{Name: "mode", Policy: "timed", Points: []primitives.PointConfig{{Label: "freeze", Time: time.Second}}},
	}))
	assert.Equal(t, []string{"init", "mode"}, f.m.ListNames())

	err := f.m.Configure([]primitives.ListConfig{{Name: "x", Policy: "odd"}})
	require.ErrorIs(t, err, primitives.ErrConfig)
}

func TestString(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	assert.Equal(t, `sync points of federate "lander": none`, f.m.String())

	require.NoError(t, f.m.Add("init", "A"))
	require.NoError(t, f.m.AddList("mode", core.Timed))
	assert.Equal(t,
		"sync points of federate \"lander\":\n  init [standard]: A=UNKNOWN\n  mode [timed]: (empty)",
		f.m.String())
	assert.Equal(t, "init/A=UNKNOWN", f.m.LabelString("A"))
	assert.Equal(t, "B: not found", f.m.LabelString("B"))
}
