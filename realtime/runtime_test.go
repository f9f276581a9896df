package realtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comalice/fedsync/internal/federation"
	"github.com/comalice/fedsync/internal/primitives"
	"github.com/comalice/fedsync/realtime"
)

type jobLog struct {
	mu    sync.Mutex
	times map[int][]time.Duration
}

func (l *jobLog) job(id int) realtime.Job {
	return func(ctx context.Context, t time.Duration) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if got := federation.ThreadFromContext(ctx); got != id {
			return errors.New("job ran with the wrong thread ID")
		}
		if l.times == nil {
			l.times = make(map[int][]time.Duration)
		}
		l.times[id] = append(l.times[id], t)
		return nil
	}
}

func (l *jobLog) of(id int) []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.times[id]
}

func seconds(s ...int) []time.Duration {
	out := make([]time.Duration, len(s))
	for i, v := range s {
		out[i] = time.Duration(v) * time.Second
	}
	return out
}

func TestRuntimeDrivesBarrier(t *testing.T) {
	t.Parallel()

	rt := realtime.NewRuntime(realtime.Config{TimeStep: time.Second, Ticks: 6})
	log := &jobLog{}
	require.NoError(t, rt.AddWorker(realtime.Worker{ID: 1, Cycle: 2 * time.Second, Job: log.job(1)}))
	require.NoError(t, rt.AddWorker(realtime.Worker{ID: 2, Cycle: 3 * time.Second, Job: log.job(2)}))
	rt.SetMain(log.job(0))

	term := primitives.NewRecordingTerminator(4)
	coord := realtime.NewCoordinator(rt,
		realtime.WithTerminator(term.Terminate),
		realtime.WithWaitConfig(fastWait))
	require.NoError(t, coord.Initialize(time.Second, []primitives.SharedObject{
		{Name: "lander", Threads: []int{0, 1}},
		{Name: "terrain", Threads: []int{2}},
	}))
	require.NoError(t, coord.Associate(1, 2*time.Second))
	require.NoError(t, coord.Associate(2, 3*time.Second))
	require.NoError(t, coord.Verify())
	rt.Attach(coord)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, rt.Run(ctx))

	assert.Equal(t, seconds(0, 1, 2, 3, 4, 5), log.of(0))
	assert.Equal(t, seconds(0, 2, 4), log.of(1))
	assert.Equal(t, seconds(0, 3), log.of(2))
	assert.Equal(t, uint64(6), rt.TickNumber())
	assert.Equal(t, 5*time.Second, rt.SimTime())
	assert.Empty(t, term.Errors())
}

func TestRuntimeWithoutCoordinator(t *testing.T) {
	t.Parallel()

	rt := realtime.NewRuntime(realtime.Config{TimeStep: time.Second, Ticks: 4})
	log := &jobLog{}
	require.NoError(t, rt.AddWorker(realtime.Worker{ID: 1, Cycle: 2 * time.Second, Job: log.job(1)}))
	rt.SetMain(log.job(0))

	require.NoError(t, rt.Run(context.Background()))
	assert.Equal(t, seconds(0, 1, 2, 3), log.of(0))
	assert.Equal(t, seconds(0, 2), log.of(1))
}

func TestRuntimeJobError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	rt := realtime.NewRuntime(realtime.Config{TimeStep: time.Second})
	rt.SetMain(func(_ context.Context, t time.Duration) error {
		if t == 2*time.Second {
			return boom
		}
		return nil
	})

	err := rt.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "tick 2 at 2s")
	assert.Equal(t, uint64(2), rt.TickNumber())
}

func TestRuntimeStop(t *testing.T) {
	t.Parallel()

	rt := realtime.NewRuntime(realtime.Config{TimeStep: time.Millisecond, TickRate: time.Millisecond})
	require.NoError(t, rt.AddWorker(realtime.Worker{ID: 1}))
	require.NoError(t, rt.Start(context.Background()))
	require.Error(t, rt.Start(context.Background()))

	require.Eventually(t, func() bool { return rt.TickNumber() > 3 }, 5*time.Second, time.Millisecond)
	require.NoError(t, rt.Stop())
	require.NoError(t, rt.Stop())

	err := rt.AddWorker(realtime.Worker{ID: 2})
	require.ErrorIs(t, err, primitives.ErrConfig)
}

func TestRuntimeShutdownRequested(t *testing.T) {
	t.Parallel()

	rt := realtime.NewRuntime(realtime.Config{TimeStep: time.Millisecond, TickRate: time.Millisecond})
	require.NoError(t, rt.AddWorker(realtime.Worker{ID: 1}))
	require.NoError(t, rt.Start(context.Background()))

	require.Eventually(t, func() bool { return rt.TickNumber() > 3 }, 5*time.Second, time.Millisecond)
	rt.RequestShutdown()
	require.ErrorIs(t, rt.Wait(), primitives.ErrShutdown)

	ticks := rt.TickNumber()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, ticks, rt.TickNumber())
}

func TestRuntimeSchedulerView(t *testing.T) {
	t.Parallel()

	rt := realtime.NewRuntime(realtime.Config{TimeStep: time.Second, TimeTic: time.Millisecond, Threads: 5})
	require.NoError(t, rt.AddWorker(realtime.Worker{ID: 1, Cycle: 2 * time.Second}))
	require.NoError(t, rt.AddWorker(realtime.Worker{ID: 2, Cycle: 4 * time.Second, Type: primitives.ProcessAsyncMustFinish}))

	tests := map[string]struct {
		err error
		w   realtime.Worker
	}{
		"duplicate":   {err: primitives.ErrConfig, w: realtime.Worker{ID: 1}},
		"main thread": {err: primitives.ErrConfig, w: realtime.Worker{ID: 0}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, rt.AddWorker(tc.w), tc.err)
		})
	}

	assert.Equal(t, 5, rt.NumThreads())
	assert.Equal(t, primitives.ProcessMain, rt.ProcessType(0))
	assert.Equal(t, primitives.ProcessScheduled, rt.ProcessType(1))
	assert.Equal(t, primitives.ProcessAsyncMustFinish, rt.ProcessType(2))
	assert.Equal(t, primitives.ProcessUnsupported, rt.ProcessType(4))
	assert.Equal(t, 4*time.Second, rt.AMFCycle(2))
	assert.Zero(t, rt.AMFCycle(1))
	assert.Equal(t, time.Millisecond, rt.TimeTic())
	assert.Equal(t, 3, rt.ProcessID(federation.WithThread(context.Background(), 3)))

	assert.False(t, rt.ShutdownRequested())
	rt.RequestShutdown()
	assert.True(t, rt.ShutdownRequested())
}
