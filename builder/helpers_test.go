package builder_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comalice/fedsync/builder"
	"github.com/comalice/fedsync/internal/primitives"
)

func TestNew(t *testing.T) {
	t.Parallel()

	c := builder.New("lander",
		builder.MainCycle(100*time.Millisecond),
		builder.Resolution(time.Millisecond),
		builder.List("init", builder.Registers(), builder.Points("INIT", "STARTUP")),
		builder.List("mode", builder.TimedPoint("freeze", 2*time.Second)),
		builder.List("fini", builder.AtShutdown(), builder.Points("SHUTDOWN")),
		builder.Worker(1, 300*time.Millisecond),
		builder.Worker(2, 100*time.Millisecond, builder.AsyncMustFinish()),
		builder.Object("lander", 0, 1),
		builder.Disable(3),
		builder.Wait(primitives.WaitConfig{SleepInterval: time.Millisecond}),
		builder.Checkpoint("/tmp/ckpt", "yaml"),
	)

	assert.Equal(t, "lander", c.Name)
	require.Len(t, c.Lists, 3)
	assert.True(t, c.Lists[0].Register)
	assert.Equal(t, []primitives.PointConfig{{Label: "INIT"}, {Label: "STARTUP"}}, c.Lists[0].Points)
	assert.Equal(t, primitives.PolicyTimed, c.Lists[1].Policy)
	assert.Equal(t, 2*time.Second, c.Lists[1].Points[0].Time)
	assert.Equal(t, primitives.PhaseShutdown, c.Lists[2].Phase)

	w, ok := c.Threads.Worker(2)
	require.True(t, ok)
	assert.True(t, w.AsyncMustFinish)
	assert.Equal(t, 4, c.Threads.ThreadCount())
	assert.Equal(t, "yaml", c.Checkpoint.Format)
	require.NoError(t, c.Validate())
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	c := builder.New("rover")
	assert.Equal(t, time.Second, c.Threads.MainCycle)
	require.NoError(t, c.Validate())
}

func TestFederation(t *testing.T) {
	t.Parallel()

	fed := builder.Federation("moon", 10, 0,
		builder.New("lander", builder.List("init", builder.Registers(), builder.Points("INIT"))),
		builder.New("rover", builder.List("init", builder.Points("INIT"))),
	)
	assert.Equal(t, 10, fed.Ticks)
	require.Len(t, fed.Federates, 2)
	require.NoError(t, fed.Validate())

	bad := builder.Federation("moon", 1, 0,
		builder.New("lander", builder.Worker(1, 1500*time.Millisecond)),
	)
	err := bad.Validate()
	require.ErrorIs(t, err, primitives.ErrConfig)
	assert.Contains(t, err.Error(), "not an integer multiple of main cycle")
}
