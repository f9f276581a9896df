package production_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comalice/fedsync/internal/core"
	"github.com/comalice/fedsync/internal/primitives"
	"github.com/comalice/fedsync/internal/production"
	"github.com/comalice/fedsync/testutil"
)

func transition(label string) core.Transition {
	return core.Transition{
		Federate: "lander",
		List:     "init",
		Label:    label,
		From:     primitives.StateUnknown,
		To:       primitives.StateRegistered,
	}
}

func TestChannelPublisher(t *testing.T) {
	t.Parallel()

	ch := make(chan core.Transition, 1)
	p := production.NewChannelPublisher(ch)
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, transition("A")))
	require.NoError(t, p.Publish(ctx, transition("B")), "a full channel drops")
	assert.Equal(t, uint64(1), p.Dropped())

	got := <-ch
	assert.Equal(t, "A", got.Label)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.NoError(t, p.Publish(ctx, transition("C")))
	_, open := <-ch
	assert.False(t, open)
}

func TestChannelPublisherFromManager(t *testing.T) {
	t.Parallel()

	ch := make(chan core.Transition, 16)
	m := core.NewManager(testutil.NewGateway(),
		core.WithFederate("lander"),
		core.WithPublisher(production.NewChannelPublisher(ch)))

	require.NoError(t, m.Add("init", "A"))
	ok, err := m.Register(context.Background(), "A")
	require.NoError(t, err)
	require.True(t, ok)

	got := <-ch
	assert.Equal(t, "lander", got.Federate)
	assert.Equal(t, "init/A: UNKNOWN -> REGISTERED", got.String())
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, core.Transition) error { return f.err }
func (f failingPublisher) Close() error                                   { return f.err }

func TestMultiPublisher(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	boom := errors.New("boom")

	ch := make(chan core.Transition, 1)
	multi := production.MultiPublisher{
		production.NewChannelPublisher(ch),
		production.NewLogPublisher(logger),
		failingPublisher{err: boom},
	}

	err := multi.Publish(context.Background(), transition("A"))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "A", (<-ch).Label)
	assert.Contains(t, buf.String(), "label=A")
	assert.Contains(t, buf.String(), "to=REGISTERED")

	require.ErrorIs(t, multi.Close(), boom)
}
