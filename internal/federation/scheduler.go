package federation

import (
	"context"
	"time"

	"github.com/comalice/fedsync/internal/primitives"
)

// Scheduler is the host scheduler that creates and paces the federate's
// threads. Thread 0 is the main thread.
type Scheduler interface {
	NumThreads() int
	ProcessType(threadID int) primitives.ProcessType
	// AMFCycle is the cycle of an async must-finish thread.
	AMFCycle(threadID int) time.Duration
	// TimeTic is the smallest time step the scheduler can represent.
	TimeTic() time.Duration
	SimTime() time.Duration
	// ProcessID resolves the thread a call is made from.
	ProcessID(ctx context.Context) int
	ShutdownRequested() bool
}

type threadKey struct{}

// WithThread tags ctx with the host thread ID of the caller.
func WithThread(ctx context.Context, threadID int) context.Context {
	return context.WithValue(ctx, threadKey{}, threadID)
}

// ThreadFromContext returns the thread ID set by WithThread, or 0 (the main
// thread) when none is set.
func ThreadFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(threadKey{}).(int); ok {
		return id
	}
	return 0
}
