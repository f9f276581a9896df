package primitives

import "fmt"

// ThreadState is the barrier state of one host thread.
type ThreadState int

const (
	ThreadNotAssociated ThreadState = iota
	ThreadDisabled
	ThreadReset
	ThreadReadyToSend
	ThreadReadyToReceive
)

func (s ThreadState) String() string {
	switch s {
	case ThreadNotAssociated:
		return "NOT_ASSOCIATED"
	case ThreadDisabled:
		return "DISABLED"
	case ThreadReset:
		return "RESET"
	case ThreadReadyToSend:
		return "READY_TO_SEND"
	case ThreadReadyToReceive:
		return "READY_TO_RECEIVE"
	}
	return fmt.Sprintf("ThreadState(%d)", int(s))
}

// Idle reports whether the thread takes no part in the barrier.
func (s ThreadState) Idle() bool {
	return s == ThreadDisabled || s == ThreadNotAssociated
}

// ProcessType classifies how the host scheduler runs a thread.
type ProcessType int

const (
	ProcessUnsupported ProcessType = iota
	ProcessMain
	ProcessScheduled
	ProcessAsync
	ProcessAsyncMustFinish
)

func (p ProcessType) String() string {
	switch p {
	case ProcessMain:
		return "main"
	case ProcessScheduled:
		return "scheduled"
	case ProcessAsync:
		return "async"
	case ProcessAsyncMustFinish:
		return "async-must-finish"
	}
	return "unsupported"
}
