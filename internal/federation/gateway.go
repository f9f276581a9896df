// Package federation declares the contracts fedsync consumes from the outside
// world: the federation gateway that carries synchronization points between
// federates, and the host scheduler that owns threads and simulation time.
//
// Loopback is an in-process federation implementing the gateway side, used by
// the CLI, examples and tests.
package federation

import (
	"context"
	"fmt"

	"github.com/comalice/fedsync/internal/primitives"
)

// Result is the closed set of outcomes of a gateway call.
// Every value other than ResultOK is transient: the caller may retry or wait.
type Result int

const (
	ResultOK Result = iota
	ResultNotAnnounced
	ResultNotMember
	ResultSaveInProgress
	ResultRestoreInProgress
	ResultNotConnected
	ResultInternalError
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultNotAnnounced:
		return "not-announced"
	case ResultNotMember:
		return "not-a-member"
	case ResultSaveInProgress:
		return "save-in-progress"
	case ResultRestoreInProgress:
		return "restore-in-progress"
	case ResultNotConnected:
		return "not-connected"
	case ResultInternalError:
		return "internal-error"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Err converts a non-OK result into an error wrapping primitives.ErrTransient.
func (r Result) Err() error {
	if r == ResultOK {
		return nil
	}
	return fmt.Errorf("%s: %w", r, primitives.ErrTransient)
}

// FailureReason explains a registration failure callback.
type FailureReason int

const (
	// ReasonLabelNotUnique means the label is already registered
	// federation-wide. It is not an error for the receiver.
	ReasonLabelNotUnique FailureReason = iota + 1
	// ReasonSetMemberNotJoined means a federate in the requested
	// synchronization set is not joined.
	ReasonSetMemberNotJoined
)

func (r FailureReason) String() string {
	switch r {
	case ReasonLabelNotUnique:
		return "label-not-unique"
	case ReasonSetMemberNotJoined:
		return "set-member-not-joined"
	}
	return fmt.Sprintf("FailureReason(%d)", int(r))
}

// Gateway is the federate's outbound view of the federation.
type Gateway interface {
	// RegisterPoint asks the federation to create a synchronization point.
	// An empty federates slice addresses every joined federate.
	// The outcome arrives later through Callbacks.
	RegisterPoint(ctx context.Context, label string, tag []byte, federates []string) Result
	// AchievePoint tells the federation this federate reached the point.
	AchievePoint(ctx context.Context, label string) Result
	// IsExecutionMember reports whether the federate is still joined.
	IsExecutionMember() bool
}

// Callbacks is the federate's inbound view: the federation calls these as the
// protocol advances. Implementations must not block for long.
type Callbacks interface {
	RegistrationSucceeded(label string)
	RegistrationFailed(label string, reason FailureReason)
	Announced(label string, tag []byte)
	Synchronized(label string)
}
