package primitives

import (
	"errors"
	"log/slog"
	"os"
)

var (
	// ErrConfig marks a setup problem: duplicate labels, non-harmonic
	// cycles, thread IDs out of range.
	ErrConfig = errors.New("configuration error")
	// ErrProtocol marks an operation on a point outside its legal state.
	ErrProtocol = errors.New("protocol state error")
	// ErrTransient marks a recognized gateway failure the caller may retry.
	ErrTransient = errors.New("transient gateway error")
	// ErrMembershipLost marks a federate that left the execution while waiting.
	ErrMembershipLost = errors.New("federation execution membership lost")
	// ErrShutdown marks a wait interrupted by a host shutdown request.
	ErrShutdown = errors.New("shutdown requested")
	ErrNotFound = errors.New("not found")
)

// Fatal reports whether err belongs to a category that must halt the federate.
func Fatal(err error) bool {
	return errors.Is(err, ErrConfig) ||
		errors.Is(err, ErrProtocol) ||
		errors.Is(err, ErrMembershipLost) ||
		errors.Is(err, ErrShutdown)
}

// Terminator receives fatal errors. The default logs and exits the process.
// Components still return the error after calling it, so a Terminator that
// does not exit leaves the decision to the caller.
type Terminator func(err error)

// ExitTerminator logs err at error level and exits with status 1.
func ExitTerminator(logger *slog.Logger) Terminator {
	if logger == nil {
		logger = slog.Default()
	}
	return func(err error) {
		logger.Error("terminating federate", slog.Any("err", err))
		os.Exit(1)
	}
}

// RecordingTerminator collects fatal errors instead of exiting.
type RecordingTerminator struct {
	errs chan error
}

// NewRecordingTerminator returns a terminator that buffers up to n errors.
func NewRecordingTerminator(n int) *RecordingTerminator {
	return &RecordingTerminator{errs: make(chan error, n)}
}

// Terminate records err, dropping it if the buffer is full.
func (r *RecordingTerminator) Terminate(err error) {
	select {
	case r.errs <- err:
	default:
	}
}

// Errors returns the channel of recorded errors.
func (r *RecordingTerminator) Errors() <-chan error {
	return r.errs
}
