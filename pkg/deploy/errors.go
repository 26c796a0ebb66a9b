package deploy

import (
	"errors"
	"fmt"
)

// Kind classifies protocol-level failures. These are never retried
// automatically; they end the stage and are reported to whoever is
// driving the pipeline.
type Kind string

const (
	IncompleteTopology     Kind = "IncompleteTopology"
	ProvisioningFailed     Kind = "ProvisioningFailed"
	SwapVerificationFailed Kind = "SwapVerificationFailed"
	SwapPartiallyApplied   Kind = "SwapPartiallyApplied"
	ReclaimBlocked         Kind = "ReclaimBlocked"
	Timeout                Kind = "Timeout"
	// InvalidPhase is returned when a stage is invoked against a run
	// that is not in a phase the stage can start (or resume) from.
	InvalidPhase Kind = "InvalidPhase"
)

// Error is a protocol error: a kind, the stage that raised it, and
// the underlying cause.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf constructs a protocol error with a formatted message.
func Errorf(kind Kind, stage Stage, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Wrap constructs a protocol error around an existing error.
func Wrap(kind Kind, stage Stage, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf returns the kind of the outermost protocol error in err's
// chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HasKind reports whether any protocol error in err's chain has the
// given kind. A ProvisioningFailed caused by a Timeout has both.
func HasKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		if c, ok := err.(interface{ Cause() error }); ok {
			err = c.Cause()
			continue
		}
		err = errors.Unwrap(err)
	}
	return false
}
