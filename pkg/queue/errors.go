package queue

import "fmt"

// Kind classifies a queue error so callers can branch on retriability
// without string-matching messages.
type Kind string

const (
	// KindBusy marks transient store contention; the caller should retry.
	KindBusy Kind = "busy"
	// KindStore marks a malformed row or integrity failure; not retried.
	KindStore Kind = "store"
	// KindHandlerNotRegistered marks dispatch to an unknown task type.
	KindHandlerNotRegistered Kind = "handler_not_registered"
	// KindHandlerAlreadyRegistered marks a registration-time conflict.
	KindHandlerAlreadyRegistered Kind = "handler_already_registered"
	// KindValidation marks invalid caller input.
	KindValidation Kind = "validation"
	// KindNotFound marks a reference to an unknown task or worker.
	KindNotFound Kind = "not_found"
	// KindHandlerFailure marks a handler that returned or panicked with an error.
	KindHandlerFailure Kind = "handler_failure"
	// KindCancelled marks a user-initiated cancellation.
	KindCancelled Kind = "cancelled"
)

// Error is the queue's structured error type. It wraps an underlying cause
// and tags it with a Kind so the engine and API adapter can branch on
// retriability without parsing messages.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, queue.ErrNotFound) style sentinel comparisons
// against the Kind rather than pointer identity.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinel instances for errors.Is comparisons against a bare Kind.
var (
	ErrBusy                     = &Error{Kind: KindBusy}
	ErrStore                    = &Error{Kind: KindStore}
	ErrHandlerNotRegistered     = &Error{Kind: KindHandlerNotRegistered}
	ErrHandlerAlreadyRegistered = &Error{Kind: KindHandlerAlreadyRegistered}
	ErrValidation               = &Error{Kind: KindValidation}
	ErrNotFound                 = &Error{Kind: KindNotFound}
	ErrHandlerFailure           = &Error{Kind: KindHandlerFailure}
	ErrCancelled                = &Error{Kind: KindCancelled}
)
