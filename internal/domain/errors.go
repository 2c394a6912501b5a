package domain

import "fmt"

// Kind classifies an error the way a caller across the API boundary needs to
// react to it: every operation that can fail returns one of these instead of
// a bare error, per the engine's "no exceptions for expected outcomes" policy.
type Kind string

const (
	// KindNotFound means a session or order id is unknown to the caller.
	KindNotFound Kind = "not_found"
	// KindInvalidState means the operation is forbidden in the current
	// session or order status.
	KindInvalidState Kind = "invalid_state"
	// KindInvalidInput means malformed config or a malformed request;
	// the call has no side effects.
	KindInvalidInput Kind = "invalid_input"
	// KindRejectedOrder means an order was evaluated and refused entry to
	// the book (insufficient buying power, disabled symbol, etc).
	KindRejectedOrder Kind = "rejected_order"
	// KindTransient means a recoverable hiccup (data-source stall,
	// producer backpressure) that the caller may retry.
	KindTransient Kind = "transient"
	// KindFatal means an internal invariant was violated or the data
	// source failed hard; the owning session moves to ERROR.
	KindFatal Kind = "fatal"
)

// Error is the engine's single error type. Every exported operation that can
// fail returns one, so callers can switch on Kind without type assertions.
type Error struct {
	Kind    Kind
	Op      string // "<package>.<Func>"
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrNotFound) style sentinel comparisons against
// an *Error's Kind alone, ignoring Op/Message/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds an *Error, optionally wrapping a cause.
func NewError(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// Sentinel errors usable with errors.Is(err, domain.ErrNotFound).
var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrInvalidState  = &Error{Kind: KindInvalidState}
	ErrInvalidInput  = &Error{Kind: KindInvalidInput}
	ErrRejectedOrder = &Error{Kind: KindRejectedOrder}
	ErrTransient     = &Error{Kind: KindTransient}
	ErrFatal         = &Error{Kind: KindFatal}
)
