// Package errs implements the error classification taxonomy used to decide
// retry and termination behavior around the target and draft models.
package errs

import "fmt"

// Class names one of the failure categories a generation can hit.
type Class int

const (
	// TransientRemote is a network timeout or 5xx from the target model.
	// One retry with backoff is attempted before it becomes fatal.
	TransientRemote Class = iota
	// InvalidRemote is a malformed or under-length target-model response
	// after retry; no further retry.
	InvalidRemote
	// LocalInference is a draft-model failure (OOM, tokenizer error). Fatal.
	LocalInference
	// Precondition is an invalid request (K out of range, empty prompt).
	// Fails synchronously before any work is done.
	Precondition
	// Canceled is not an error; the caller asked to stop.
	Canceled
)

func (c Class) String() string {
	switch c {
	case TransientRemote:
		return "transient_remote"
	case InvalidRemote:
		return "invalid_remote"
	case LocalInference:
		return "local_inference"
	case Precondition:
		return "precondition"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with its classification.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(class Class, err error) *Error {
	return &Error{Class: class, Err: err}
}

// Classify extracts the Class from err if it is (or wraps) an *Error; returns
// ok=false otherwise.
func Classify(err error) (Class, bool) {
	var ce *Error
	if ok := asError(err, &ce); ok {
		return ce.Class, true
	}
	return 0, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsRetryable reports whether a class warrants the single spec-mandated retry.
func (c Class) IsRetryable() bool {
	return c == TransientRemote
}

// IsFatal reports whether a class terminates the generation with an Error event.
func (c Class) IsFatal() bool {
	return c == TransientRemote || c == InvalidRemote || c == LocalInference || c == Precondition
}
