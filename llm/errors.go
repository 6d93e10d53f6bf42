package llm

import "errors"

// errClass partitions completion-service failures for the retry loop:
// transient failures are retried with backoff, fatal ones surface
// immediately so the phase engine can block the workflow.
type errClass int

const (
	classTransient errClass = iota
	classFatal
)

// classifiedError tags an underlying error with its retry class.
type classifiedError struct {
	class errClass
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }

func (e *classifiedError) Unwrap() error { return e.err }

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &classifiedError{class: classTransient, err: err}
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &classifiedError{class: classFatal, err: err}
}

// IsTransient reports whether the error should be retried.
func IsTransient(err error) bool {
	var ce *classifiedError
	return errors.As(err, &ce) && ce.class == classTransient
}

// IsFatal reports whether the error is permanent and retrying is pointless.
func IsFatal(err error) bool {
	var ce *classifiedError
	return errors.As(err, &ce) && ce.class == classFatal
}
