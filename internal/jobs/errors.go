package jobs

import (
	"errors"
	"fmt"
)

// ErrSkipped marks a job that had nothing to do (entity gone, wrong type,
// no usable stream). Skipped jobs complete without follow-ups.
var ErrSkipped = errors.New("job skipped")

// ErrAlreadyActive is returned when starting a queue that is running.
var ErrAlreadyActive = errors.New("queue is already running")

// Skip returns an error wrapping ErrSkipped with a reason.
func Skip(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSkipped, fmt.Sprintf(format, args...))
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying, e.g. an unsupported codec
// configuration. The job fails on the first attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
