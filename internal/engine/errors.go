package engine

import (
	"errors"
	"fmt"
)

// ErrBudgetExhausted reports an attempt to advance a session past its
// iteration cap. The session is left untouched; its latest iteration remains
// the final result.
var ErrBudgetExhausted = errors.New("iteration budget exhausted")

// ValidationError reports a rejected request: malformed settings, feedback
// for the wrong iteration, an unknown best candidate, or an out-of-range
// rating. The session is never mutated when one is returned.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// ValidationErrorf builds a ValidationError from a format string.
func ValidationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
