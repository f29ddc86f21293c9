package service

import "errors"

// ValidationError is a rejected request. Its message is shown to the caller as is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationError(msg string) error { return &ValidationError{Msg: msg} }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrNothingScheduled is returned when every website failed.
var ErrNothingScheduled = errors.New("All posts failed to schedule")
