package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDate       = errors.New("model: invalid date")
	ErrInvalidRange      = errors.New("model: end must be after start")
	ErrInvalidFrequency  = errors.New("model: invalid recurrence frequency")
	ErrInvalidInterval   = errors.New("model: invalid recurrence interval")
	ErrInvalidWeekday    = errors.New("model: invalid recurrence weekday")
	ErrInvalidMonthDay   = errors.New("model: invalid recurrence month day")
	ErrInvalidCustomUnit = errors.New("model: invalid custom recurrence unit")
	ErrInvalidCategory   = errors.New("model: invalid event category")
	ErrMissingField      = errors.New("model: required field missing")
)

// ValidationError reports a caller-supplied value the calendar cannot accept.
// Err is one of the sentinel errors above so callers can match with errors.Is.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v (%s)", e.Err, e.Field)
	}
	return fmt.Sprintf("%v (%s): %s", e.Err, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Err: err}
}
