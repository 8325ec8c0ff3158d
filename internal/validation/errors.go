package validation

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is the sentinel every validation failure unwraps to.
var ErrInvalidInput = errors.New("invalid input")

// Error describes one rejected field.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error { return ErrInvalidInput }

// Errorf builds an *Error for field.
func Errorf(field, format string, args ...interface{}) error {
	return &Error{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsInvalidInput reports whether err is a validation failure.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
