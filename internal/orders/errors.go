package orders

import (
	"errors"
	"fmt"
)

// ErrInvalidOperation is the sentinel every lifecycle violation unwraps to.
var ErrInvalidOperation = errors.New("invalid operation")

// OperationError reports an operation attempted outside its allowed state.
type OperationError struct {
	Op     string
	Status Status
	Reason string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("cannot %s order: %s (status %s)", e.Op, e.Reason, e.Status)
}

func (e *OperationError) Unwrap() error { return ErrInvalidOperation }

// IsInvalidOperation reports whether err is a lifecycle violation.
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}
