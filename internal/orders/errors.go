package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("order not found")
	ErrEmptyOrder          = errors.New("order must contain at least one item")
	ErrNegativeAmount      = errors.New("amount must not be negative")
	ErrDuplicateNumber     = errors.New("order number already exists")
	ErrDuplicateExternalID = errors.New("external id already exists")
)

type InvalidTransitionError struct {
	OrderID  string
	From, To Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot change status from %s to %s", e.OrderID, e.From, e.To)
}

type OperationNotAllowedError struct {
	OrderID string
	Status  Status
	Reason  string
}

func (e *OperationNotAllowedError) Error() string {
	return fmt.Sprintf("order %s (%s): %s", e.OrderID, e.Status, e.Reason)
}

// ValidationError marks a malformed request.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
