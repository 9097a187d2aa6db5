package order

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden: the actor's role may not request this change.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition: the target is unreachable from the current state.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrItemsNotReady     = fmt.Errorf("%w: not every item is ready", ErrInvalidTransition)
	ErrNotDelivered      = fmt.Errorf("%w: order is not delivered yet", ErrInvalidTransition)
	ErrOrderNotFound     = errors.New("order not found")
	ErrItemNotFound      = errors.New("order item not found")
	ErrValidation        = errors.New("invalid order")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
