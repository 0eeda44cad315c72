package canteen

import "errors"

var (
	ErrNotFound = errors.New("not found")
)

var (
	ErrCapacityExceeded  = errors.New("slot capacity exceeded")
	ErrEmptyQueue        = errors.New("no pending tokens in queue")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateBooking  = errors.New("student already has an active booking for this slot today")
	ErrAlreadyResolved   = errors.New("alert already resolved")
	ErrSlotClosed        = errors.New("slot is not accepting bookings")
)

var (
	ErrInvalidItem = errors.New("invalid item")
	ErrValidation  = errors.New("validation error")
)

var (
	ErrForbidden = errors.New("forbidden")
)
