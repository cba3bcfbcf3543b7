package appointment

import (
	"errors"
)

var (
	ErrServiceNotFound         = errors.New("service not found")
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrSlotUnavailable         = errors.New("slot unavailable")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrAppointmentChanged      = errors.New("appointment was modified concurrently, please retry")

	// ErrBookingOverlap is returned by stores when a write would overlap another
	// active appointment of the same employee.
	ErrBookingOverlap = errors.New("booking overlaps an active appointment")
)

// SlotUnavailableError carries the conflict detector's reason.
type SlotUnavailableError struct {
	Reason string
}

func (e *SlotUnavailableError) Error() string {
	return "slot unavailable: " + e.Reason
}

func (e *SlotUnavailableError) Is(target error) bool {
	return target == ErrSlotUnavailable
}

func slotUnavailable(reason string) error {
	return &SlotUnavailableError{Reason: reason}
}
