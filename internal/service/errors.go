// Package service implements the slot reservation engine: the Reservation
// Arbiter, Slot Generator, Hold Expiry Reaper, Checkout Coordinator and the
// read-side slot listing.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/repository"
)

var (
	// ErrSlotUnavailable: the slot is booked or held by someone else with a
	// live lease.  Callers should re-query and pick another slot.
	ErrSlotUnavailable = errors.New("slot unavailable")
	// ErrHoldExpired: the requester's hold lapsed.  A fresh Hold may succeed.
	ErrHoldExpired = errors.New("hold expired")
	// ErrNotHolder: the slot is held by a different requester.
	ErrNotHolder = errors.New("not the holder of this slot")
	// ErrAlreadyBooked: the slot is booked under another booking reference.
	ErrAlreadyBooked = errors.New("slot already booked")
	// ErrStorageUnavailable wraps every Slot Store failure.
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrSlotNotFound     = repository.ErrSlotNotFound
	ErrCheckoutNotFound = repository.ErrCheckoutNotFound
	ErrCatalogNotFound  = repository.ErrCatalogNotFound

	// ErrCheckoutClosed: the checkout already reached Confirmed or Released.
	ErrCheckoutClosed = errors.New("checkout already finished")
	// ErrPaymentDeclined: the payment collaborator refused the charge.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentUnavailable: the charge kept failing transiently.
	ErrPaymentUnavailable = errors.New("payment provider unavailable")
)

// ValidationError reports bad input.  Date is set when the problem is
// localized to one generation day.
type ValidationError struct {
	Field  string
	Reason string
	Date   time.Time
}

func (e *ValidationError) Error() string {
	if !e.Date.IsZero() {
		return fmt.Sprintf("invalid %s on %s: %s", e.Field, e.Date.Format(model.DateLayout), e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// storageErr keeps both ErrStorageUnavailable and the driver error
// reachable through errors.Is/As.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
