package model

import "time"

// CheckoutState is a step of the checkout state machine.
type CheckoutState string

const (
	CheckoutNotStarted      CheckoutState = "NOT_STARTED"
	CheckoutHeld            CheckoutState = "HELD"
	CheckoutAwaitingPayment CheckoutState = "AWAITING_PAYMENT"
	CheckoutConfirmed       CheckoutState = "CONFIRMED"
	CheckoutReleased        CheckoutState = "RELEASED"
)

// Terminal reports whether no further transition is possible.
func (s CheckoutState) Terminal() bool {
	return s == CheckoutConfirmed || s == CheckoutReleased
}

// Checkout is one attempt to purchase a slot.  Outcome explains how a
// Released checkout ended (payment_declined, cancelled, hold_expired,
// refunded, refund_failed).  BookingID is fixed when the checkout opens so
// every Pay attempt confirms under the same id.
type Checkout struct {
	ID            string        `json:"id"`
	SlotID        string        `json:"slot_id"`
	Requester     string        `json:"requester"`
	State         CheckoutState `json:"state"`
	AmountCents   int64         `json:"amount_cents"`
	Currency      string        `json:"currency"`
	HoldExpiresAt time.Time     `json:"hold_expires_at"`
	ChargeRef     string        `json:"charge_ref,omitempty"`
	BookingID     string        `json:"booking_id,omitempty"`
	RefundRef     string        `json:"refund_ref,omitempty"`
	Outcome       string        `json:"outcome,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
