package model

import "time"

// Slot event types published after successful transitions.
const (
	EventSlotHeld       = "slot.held"
	EventSlotBooked     = "slot.booked"
	EventSlotReleased   = "slot.released"
	EventHoldExpired    = "hold.expired"
	EventRefundRequired = "refund.required"
	EventPaymentUnknown = "payment.unknown"
)

// SlotEvent describes one observed change to a slot.  It is sent to the
// message broker as JSON and consumed by the audit log writer.
type SlotEvent struct {
	Type        string     `json:"type"`
	SlotID      string     `json:"slot_id"`
	ProviderID  string     `json:"provider_id"`
	Date        string     `json:"date"`
	StartMinute int        `json:"start_minute"`
	Requester   string     `json:"requester,omitempty"`
	BookingID   string     `json:"booking_id,omitempty"`
	ChargeRef   string     `json:"charge_ref,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	At          time.Time  `json:"at"`
}

// NewSlotEvent fills the slot-derived fields of an event.
func NewSlotEvent(typ string, s Slot, at time.Time) SlotEvent {
	return SlotEvent{
		Type:        typ,
		SlotID:      s.ID,
		ProviderID:  s.ProviderID,
		Date:        s.Date.Format(DateLayout),
		StartMinute: s.StartMinute,
		At:          at,
	}
}
