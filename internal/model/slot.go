package model

import (
	"fmt"
	"time"
)

// SlotStatus is the lifecycle state of a slot row.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotHeld      SlotStatus = "HELD"
	SlotBooked    SlotStatus = "BOOKED"
)

// DateLayout is the wire and storage format of a slot's calendar date.
const DateLayout = "2006-01-02"

// Slot is one bookable (provider, service, date, time) unit.
//
// Fields:
//
//	ID              – opaque unique identifier (UUID).
//	ProviderID      – provider offering the slot.
//	ServiceID       – optional service the slot is reserved for.
//	Date            – calendar date, midnight UTC.
//	StartMinute     – minutes after midnight the slot starts.
//	DurationMinutes – slot length; equals the generation granularity.
//	Status          – AVAILABLE, HELD or BOOKED.
//	HeldBy          – requester holding the slot; set iff Status is HELD.
//	HoldExpiresAt   – end of the hold lease; set iff Status is HELD.
//	BookingID       – finalized order reference; set iff Status is BOOKED.
//	Version         – bumped on every transition for optimistic concurrency.
type Slot struct {
	ID              string     `json:"id"`
	ProviderID      string     `json:"provider_id"`
	ServiceID       *string    `json:"service_id,omitempty"`
	Date            time.Time  `json:"-"`
	StartMinute     int        `json:"start_minute"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          SlotStatus `json:"status"`
	HeldBy          string     `json:"held_by,omitempty"`
	HoldExpiresAt   *time.Time `json:"hold_expires_at,omitempty"`
	BookingID       string     `json:"booking_id,omitempty"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// StartsAt returns the slot start as an instant in loc.
func (s Slot) StartsAt(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := s.Date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(time.Duration(s.StartMinute) * time.Minute)
}

// HoldLive reports whether the slot is held with an unexpired lease at now.
func (s Slot) HoldLive(now time.Time) bool {
	return s.Status == SlotHeld && s.HoldExpiresAt != nil && s.HoldExpiresAt.After(now)
}

// FreeAt reports whether a Hold at now could take the slot: it is available,
// or held with a lapsed lease.
func (s Slot) FreeAt(now time.Time) bool {
	return s.Status == SlotAvailable || (s.Status == SlotHeld && !s.HoldLive(now))
}

// ClockTime formats a minute-of-day as HH:MM.
func ClockTime(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// DateOnly truncates t to midnight UTC of its calendar date in t's location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
