// Package handler contains the echo HTTP handlers of the slot reservation
// API.  Handlers decode input, call the engine and map its error taxonomy
// to status codes; they never change slot state themselves.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/middleware"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/service"
)

// User-facing messages for the recoverable engine errors.
const (
	msgSlotTaken   = "this slot was just taken, please choose another"
	msgHoldExpired = "your reservation timed out, please try again"
)

// statusFor maps an engine error to its HTTP status and client message.
func statusFor(err error) (int, string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, service.ErrSlotUnavailable):
		return http.StatusConflict, msgSlotTaken
	case errors.Is(err, service.ErrHoldExpired):
		return http.StatusGone, msgHoldExpired
	case errors.Is(err, service.ErrNotHolder):
		return http.StatusForbidden, "this slot is held by another customer"
	case errors.Is(err, service.ErrAlreadyBooked):
		return http.StatusConflict, "slot already booked"
	case errors.Is(err, service.ErrSlotNotFound):
		return http.StatusNotFound, "slot not found"
	case errors.Is(err, service.ErrCheckoutNotFound):
		return http.StatusNotFound, "checkout not found"
	case errors.Is(err, service.ErrCatalogNotFound):
		return http.StatusNotFound, "no working hours configured for this provider"
	case errors.Is(err, service.ErrCheckoutClosed):
		return http.StatusConflict, "checkout already finished"
	case errors.Is(err, service.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "payment declined"
	case errors.Is(err, service.ErrPaymentUnavailable):
		return http.StatusServiceUnavailable, "payment provider unavailable, please retry"
	case errors.Is(err, service.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable, please retry"
	}
	return http.StatusInternalServerError, "internal error"
}

// writeError renders err as {"error": "..."} with the mapped status.
// Server-side failures are logged with the underlying cause.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError && log != nil {
		log.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.JSON(code, echo.Map{"error": msg})
}

// requester returns the authenticated subject or writes 401.
func requester(c echo.Context) (string, bool) {
	r := middleware.Requester(c)
	return r, r != ""
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// parseDate parses a YYYY-MM-DD calendar date.
func parseDate(v string) (time.Time, bool) {
	t, err := time.Parse(model.DateLayout, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// SlotView is the wire form of a slot.
type SlotView struct {
	ID              string     `json:"id"`
	ProviderID      string     `json:"provider_id"`
	ServiceID       *string    `json:"service_id,omitempty"`
	Date            string     `json:"date"`
	StartTime       string     `json:"start_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	HoldExpiresAt   *time.Time `json:"hold_expires_at,omitempty"`
	BookingID       string     `json:"booking_id,omitempty"`
}

func slotView(s model.Slot) SlotView {
	return SlotView{
		ID:              s.ID,
		ProviderID:      s.ProviderID,
		ServiceID:       s.ServiceID,
		Date:            s.Date.Format(model.DateLayout),
		StartTime:       model.ClockTime(s.StartMinute),
		DurationMinutes: s.DurationMinutes,
		Status:          string(s.Status),
		HoldExpiresAt:   s.HoldExpiresAt,
		BookingID:       s.BookingID,
	}
}
