package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/clock"
	"github.com/iliyamo/slot-reservation/internal/countdown"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/service"
)

// SlotHandler serves slot listing and the customer-facing Arbiter
// operations.  Methods other than List assume JWTAuth and RequireRole ran.
type SlotHandler struct {
	Lister  *service.SlotLister
	Arbiter *service.Arbiter
	Clock   clock.Clock
	Log     *zap.Logger

	// WarningThreshold is when the countdown stream sends its warning.
	WarningThreshold time.Duration
	// TickInterval overrides the one-second countdown tick.
	TickInterval time.Duration
}

// NewSlotHandler constructs a SlotHandler and panics if a dependency is nil.
func NewSlotHandler(lister *service.SlotLister, arbiter *service.Arbiter, clk clock.Clock, threshold time.Duration, log *zap.Logger) *SlotHandler {
	if lister == nil || arbiter == nil || clk == nil {
		panic("nil dependency passed to NewSlotHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SlotHandler{
		Lister:           lister,
		Arbiter:          arbiter,
		Clock:            clk,
		Log:              log,
		WarningThreshold: threshold,
	}
}

// List handles GET /v1/providers/:id/slots?date=YYYY-MM-DD[&service_id=].
// Slots held under a lapsed lease are reported as available.
func (h *SlotHandler) List(c echo.Context) error {
	date, ok := parseDate(c.QueryParam("date"))
	if !ok {
		return badRequest(c, "date must be YYYY-MM-DD")
	}
	slots, err := h.Lister.ListAvailableSlots(c.Request().Context(), c.Param("id"), optional(c.QueryParam("service_id")), date)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	out := make([]SlotView, 0, len(slots))
	for _, s := range slots {
		v := slotView(s)
		v.Status = string(model.SlotAvailable)
		v.HoldExpiresAt = nil
		out = append(out, v)
	}
	return c.JSON(http.StatusOK, echo.Map{"slots": out})
}

// Hold handles POST /v1/slots/:id/hold.  It returns 201 with the lease
// expiry; repeating the call while the lease is live returns the same
// lease.
func (h *SlotHandler) Hold(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	res, err := h.Arbiter.Hold(c.Request().Context(), c.Param("id"), who, 0)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"slot":              slotView(res.Slot),
		"expires_at":        res.ExpiresAt,
		"remaining_seconds": countdown.Remaining(res.ExpiresAt, h.Clock.Now()),
	})
}

// Release handles DELETE /v1/slots/:id/hold.
func (h *SlotHandler) Release(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	if err := h.Arbiter.Release(c.Request().Context(), c.Param("id"), who); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "hold released"})
}

// Confirm handles POST /v1/slots/:id/confirm with {"booking_id": "..."}.
func (h *SlotHandler) Confirm(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	var body struct {
		BookingID string `json:"booking_id"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.BookingID == "" {
		return badRequest(c, "booking_id is required")
	}
	s, err := h.Arbiter.Confirm(c.Request().Context(), c.Param("id"), who, body.BookingID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"slot": slotView(s)})
}

// Countdown handles GET /v1/slots/:id/countdown.  It streams Server-Sent
// Events (tick, warning, expired) for the caller's live hold.  The expired
// event is only sent after the lease was re-read from the store.
func (h *SlotHandler) Countdown(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	slotID := c.Param("id")
	st, err := h.Arbiter.Inspect(ctx, slotID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if !st.Live {
		return writeError(c, h.Log, service.ErrHoldExpired)
	}
	if st.Slot.HeldBy != who {
		return writeError(c, h.Log, service.ErrNotHolder)
	}

	verify := func(ctx context.Context) (time.Time, bool, error) {
		cur, err := h.Arbiter.Inspect(ctx, slotID)
		if err != nil {
			return time.Time{}, false, err
		}
		return cur.ExpiresAt, cur.Live && cur.Slot.HeldBy == who, nil
	}
	n := countdown.New(st.ExpiresAt, h.WarningThreshold, h.Clock, verify)
	if h.TickInterval > 0 {
		n.WithInterval(h.TickInterval)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	err = n.Run(ctx, func(ev countdown.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
			return err
		}
		res.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.Log.Debug("countdown stream ended", zap.String("slot_id", slotID), zap.Error(err))
	}
	return nil
}
