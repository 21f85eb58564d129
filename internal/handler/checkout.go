package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/service"
)

// CheckoutHandler exposes the Checkout Coordinator.  A checkout is only
// visible to the requester that opened it.
type CheckoutHandler struct {
	Coordinator *service.Coordinator
	Log         *zap.Logger
}

// NewCheckoutHandler constructs a CheckoutHandler and panics if co is nil.
func NewCheckoutHandler(co *service.Coordinator, log *zap.Logger) *CheckoutHandler {
	if co == nil {
		panic("nil coordinator passed to NewCheckoutHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckoutHandler{Coordinator: co, Log: log}
}

// Create handles POST /v1/checkouts with {"slot_id": "..."}.  The slot is
// held for the caller and the priced checkout is returned with 201.
func (h *CheckoutHandler) Create(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	var body struct {
		SlotID string `json:"slot_id"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.SlotID == "" {
		return badRequest(c, "slot_id is required")
	}
	co, err := h.Coordinator.Begin(c.Request().Context(), body.SlotID, who)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, co)
}

// Get handles GET /v1/checkouts/:id.
func (h *CheckoutHandler) Get(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	co, err := h.Coordinator.Get(c.Request().Context(), c.Param("id"), who)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, co)
}

// Pay handles POST /v1/checkouts/:id/pay with {"payment_method": "..."}.
// Failures that settled the checkout include it next to the error so the
// client can see the outcome.
func (h *CheckoutHandler) Pay(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	var body struct {
		PaymentMethod string `json:"payment_method"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.PaymentMethod == "" {
		return badRequest(c, "payment_method is required")
	}
	co, err := h.Coordinator.Pay(c.Request().Context(), c.Param("id"), who, body.PaymentMethod)
	if err != nil {
		return checkoutError(c, h.Log, co, err)
	}
	return c.JSON(http.StatusOK, co)
}

// Cancel handles DELETE /v1/checkouts/:id.
func (h *CheckoutHandler) Cancel(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	co, err := h.Coordinator.Cancel(c.Request().Context(), c.Param("id"), who)
	if err != nil {
		return checkoutError(c, h.Log, co, err)
	}
	return c.JSON(http.StatusOK, co)
}

func checkoutError(c echo.Context, log *zap.Logger, co model.Checkout, err error) error {
	if co.ID == "" {
		return writeError(c, log, err)
	}
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error("checkout failed", zap.String("checkout_id", co.ID), zap.Error(err))
	}
	return c.JSON(code, echo.Map{"error": msg, "checkout": co})
}
