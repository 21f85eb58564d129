package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/slot-reservation/internal/handler"
)

// RegisterRoutes registers routes that do not require authentication: the
// health check and the public slot listing.
func RegisterRoutes(e *echo.Echo, slots *handler.SlotHandler) {
	e.GET("/healthz", handler.Health)
	e.GET("/v1/providers/:id/slots", slots.List)
}
