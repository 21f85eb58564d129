package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/slot-reservation/internal/handler"
	"github.com/iliyamo/slot-reservation/internal/middleware"
	"github.com/iliyamo/slot-reservation/internal/utils"
)

// RegisterCustomer registers customer-scoped endpoints under /v1.  All routes
// require a valid JWT and the CUSTOMER role.  Routes that take or touch a
// hold are additionally passed through limit.
func RegisterCustomer(e *echo.Echo, s *handler.SlotHandler, co *handler.CheckoutHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	if limit == nil {
		limit = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleCustomer),
	)

	g.POST("/slots/:id/hold", s.Hold, limit)
	g.DELETE("/slots/:id/hold", s.Release, limit)
	g.POST("/slots/:id/confirm", s.Confirm, limit)
	g.GET("/slots/:id/countdown", s.Countdown)

	g.POST("/checkouts", co.Create, limit)
	g.GET("/checkouts/:id", co.Get)
	g.POST("/checkouts/:id/pay", co.Pay, limit)
	g.DELETE("/checkouts/:id", co.Cancel, limit)
}
