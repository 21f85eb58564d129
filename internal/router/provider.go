package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/slot-reservation/internal/handler"
	"github.com/iliyamo/slot-reservation/internal/middleware"
	"github.com/iliyamo/slot-reservation/internal/utils"
)

// RegisterProvider registers PROVIDER-scoped endpoints under /v1/provider.
func RegisterProvider(e *echo.Echo, p *handler.ProviderHandler, jwtSecret string) {
	g := e.Group(
		"/v1/provider",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleProvider),
	)
	g.POST("/slots/generate", p.Generate)
}
