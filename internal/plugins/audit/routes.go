package audit

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up the audit listing routes. The auth plugin depends
// on this package for recording, so the admin gates are passed in by the
// app instead of imported: browserGate protects the HTML page and apiGate
// the JSON endpoint.
func RegisterRoutes(e *echo.Echo, h *Handler, browserGate, apiGate []echo.MiddlewareFunc) {
	e.GET("/admin/security", h.SecurityPage, browserGate...)
	e.GET("/api/v1/audit", h.APIList, apiGate...)
}
