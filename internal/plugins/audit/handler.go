package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/horacite/horacite/internal/middleware"
)

// Handler handles HTTP requests for the audit trail. Handlers are thin:
// bind request, call service, render response. No business logic lives here.
type Handler struct {
	service AuditService
}

// NewHandler creates a new audit handler.
func NewHandler(service AuditService) *Handler {
	return &Handler{service: service}
}

// SecurityPage renders the security event log (GET /admin/security).
// Restricted to admins via route middleware.
func (h *Handler) SecurityPage(c echo.Context) error {
	page, err := h.listFromQuery(c)
	if err != nil {
		return err
	}
	return middleware.Render(c, http.StatusOK, SecurityEventsPage(page))
}

// APIList returns a page of events as JSON (GET /api/v1/audit).
func (h *Handler) APIList(c echo.Context) error {
	page, err := h.listFromQuery(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// listFromQuery reads ?action= and ?page= and fetches the page.
func (h *Handler) listFromQuery(c echo.Context) (*EventPage, error) {
	pageNum, _ := strconv.Atoi(c.QueryParam("page"))
	return h.service.ListEvents(c.Request().Context(), c.QueryParam("action"), pageNum)
}
