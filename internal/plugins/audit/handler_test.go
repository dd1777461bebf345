package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horacite/horacite/internal/apperror"
)

func newAuditEcho(repo *mockAuditRepo, gate echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		_ = c.JSON(apperror.SafeCode(err), map[string]string{"message": apperror.SafeMessage(err)})
	}
	gates := []echo.MiddlewareFunc{}
	if gate != nil {
		gates = append(gates, gate)
	}
	RegisterRoutes(e, NewHandler(NewAuditService(repo)), gates, gates)
	return e
}

func sampleEntries() []Entry {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	return []Entry{
		{ID: 2, UserID: "u1", UserEmail: "alice@example.com", Action: ActionLoginSuccess, IPAddress: "10.0.0.1", CreatedAt: at},
		{ID: 1, Action: ActionLoginFailed, Details: map[string]any{"email": "<ghost>@x", "reason": "unknown_identifier"}, IPAddress: "10.0.0.2", CreatedAt: at},
	}
}

func TestAPIList_ReturnsPage(t *testing.T) {
	var gotAction Action
	repo := &mockAuditRepo{listFn: func(_ context.Context, action Action, _, _ int) ([]Entry, int, error) {
		gotAction = action
		return sampleEntries(), 2, nil
	}}
	e := newAuditEcho(repo, nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit?action=LOGIN_FAILED&page=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ActionLoginFailed, gotAction)

	var page EventPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Entries, 2)
	assert.Empty(t, page.Entries[1].UserID)
}

func TestAPIList_UnknownActionIs400(t *testing.T) {
	e := newAuditEcho(&mockAuditRepo{}, nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit?action=DELETE_ALL", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecurityPage_RendersEscapedEntries(t *testing.T) {
	repo := &mockAuditRepo{listFn: func(context.Context, Action, int, int) ([]Entry, int, error) {
		return sampleEntries(), 120, nil
	}}
	e := newAuditEcho(repo, nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/security?page=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "alice@example.com")
	assert.Contains(t, body, "LOGIN_FAILED")
	assert.NotContains(t, body, "<ghost>")
	assert.Contains(t, body, "Page 2 of 3")
	assert.Contains(t, body, "page=1")
	assert.Contains(t, body, "page=3")
}

func TestRoutes_GatesApply(t *testing.T) {
	deny := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error { return c.NoContent(http.StatusForbidden) }
	}
	e := newAuditEcho(&mockAuditRepo{}, deny)

	for _, path := range []string{"/admin/security", "/api/v1/audit"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
}
