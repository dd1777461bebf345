package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horacite/horacite/internal/apperror"
)

func TestRequireAuthenticated_API401(t *testing.T) {
	app := newTestApp(t)
	rec := app.client(t).get("/api/v1/me")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized","message":"authentication required"}`, rec.Body.String())
}

func TestRequireAuthenticated_HTMXGetsRedirectHeader(t *testing.T) {
	app := newTestApp(t)
	rec := app.client(t).do(http.MethodGet, DashboardPath, nil, map[string]string{"HX-Request": "true"})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, LoginPath, rec.Header().Get("HX-Redirect"))
}

func TestRequireAuthenticated_StoresInfoFlash(t *testing.T) {
	app := newTestApp(t)
	cl := app.client(t)
	cl.get(DashboardPath)
	assert.Equal(t, []string{"Please sign in to access this page."}, cl.flashes())
}

func TestRequireAnonymous_SignedInGoesToDashboard(t *testing.T) {
	app := newTestApp(t, testUser("u1", "alice@example.com", RoleUtilisateur))
	cl := app.client(t)
	cl.login("alice@example.com", "Secret123!")

	rec := cl.get(LoginPath)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, DashboardPath, rec.Header().Get("Location"))
}

func TestRequireRole_Implication(t *testing.T) {
	app := newTestApp(t,
		testUser("u1", "user@example.com", RoleUtilisateur),
		testUser("r1", "resp@example.com", RoleResponsable),
		testUser("a1", "admin@example.com", RoleAdmin),
	)

	tests := []struct {
		email      string
		path       string
		wantStatus int
	}{
		{"user@example.com", "/reports", http.StatusSeeOther},
		{"user@example.com", "/admin/only", http.StatusSeeOther},
		{"user@example.com", "/api/v1/admin-only", http.StatusForbidden},
		{"resp@example.com", "/reports", http.StatusOK},
		{"resp@example.com", "/admin/only", http.StatusSeeOther},
		{"admin@example.com", "/reports", http.StatusOK},
		{"admin@example.com", "/admin/only", http.StatusOK},
		{"admin@example.com", "/api/v1/admin-only", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.email+" "+tt.path, func(t *testing.T) {
			cl := app.client(t)
			cl.login(tt.email, "Secret123!")

			rec := cl.get(tt.path)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusSeeOther {
				assert.Equal(t, DashboardPath, rec.Header().Get("Location"))
				assert.Contains(t, cl.flashes(), "Access denied. You do not have permission to view this page.")
			}
		})
	}
}

func TestRequireRole_AnonymousGetsLoginHandling(t *testing.T) {
	app := newTestApp(t)
	cl := app.client(t)

	rec := cl.get("/admin/only")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, LoginPath, rec.Header().Get("Location"))

	assert.Equal(t, http.StatusUnauthorized, cl.get("/api/v1/admin-only").Code)
}

func TestLoadPrincipal_DisabledAccountBecomesAnonymous(t *testing.T) {
	app := newTestApp(t, testUser("u1", "alice@example.com", RoleAdmin))
	cl := app.client(t)
	cl.login("alice@example.com", "Secret123!")
	require.Equal(t, http.StatusOK, cl.get("/admin/only").Code)

	app.users["u1"].IsActive = false

	rec := cl.get("/admin/only")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, LoginPath, rec.Header().Get("Location"))
	assert.True(t, app.mr.Exists("session:"+cl.sessionID()), "the stored session is left alone")
}

func TestLoadPrincipal_RoleChangeAppliesImmediately(t *testing.T) {
	app := newTestApp(t, testUser("u1", "alice@example.com", RoleAdmin))
	cl := app.client(t)
	cl.login("alice@example.com", "Secret123!")
	require.Equal(t, http.StatusOK, cl.get("/admin/only").Code)

	app.users["u1"].Role = RoleUtilisateur
	assert.Equal(t, http.StatusSeeOther, cl.get("/admin/only").Code)
}

func TestLoadPrincipal_RepositoryFailureIsError(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(context.Context, string) (*User, error) { return nil, errors.New("db down") },
	}
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	_, err := NewPrincipalCodec(repo).FromSession(c.Request().Context(), []byte(`{"id":"u1"}`))
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, appErr.Code)
}

func TestRequirePasswordRotation_NoSessionPassesThrough(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, DashboardPath, nil), rec)

	called := false
	err := RequirePasswordRotation()(func(c echo.Context) error {
		called = true
		return nil
	})(c)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestIsLocalPath(t *testing.T) {
	tests := []struct {
		target string
		want   bool
	}{
		{"/dashboard", true},
		{"/auth/profile?tab=name", true},
		{"", false},
		{"dashboard", false},
		{"https://evil.example/", false},
		{"//evil.example/", false},
		{"/\\evil.example/", false},
		{"/ok\r\nSet-Cookie: x", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsLocalPath(tt.target), tt.target)
	}
}
