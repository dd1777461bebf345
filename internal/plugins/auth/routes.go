package auth

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up all auth-related routes on the given Echo instance.
// LoadPrincipal and RequirePasswordRotation are installed globally by the
// app; the per-route gates below decide who may reach each page. Gates are
// attached per route rather than through a group so unknown paths stay
// plain 404s instead of inheriting a gate.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/", h.Home)

	// Sign-in is for visitors only.
	anon := RequireAnonymous()
	e.GET(LoginPath, h.LoginForm, anon)
	e.POST(LoginPath, h.Login, anon)

	// Logout works for anyone so a stale or unreadable session can always
	// be cleared.
	e.POST(LogoutPath, h.Logout)

	authed := RequireAuthenticated()
	e.GET(ChangePasswordPath, h.ChangePasswordForm, authed)
	e.POST(ChangePasswordPath, h.ChangePassword, authed)
	e.GET(ProfilePath, h.ProfileForm, authed)
	e.POST(ProfilePath, h.UpdateProfile, authed)
	e.GET(DashboardPath, h.Dashboard, authed)

	e.GET("/api/v1/me", h.Me, authed)
}
