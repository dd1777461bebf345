package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/horacite/horacite/internal/middleware"
	"github.com/horacite/horacite/internal/session"
)

// Context keys for storing the principal in Echo context. Other plugins
// use these keys (via the exported getter functions below) to access the
// signed-in user.
const (
	contextKeyPrincipal = "auth_principal"
	contextKeyUser      = "auth_user"
)

// Well-known paths the gates redirect to.
const (
	LoginPath          = "/auth/login"
	LogoutPath         = "/auth/logout"
	ChangePasswordPath = "/auth/change-password"
	DashboardPath      = "/dashboard"
)

// rotationExemptPaths stay reachable while a password change is pending.
var rotationExemptPaths = map[string]bool{
	ChangePasswordPath: true,
	LogoutPath:         true,
}

// LoadPrincipal resolves the session's principal against the live user row
// and stores it in the Echo context. A principal whose account vanished or
// was disabled is ignored, so the request continues as anonymous. Install
// it globally after the session middleware.
func LoadPrincipal(codec *PrincipalCodec) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := session.FromContext(c)
			if h == nil {
				return next(c)
			}
			blob := h.Principal()
			if blob == nil {
				return next(c)
			}

			user, err := codec.FromSession(c.Request().Context(), blob)
			if errors.Is(err, ErrInvalidPrincipal) {
				slog.Debug("session principal no longer valid", slog.String("path", c.Request().URL.Path))
				return next(c)
			}
			if err != nil {
				return err
			}

			p := ToSession(user)
			c.Set(contextKeyPrincipal, &p)
			c.Set(contextKeyUser, user)
			middleware.SetLogUserID(c, user.ID)
			return next(c)
		}
	}
}

// RequireAuthenticated lets signed-in users through. Browsers are sent to
// the login page (remembering where they were going); API clients get 401.
func RequireAuthenticated() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if GetPrincipal(c) == nil {
				return handleUnauthenticated(c)
			}
			return next(c)
		}
	}
}

// RequireAnonymous keeps signed-in users off pages such as the login form.
func RequireAnonymous() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if GetPrincipal(c) != nil {
				return redirect(c, DashboardPath)
			}
			return next(c)
		}
	}
}

// RequireRole lets through users whose role satisfies at least one of the
// given roles. Role implication applies: an admin satisfies responsable.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := GetPrincipal(c)
			if p == nil {
				return handleUnauthenticated(c)
			}
			for _, r := range roles {
				if p.Role.Satisfies(r) {
					return next(c)
				}
			}

			slog.Info("access denied",
				slog.String("user_id", p.ID),
				slog.String("role", p.Role.String()),
				slog.String("path", c.Request().URL.Path),
			)

			if isAPIRequest(c) {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error":   "forbidden",
					"message": "insufficient permissions",
				})
			}
			addFlash(c, session.FlashError, "Access denied. You do not have permission to view this page.")
			return redirect(c, DashboardPath)
		}
	}
}

// RequirePasswordRotation sends users with a pending forced password change
// to the change form until they comply. API routes and the change and
// logout paths are exempt. Install it globally after LoadPrincipal.
func RequirePasswordRotation() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := GetPrincipal(c)
			if p == nil || !p.MustChangePassword {
				return next(c)
			}
			if isAPIRequest(c) || rotationExemptPaths[c.Request().URL.Path] {
				return next(c)
			}

			addFlash(c, session.FlashError, "You must change your password before continuing.")
			return redirect(c, ChangePasswordPath)
		}
	}
}

// handleUnauthenticated returns the appropriate response for unauthenticated
// requests: redirect for browsers, 401 JSON for API clients.
func handleUnauthenticated(c echo.Context) error {
	// API requests get a JSON 401 response.
	if isAPIRequest(c) {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":   "unauthorized",
			"message": "authentication required",
		})
	}

	req := c.Request()
	if req.Method == http.MethodGet {
		if target := req.URL.RequestURI(); IsLocalPath(target) {
			if h := session.FromContext(c); h != nil {
				if err := h.SetReturnTo(req.Context(), target); err != nil {
					slog.Warn("failed to store return-to path", slog.Any("error", err))
				}
			}
		}
	}

	addFlash(c, session.FlashInfo, "Please sign in to access this page.")
	return redirect(c, LoginPath)
}

// redirect sends a 303, or an HX-Redirect header for HTMX requests so the
// full page navigates.
func redirect(c echo.Context, path string) error {
	if isHTMXRequest(c) {
		c.Response().Header().Set("HX-Redirect", path)
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusSeeOther, path)
}

// addFlash queues a flash, logging instead of failing the redirect.
func addFlash(c echo.Context, kind, message string) {
	h := session.FromContext(c)
	if h == nil {
		return
	}
	if err := h.AddFlash(c.Request().Context(), kind, message); err != nil {
		slog.Warn("failed to store flash message", slog.Any("error", err))
	}
}

// --- Exported getters for other plugins ---

// GetPrincipal returns the signed-in principal, or nil for anonymous
// requests.
func GetPrincipal(c echo.Context) *Principal {
	p, ok := c.Get(contextKeyPrincipal).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// GetUser returns the live user row loaded for this request, or nil.
func GetUser(c echo.Context) *User {
	u, ok := c.Get(contextKeyUser).(*User)
	if !ok {
		return nil
	}
	return u
}

// --- Helpers ---

// IsLocalPath reports whether target is a same-origin path that is safe to
// redirect to. Scheme-relative ("//host") and backslash tricks are refused.
func IsLocalPath(target string) bool {
	if !strings.HasPrefix(target, "/") {
		return false
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	return !strings.ContainsAny(target, "\r\n")
}

// isAPIRequest returns true if the request targets the /api/ path.
func isAPIRequest(c echo.Context) bool {
	path := c.Request().URL.Path
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

// isHTMXRequest returns true if the request was made by HTMX.
func isHTMXRequest(c echo.Context) bool {
	return c.Request().Header.Get("HX-Request") == "true"
}
