package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/horacite/horacite/internal/middleware"
	"github.com/horacite/horacite/internal/plugins/audit"
	"github.com/horacite/horacite/internal/plugins/auth"
	"github.com/horacite/horacite/internal/session"
	"github.com/horacite/horacite/internal/templates/layouts"
)

// healthTimeout bounds each dependency check in /healthz.
const healthTimeout = 2 * time.Second

// RegisterRoutes sets up all application routes. It registers infrastructure
// routes directly and delegates to each plugin's route registration function.
func (a *App) RegisterRoutes() {
	e := a.Echo

	middleware.LayoutInjector = injectLayout

	// --- Infrastructure (no session) ---
	e.GET("/healthz", healthHandler(map[string]func(context.Context) error{
		"mariadb": a.DB.PingContext,
		"redis":   a.sessions.Ping,
	}))
	e.GET("/metrics", echo.WrapHandler(a.Metrics.Handler()))

	// --- Plugin Routes ---
	auth.RegisterRoutes(e, a.authHandler)

	// The audit package cannot import auth (auth records into it), so the
	// admin gates are handed over here.
	adminGate := []echo.MiddlewareFunc{auth.RequireRole(auth.RoleAdmin)}
	audit.RegisterRoutes(e, a.auditHandler, adminGate, adminGate)
}

// injectLayout copies the principal, flashes and CSRF token into the
// context read by page components. Flashes are taken here, so they show on
// exactly one rendered page.
func injectLayout(c echo.Context, ctx context.Context) context.Context {
	ctx = layouts.SetActivePath(ctx, c.Request().URL.Path)
	ctx = layouts.SetCSRFToken(ctx, middleware.GetCSRFToken(c))

	if p := auth.GetPrincipal(c); p != nil {
		ctx = layouts.SetIsAuthenticated(ctx, true)
		ctx = layouts.SetUserID(ctx, p.ID)
		ctx = layouts.SetUserName(ctx, p.DisplayName)
		ctx = layouts.SetUserRole(ctx, p.Role.String())
		ctx = layouts.SetIsAdmin(ctx, p.Role.Satisfies(auth.RoleAdmin))
	}

	if h := session.FromContext(c); h != nil {
		flashes, err := h.TakeFlashes(ctx)
		if err != nil {
			slog.Warn("failed to read flash messages", slog.Any("error", err))
		}
		if len(flashes) > 0 {
			out := make([]layouts.Flash, 0, len(flashes))
			for _, f := range flashes {
				out = append(out, layouts.Flash{Kind: f.Kind, Message: f.Message})
			}
			ctx = layouts.SetFlashes(ctx, out)
		}
	}

	return ctx
}

// healthHandler reports 200 when every dependency answers, 503 otherwise.
// Failure details are logged, not returned.
func healthHandler(checks map[string]func(context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := http.StatusOK
		result := make(map[string]string, len(checks))

		for name, check := range checks {
			ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
			err := check(ctx)
			cancel()

			if err != nil {
				slog.Warn("health check failed", slog.String("dependency", name), slog.Any("error", err))
				result[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		return c.JSON(status, map[string]any{"status": overall, "checks": result})
	}
}
