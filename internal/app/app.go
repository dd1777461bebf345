// Package app is the application bootstrap and dependency injection root.
// It holds the shared infrastructure (DB pool, Redis client, Echo instance)
// and wires the session store, audit recorder and auth plugin together.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/horacite/horacite/internal/apperror"
	"github.com/horacite/horacite/internal/config"
	"github.com/horacite/horacite/internal/middleware"
	"github.com/horacite/horacite/internal/observability"
	"github.com/horacite/horacite/internal/plugins/audit"
	"github.com/horacite/horacite/internal/plugins/auth"
	"github.com/horacite/horacite/internal/session"
	"github.com/horacite/horacite/internal/templates/pages"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup by the serve command.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Redis   *redis.Client
	Echo    *echo.Echo
	Metrics *observability.Metrics

	sessions *session.Store
	recorder *audit.AsyncRecorder
	codec    *auth.PrincipalCodec

	authHandler  *auth.Handler
	auditHandler *audit.Handler
}

// New builds the application graph and configures the Echo server with
// global middleware and error handling. Call Close on shutdown.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client, metrics *observability.Metrics) (*App, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	middleware.TrustedProxies(e, cfg.TrustedProxies)

	hasher, err := auth.NewPasswordHasher(auth.HasherConfig{
		Algorithm:  cfg.Auth.HashAlgorithm,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	if err != nil {
		return nil, fmt.Errorf("creating password hasher: %w", err)
	}
	policy := PolicyFromConfig(cfg)

	auditRepo := audit.NewAuditRepository(db)
	recorder := audit.NewAsyncRecorder(auditRepo, audit.RecorderConfig{
		BufferSize:   cfg.Audit.BufferSize,
		WriteTimeout: cfg.Audit.WriteTimeout,
	}, metrics)

	userRepo := auth.NewUserRepository(db)
	authService, err := auth.NewAuthService(userRepo, hasher, policy, recorder, metrics)
	if err != nil {
		recorder.Close()
		return nil, err
	}
	codec := auth.NewPrincipalCodec(userRepo)

	app := &App{
		Config:       cfg,
		DB:           db,
		Redis:        rdb,
		Echo:         e,
		Metrics:      metrics,
		sessions:     session.NewStore(rdb, cfg.Auth.SessionIdleTimeout),
		recorder:     recorder,
		codec:        codec,
		authHandler:  auth.NewHandler(authService, codec, policy),
		auditHandler: audit.NewHandler(audit.NewAuditService(auditRepo)),
	}

	app.setupMiddleware()
	e.HTTPErrorHandler = app.errorHandler
	e.Static("/static", "static")

	return app, nil
}

// PolicyFromConfig builds the password policy from configuration. The CLI
// uses it too so accounts created there follow the same rules.
func PolicyFromConfig(cfg *config.Config) auth.PasswordPolicy {
	return auth.PasswordPolicy{
		MinLength:  cfg.Auth.PasswordMinLength,
		MaxLength:  cfg.Auth.PasswordMaxLength,
		MinClasses: cfg.Auth.PasswordMinClasses,
	}
}

// infraPath reports requests served without a session so probes keep answering while
// Redis is down.
func infraPath(c echo.Context) bool {
	p := c.Request().URL.Path
	return p == "/healthz" || p == "/metrics" || strings.HasPrefix(p, "/static/")
}

// logoutRequest reports the logout POST, which must clear the cookie and
// redirect even while Redis is down.
func logoutRequest(c echo.Context) bool {
	return c.Request().Method == http.MethodPost && c.Request().URL.Path == auth.LogoutPath
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first, the auth gates last.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery())

	a.Echo.Use(middleware.RequestLogger())
	a.Echo.Use(middleware.SecurityHeaders(!a.Config.IsDevelopment()))
	a.Echo.Use(middleware.CORS(a.Config.CORSOrigins))

	a.Echo.Use(session.Middleware(a.sessions, session.CookieConfig{
		Name:           a.Config.Auth.CookieName,
		Secure:         a.Config.Auth.CookieSecure,
		Skipper:        infraPath,
		TolerateOutage: logoutRequest,
	}))
	a.Echo.Use(middleware.CSRF(middleware.CSRFConfig{
		Skipper: infraPath,
		Secure:  a.Config.Auth.CookieSecure,
	}))

	// Every request sees the live principal, and a pending password
	// rotation is enforced before any route gate runs.
	a.Echo.Use(auth.LoadPrincipal(a.codec))
	a.Echo.Use(auth.RequirePasswordRotation())
}

// Close stops background work. The audit recorder drains its queue.
func (a *App) Close() {
	a.recorder.Close()
}

// errorHandler is the custom Echo error handler. It maps domain errors
// (AppError) to HTTP responses: JSON for /api requests, an error page for
// browsers. Browser 401s go to the login page.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	errType := "internal_error"
	messages := []string{defaultErrorMessage(code)}

	if appErr, ok := apperror.As(err); ok {
		code = appErr.Code
		errType = appErr.Type
		messages = apperror.SafeMessages(appErr)

		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
			)
		}
	} else {
		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			code = echoErr.Code
			errType = strings.ToLower(strings.ReplaceAll(http.StatusText(code), " ", "_"))
			if msg, ok := echoErr.Message.(string); ok {
				messages = []string{msg}
			} else {
				messages = []string{defaultErrorMessage(code)}
			}
		} else {
			slog.Error("unhandled error",
				slog.Any("error", err),
				slog.String("path", c.Request().URL.Path),
			)
		}
	}

	if isAPIRequest(c) {
		body := map[string]any{
			"error":   errType,
			"message": messages[0],
		}
		if len(messages) > 1 {
			body["messages"] = messages
		}
		_ = c.JSON(code, body)
		return
	}

	if code == http.StatusUnauthorized {
		if isHTMXRequest(c) {
			c.Response().Header().Set("HX-Redirect", auth.LoginPath)
			_ = c.NoContent(http.StatusNoContent)
			return
		}
		_ = c.Redirect(http.StatusSeeOther, auth.LoginPath)
		return
	}

	if isHTMXRequest(c) {
		// Swap the error page into the whole body instead of a fragment target.
		c.Response().Header().Set("HX-Retarget", "body")
		c.Response().Header().Set("HX-Reswap", "innerHTML")
	}

	if err := middleware.Render(c, code, pages.ErrorPage(code, messages)); err != nil {
		slog.Error("rendering error page", slog.Any("error", err))
	}
}

// defaultErrorMessage returns a user-friendly message for common HTTP status codes
// when no specific message was provided by the error.
func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "You need to sign in to access this page."
	case http.StatusForbidden:
		return "You don't have permission to access this resource."
	case http.StatusNotFound:
		return "The page you're looking for doesn't exist."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusConflict:
		return "This record was changed by someone else. Please try again."
	case http.StatusUnprocessableEntity:
		return "The submitted data could not be processed."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// isAPIRequest returns true if the request is targeting the API (JSON response expected).
func isAPIRequest(c echo.Context) bool {
	p := c.Request().URL.Path
	return p == "/api" || strings.HasPrefix(p, "/api/")
}

// isHTMXRequest returns true if the request was initiated by HTMX.
func isHTMXRequest(c echo.Context) bool {
	return c.Request().Header.Get("HX-Request") == "true"
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting HoraCité server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}
