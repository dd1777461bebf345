package session

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/horacite/horacite/internal/apperror"
)

// contextKey is the echo context key under which the Handle is stored.
const contextKey = "session"

// CookieConfig describes the session cookie.
type CookieConfig struct {
	// Name is the cookie name.
	Name string

	// Secure forces the Secure attribute. It is also set automatically
	// for requests that arrived over TLS or through an HTTPS proxy.
	Secure bool

	// Skipper bypasses session loading, e.g. for health probes that must
	// answer while Redis is down.
	Skipper middleware.Skipper

	// TolerateOutage selects requests that continue as anonymous when the
	// store cannot be read. Their handle keeps the cookie id so Destroy can
	// still expire the cookie. Logout uses this.
	TolerateOutage middleware.Skipper
}

// Middleware loads the session named by the request cookie and attaches a
// Handle to the echo context. An unknown or expired id behaves exactly like
// no cookie. A store outage fails the request with a 500 unless
// TolerateOutage selects it.
func Middleware(store *Store, cfg CookieConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = middleware.DefaultSkipper
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper(c) {
				return next(c)
			}

			h := &Handle{store: store, cookie: cfg, c: c}

			if cookie, err := c.Cookie(cfg.Name); err == nil && cookie.Value != "" {
				rec, err := store.load(c.Request().Context(), cookie.Value)
				switch {
				case err != nil && cfg.TolerateOutage != nil && cfg.TolerateOutage(c):
					slog.Warn("session store unavailable, continuing without session",
						slog.String("path", c.Request().URL.Path),
						slog.Any("error", err),
					)
					h.id = cookie.Value
				case err != nil:
					slog.Error("loading session failed", slog.Any("error", err))
					return apperror.NewInternal(err)
				case rec != nil:
					h.id, h.rec = cookie.Value, rec
				}
			}

			c.Set(contextKey, h)
			return next(c)
		}
	}
}

// FromContext returns the request's session handle, or nil when the
// session middleware did not run.
func FromContext(c echo.Context) *Handle {
	h, _ := c.Get(contextKey).(*Handle)
	return h
}
