// Package middleware provides the HTTP middleware shared by every HoraCité
// route: request logging, panic recovery, security headers, CSRF, CORS and
// proxy-aware client IPs. Registration order lives in internal/app/app.go.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// userIDKey is the echo context key the auth plugin stores the principal's
// ID under for the request log.
const userIDKey = "log_user_id"

// SetLogUserID attaches the signed-in user's ID to the request log line.
func SetLogUserID(c echo.Context, id string) {
	c.Set(userIDKey, id)
}

// RequestLogger returns middleware that logs every HTTP request with
// structured fields: method, path, status, latency, remote IP and, for
// signed-in requests, the user ID. Query strings are left out because they
// may carry return-to paths and filters that do not belong in logs.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status is final.
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", res.Status),
				slog.Duration("latency", time.Since(start)),
				slog.String("remote_ip", c.RealIP()),
			}
			if id, ok := c.Get(userIDKey).(string); ok && id != "" {
				attrs = append(attrs, slog.String("user_id", id))
			}

			level := slog.LevelInfo
			if res.Status >= 500 {
				level = slog.LevelError
			} else if res.Status >= 400 {
				level = slog.LevelWarn
			}

			slog.LogAttrs(req.Context(), level, "request", attrs...)
			return nil
		}
	}
}
