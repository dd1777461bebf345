package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CORS returns middleware that answers cross-origin requests to the /api
// routes from the allowed origins. The browser UI is same-origin and never
// needs it. Credentials are allowed because the API authenticates with the
// session cookie, which is why a wildcard origin is not supported.
func CORS(allowedOrigins []string) echo.MiddlewareFunc {
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o != "*" {
			originSet[o] = true
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			origin := req.Header.Get("Origin")

			if origin == "" || !strings.HasPrefix(req.URL.Path, "/api/") || !originSet[origin] {
				return next(c)
			}

			h := c.Response().Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")

			if req.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", strings.Join([]string{
					http.MethodGet,
					http.MethodPost,
					http.MethodOptions,
				}, ", "))
				h.Set("Access-Control-Allow-Headers", strings.Join([]string{
					"Content-Type",
					csrfHeaderName,
				}, ", "))
				h.Set("Access-Control-Max-Age", "3600")
				return c.NoContent(http.StatusNoContent)
			}

			return next(c)
		}
	}
}
