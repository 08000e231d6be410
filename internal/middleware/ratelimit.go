// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"codeberg.org/oliverandrich/emailauth/internal/i18n"
	"github.com/go-chi/httprate"
	"github.com/labstack/echo/v4"
)

type clientIPKey struct{}

// RateLimitByIP limits requests per client IP and minute. The client IP is
// c.RealIP(), so forwarded headers only count when the echo IPExtractor
// trusts them. A limit of zero or less disables it.
func RateLimitByIP(requestsPerMinute int) echo.MiddlewareFunc {
	if requestsPerMinute <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	limit := echo.WrapMiddleware(httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			ip, _ := r.Context().Value(clientIPKey{}).(string)
			return ip, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSONCharsetUTF8)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write(errorBody(i18n.T(r.Context(), "error_rate_limited")))
		}),
	))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		limited := limit(next)
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(context.WithValue(req.Context(), clientIPKey{}, c.RealIP())))
			return limited(c)
		}
	}
}

func errorBody(message string) []byte {
	body, _ := json.Marshal(map[string]string{"error": message})
	return body
}
