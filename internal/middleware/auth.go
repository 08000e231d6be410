// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware

import (
	"codeberg.org/oliverandrich/emailauth/internal/auth"
	"codeberg.org/oliverandrich/emailauth/internal/services/session"
	"github.com/labstack/echo/v4"
)

// LoadSession puts the request's session state into the request context.
func LoadSession(mgr *session.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			st, err := mgr.Load(req.Context(), req)
			if err != nil {
				return err
			}
			c.SetRequest(req.WithContext(auth.WithSession(req.Context(), st)))
			return next(c)
		}
	}
}
