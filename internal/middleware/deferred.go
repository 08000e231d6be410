// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware

import (
	"context"

	"codeberg.org/oliverandrich/emailauth/internal/deferred"
	"github.com/labstack/echo/v4"
)

// Deferred collects the tasks a handler enqueues and hands them to runner
// once the response has been written. Handler errors are rendered here so
// that the flush really happens after the response.
func Deferred(runner *deferred.Runner) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, batch := deferred.WithBatch(c.Request().Context(), runner)
			c.SetRequest(c.Request().WithContext(ctx))

			if err := next(c); err != nil {
				c.Error(err)
			}

			batch.Flush(context.WithoutCancel(ctx))
			return nil
		}
	}
}
