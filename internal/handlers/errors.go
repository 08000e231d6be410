// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/emailauth/internal/i18n"
	"github.com/labstack/echo/v4"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// errorJSON writes a localized error message.
func errorJSON(c echo.Context, code int, messageID string) error {
	return c.JSON(code, ErrorResponse{Error: i18n.T(c.Request().Context(), messageID)})
}

// ErrorHandler renders errors returned by handlers and middleware as JSON.
// Internal errors are logged and hidden behind a generic message.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		ctx := c.Request().Context()
		code := http.StatusInternalServerError
		message := i18n.T(ctx, "error_internal")

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if code < http.StatusInternalServerError {
				if m, ok := he.Message.(string); ok {
					message = m
				} else {
					message = http.StatusText(code)
				}
			}
		}

		if code >= http.StatusInternalServerError {
			logger.ErrorContext(ctx, "request_failed",
				"method", c.Request().Method,
				"path", c.Path(),
				"error", err,
			)
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, ErrorResponse{Error: message})
		}
		if writeErr != nil {
			logger.Error("error_response_failed", "error", writeErr)
		}
	}
}
