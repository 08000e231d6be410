// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package handlers contains the JSON HTTP handlers for login, email
// verification and account recovery.
package handlers

import (
	"context"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handlers contains the operational handlers.
type Handlers struct {
	checks map[string]HealthCheck
}

// New creates a new Handlers instance.
func New(checks map[string]HealthCheck) *Handlers {
	return &Handlers{checks: checks}
}

// Health returns the health status. Any failing check turns the response
// into a 503 that names the failing dependencies.
func (h *Handlers) Health(c echo.Context) error {
	var failing []string
	for name, check := range h.checks {
		if err := check(c.Request().Context()); err != nil {
			failing = append(failing, name)
		}
	}

	if len(failing) > 0 {
		sort.Strings(failing)
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":  "unavailable",
			"failing": failing,
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
