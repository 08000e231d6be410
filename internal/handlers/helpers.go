// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"codeberg.org/oliverandrich/emailauth/internal/auth"
	"codeberg.org/oliverandrich/emailauth/internal/services/session"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// StatusResponse is the body of successful login and recovery steps.
type StatusResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	MessageType string `json:"message_type,omitempty"`
}

// sessionFrom returns the request's session state, or an empty one when the
// session middleware did not run.
func sessionFrom(c echo.Context) *session.State {
	if st := auth.GetSession(c.Request().Context()); st != nil {
		return st
	}
	return &session.State{}
}
