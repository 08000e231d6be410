// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package ticketing creates support desk tickets for account recovery
// requests through the Zendesk request API.
package ticketing

import (
	"context"
	"errors"
	"fmt"
)

// Request is an account recovery request as submitted by the user.
type Request struct {
	RequesterEmail  string `json:"requester_email"`
	RequesterName   string `json:"requester_name"`
	RegisteredEmail string `json:"registered_email,omitempty"`
	Description     string `json:"description,omitempty"`
}

// Kind classifies a failed ticket creation.
type Kind string

const (
	KindInvalidData        Kind = "invalid_data"
	KindRateLimited        Kind = "rate_limited"
	KindServiceUnavailable Kind = "service_unavailable"
	KindGeneric            Kind = "generic"
)

// Error is the only error CreateTicket returns.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ticketing %s: %v", e.Kind, e.Err)
	}
	return "ticketing " + string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindGeneric when err is not an *Error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindGeneric
}

// Gateway creates tickets.
type Gateway interface {
	CreateTicket(ctx context.Context, req Request) error
}
