// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package email delivers outgoing mail through SMTP or Amazon SES.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"codeberg.org/oliverandrich/emailauth/internal/config"
)

// Message is a single outgoing email. HTML is optional.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer sends messages. Implementations return a *DeliveryError when the
// transport rejects or cannot reach the destination.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// DeliveryError reports a transport failure.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("email delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsDeliveryError reports whether err is or wraps a *DeliveryError.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

// New builds the Mailer selected by cfg.Transport.
func New(ctx context.Context, cfg *config.MailConfig, logger *slog.Logger) (Mailer, error) {
	switch cfg.Transport {
	case "smtp", "":
		return NewSMTPMailer(cfg)
	case "ses":
		return NewSESMailer(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}
