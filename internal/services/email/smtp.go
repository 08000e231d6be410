// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package email

import (
	"context"
	"fmt"

	"codeberg.org/oliverandrich/emailauth/internal/config"
	"github.com/wneessen/go-mail"
)

// SMTPMailer sends mail via SMTP using go-mail.
type SMTPMailer struct {
	smtp     config.SMTPConfig
	from     string
	fromName string
}

// NewSMTPMailer creates a new SMTP mailer.
func NewSMTPMailer(cfg *config.MailConfig) (*SMTPMailer, error) {
	if cfg.SMTP.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("mail from address is required")
	}

	return &SMTPMailer{
		smtp:     cfg.SMTP,
		from:     cfg.From,
		fromName: cfg.FromName,
	}, nil
}

// Send delivers msg in a single SMTP session.
func (s *SMTPMailer) Send(ctx context.Context, msg Message) error {
	m, err := s.BuildMsg(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.smtp.Host, s.clientOptions()...)
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("creating mail client: %w", err)}
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return &DeliveryError{Err: fmt.Errorf("sending email: %w", err)}
	}

	return nil
}

// BuildMsg assembles the MIME message for msg.
func (s *SMTPMailer) BuildMsg(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()

	if s.fromName != "" {
		if err := m.FromFormat(s.fromName, s.from); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := m.From(s.from); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := m.To(msg.To); err != nil {
		return nil, &DeliveryError{Err: fmt.Errorf("setting to address: %w", err)}
	}

	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}

	return m, nil
}

func (s *SMTPMailer) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.smtp.Port),
	}

	// Use implicit TLS (SSL) for port 465, STARTTLS for others
	if s.smtp.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		if s.smtp.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if s.smtp.Username != "" && s.smtp.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.smtp.Username),
			mail.WithPassword(s.smtp.Password),
		)
	}

	return opts
}
