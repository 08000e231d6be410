// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package recovery implements the logged-out account recovery flow: a form
// submission is stashed under a token, confirmed through an emailed link and
// then filed as a support ticket.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"codeberg.org/oliverandrich/emailauth/internal/audit"
	"codeberg.org/oliverandrich/emailauth/internal/i18n"
	"codeberg.org/oliverandrich/emailauth/internal/metrics"
	"codeberg.org/oliverandrich/emailauth/internal/ratelimit"
	"codeberg.org/oliverandrich/emailauth/internal/services/email"
	"codeberg.org/oliverandrich/emailauth/internal/services/ticketing"
	"codeberg.org/oliverandrich/emailauth/internal/services/token"
)

const DefaultTokenExpiry = 15 * time.Minute

var (
	ErrRateLimited = errors.New("too many recovery requests")

	tokenPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)
)

// IsToken reports whether s has the shape of a confirmation token.
func IsToken(s string) bool {
	return tokenPattern.MatchString(s)
}

// Outcome is the result of Confirm.
type Outcome int

const (
	BadToken Outcome = iota
	Success
	Resent
	ResendFailed
	TicketFailed
)

func (o Outcome) String() string {
	switch o {
	case BadToken:
		return "bad_token"
	case Success:
		return "success"
	case Resent:
		return "resent"
	case ResendFailed:
		return "resend_failed"
	case TicketFailed:
		return "ticket_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ConfirmResult carries the outcome of Confirm and, for ResendFailed and
// TicketFailed, the underlying error to show the user.
type ConfirmResult struct {
	Outcome Outcome
	Err     error
}

// UserDirectory answers whether an account exists.
type UserDirectory interface {
	UserExists(ctx context.Context, username string) (bool, error)
}

type Config struct {
	BaseURL     string
	TokenExpiry time.Duration
}

// Workflow runs submissions and confirmations. It holds no request state.
type Workflow struct {
	cfg       Config
	tokens    *token.Generator
	store     *Store
	mailer    email.Mailer
	gateway   ticketing.Gateway
	limiter   ratelimit.Limiter
	directory UserDirectory
	audit     *audit.Logger
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Workflow)

func WithLimiter(l ratelimit.Limiter) Option {
	return func(w *Workflow) { w.limiter = l }
}

// WithDirectory makes Submit reject usernames that do not exist.
func WithDirectory(d UserDirectory) Option {
	return func(w *Workflow) { w.directory = d }
}

func WithAudit(a *audit.Logger) Option {
	return func(w *Workflow) { w.audit = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) { w.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

func NewWorkflow(cfg Config, tokens *token.Generator, store *Store, mailer email.Mailer, gateway ticketing.Gateway, opts ...Option) *Workflow {
	if cfg.TokenExpiry <= 0 {
		cfg.TokenExpiry = DefaultTokenExpiry
	}
	w := &Workflow{
		cfg:     cfg,
		tokens:  tokens,
		store:   store,
		mailer:  mailer,
		gateway: gateway,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ConfirmURL returns the confirmation link for token.
func (w *Workflow) ConfirmURL(token string) string {
	return w.cfg.BaseURL + "/account-recovery/confirm/" + token
}

// Submit validates form and, when it is acceptable, stashes it and mails a
// confirmation link to the contact address. It returns ErrRateLimited, a
// *ValidationError, an error wrapping *email.DeliveryError, or nil.
func (w *Workflow) Submit(ctx context.Context, form Form, ip string) error {
	if w.limiter != nil {
		allowed, err := w.limiter.Allow(ctx, "accountrecovery-submit:"+ip)
		if err != nil {
			return fmt.Errorf("checking rate limit: %w", err)
		}
		if !allowed {
			w.logger.Warn("recovery_rate_limited", "ip", ip)
			w.metrics.RecoveryOutcome("rate_limited")
			return ErrRateLimited
		}
	}

	form = form.Trimmed()
	if err := form.Validate(); err != nil {
		w.metrics.RecoveryOutcome("invalid")
		return err
	}

	if w.directory != nil {
		exists, err := w.directory.UserExists(ctx, form.Username)
		if err != nil {
			return fmt.Errorf("looking up user: %w", err)
		}
		if !exists {
			w.metrics.RecoveryOutcome("invalid")
			return &ValidationError{Field: "username", Kind: KindUnknownUser}
		}
	}

	if _, err := w.issue(ctx, form.TicketRequest(), ip); err != nil {
		if email.IsDeliveryError(err) {
			w.metrics.RecoveryOutcome("delivery_failed")
		}
		return err
	}

	w.metrics.RecoveryOutcome("accepted")
	return nil
}

// issue stashes req under a fresh token and mails the confirmation link.
// When mailing fails the stash entry is kept and the token is still
// returned alongside the error.
func (w *Workflow) issue(ctx context.Context, req ticketing.Request, ip string) (string, error) {
	tok, err := w.tokens.RecoveryToken()
	if err != nil {
		return "", fmt.Errorf("generating recovery token: %w", err)
	}

	if err := w.store.Put(ctx, tok, req, w.now()); err != nil {
		return "", fmt.Errorf("stashing recovery request: %w", err)
	}

	w.logger.Info("recovery_request_submitted",
		"user", req.RequesterName,
		"email", audit.MaskEmail(req.RequesterEmail),
		"ip", ip,
	)
	w.audit.Log(ctx, audit.Event{
		Type:     "recovery_submitted",
		Username: req.RequesterName,
		IP:       ip,
		Success:  true,
		Metadata: map[string]string{"contact_email": audit.MaskEmail(req.RequesterEmail)},
	})

	err = w.mailer.Send(ctx, email.Message{
		To:      req.RequesterEmail,
		Subject: i18n.T(ctx, "recovery_confirmation_subject"),
		Text: i18n.TData(ctx, "recovery_confirmation_body", map[string]any{
			"Username": req.RequesterName,
			"Expiry":   i18n.TDuration(ctx, w.cfg.TokenExpiry),
			"URL":      w.ConfirmURL(tok),
		}),
	})
	if err != nil {
		w.logger.Error("recovery_confirmation_email_failed", "user", req.RequesterName, "error", err)
		if !email.IsDeliveryError(err) {
			err = &email.DeliveryError{Err: err}
		}
		return tok, err
	}

	return tok, nil
}

// Confirm resolves a confirmation link. Unknown tokens yield BadToken;
// expired ones trigger a resend; valid ones are filed as a ticket and
// consumed on success.
func (w *Workflow) Confirm(ctx context.Context, tok, ip string) ConfirmResult {
	result := w.confirm(ctx, tok, ip)
	w.metrics.RecoveryOutcome(result.Outcome.String())
	return result
}

func (w *Workflow) confirm(ctx context.Context, tok, ip string) ConfirmResult {
	if !IsToken(tok) {
		return ConfirmResult{Outcome: BadToken}
	}

	rec, found, err := w.store.Get(ctx, tok)
	if err != nil {
		if errors.Is(err, ErrCorruptRecord) {
			w.logger.Warn("recovery_record_corrupt", "error", err)
			return ConfirmResult{Outcome: BadToken}
		}
		w.logger.Error("recovery_lookup_failed", "error", err)
		return ConfirmResult{Outcome: TicketFailed, Err: &ticketing.Error{Kind: ticketing.KindGeneric, Err: err}}
	}
	if !found {
		w.logger.Info("recovery_bad_token", "ip", ip)
		return ConfirmResult{Outcome: BadToken}
	}

	if w.now().Sub(rec.CreatedAt) > w.cfg.TokenExpiry {
		fresh, err := w.issue(ctx, rec.TicketData, ip)
		if err != nil {
			// The new link never reached the user; the old one stays live
			if fresh != "" {
				if delErr := w.store.Delete(ctx, fresh); delErr != nil {
					w.logger.Error("recovery_stash_delete_failed", "error", delErr)
				}
			}
			return ConfirmResult{Outcome: ResendFailed, Err: err}
		}
		if err := w.store.Delete(ctx, tok); err != nil {
			w.logger.Error("recovery_stash_delete_failed", "error", err)
		}
		w.logger.Info("recovery_confirmation_resent", "user", rec.TicketData.RequesterName)
		return ConfirmResult{Outcome: Resent}
	}

	if err := w.createTicket(ctx, rec.TicketData); err != nil {
		// The entry stays so the same link can be retried
		w.logger.Warn("recovery_ticket_failed",
			"user", rec.TicketData.RequesterName,
			"kind", string(ticketing.KindOf(err)),
		)
		return ConfirmResult{Outcome: TicketFailed, Err: err}
	}

	if err := w.store.Delete(ctx, tok); err != nil {
		w.logger.Error("recovery_stash_delete_failed", "error", err)
	}
	w.logger.Info("recovery_ticket_created", "user", rec.TicketData.RequesterName, "ip", ip)
	return ConfirmResult{Outcome: Success}
}

// createTicket calls the gateway and downgrades panics and foreign errors
// to a generic *ticketing.Error.
func (w *Workflow) createTicket(ctx context.Context, req ticketing.Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("recovery_ticket_panic", "panic", fmt.Sprint(rec))
			err = &ticketing.Error{Kind: ticketing.KindGeneric, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	err = w.gateway.CreateTicket(ctx, req)
	if err == nil {
		return nil
	}
	var te *ticketing.Error
	if !errors.As(err, &te) {
		err = &ticketing.Error{Kind: ticketing.KindGeneric, Err: err}
	}
	return err
}
