// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package challenge implements the login-time email verification code
// challenge: issue a code, check submissions, bound retries.
package challenge

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	"codeberg.org/oliverandrich/emailauth/internal/audit"
	"codeberg.org/oliverandrich/emailauth/internal/deferred"
	"codeberg.org/oliverandrich/emailauth/internal/i18n"
	"codeberg.org/oliverandrich/emailauth/internal/metrics"
	"codeberg.org/oliverandrich/emailauth/internal/models"
	"codeberg.org/oliverandrich/emailauth/internal/services/email"
	"codeberg.org/oliverandrich/emailauth/internal/services/token"
)

const DefaultRetryLimit = 3

// Outcome is the result of Begin or Continue.
type Outcome int

const (
	Pass Outcome = iota
	Issued
	RetryPrompt
	Fail
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "pass"
	case Issued:
		return "issued"
	case RetryPrompt:
		return "retry"
	case Fail:
		return "fail"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MessageType tells the UI how to present Response.Message.
type MessageType string

const (
	MessageInfo    MessageType = "info"
	MessageWarning MessageType = "warning"
	MessageError   MessageType = "error"
)

// Response is what the host shows after Begin or Continue.
type Response struct {
	Outcome     Outcome
	Message     string
	MessageType MessageType
}

// State is the per-login challenge state kept in the host's session.
type State struct {
	IssuedCode   string `json:"issued_code"`
	FailureCount int    `json:"failure_count"`
	// PendingEmail is set when the address was unconfirmed at issuance and
	// is confirmed after a successful check.
	PendingEmail string `json:"pending_email,omitempty"`
}

// Exhausted reports whether no further submissions can pass.
func (s *State) Exhausted(retryLimit int) bool {
	return s.FailureCount > retryLimit
}

// EmailConfirmer marks an address confirmed if it is still the user's
// current, unconfirmed address.
type EmailConfirmer interface {
	ConfirmEmailIfUnchanged(ctx context.Context, userID int64, email string) (bool, error)
}

type Config struct {
	RetryLimit   int
	SiteName     string
	DebugLogCode bool
}

// Service runs the challenge. It holds no per-login state.
type Service struct {
	cfg       Config
	tokens    *token.Generator
	mailer    email.Mailer
	confirmer EmailConfirmer
	policy    Policy
	runner    *deferred.Runner
	audit     *audit.Logger
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Service)

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithRunner sets the runner used when a request carries no deferred batch.
func WithRunner(r *deferred.Runner) Option {
	return func(s *Service) { s.runner = r }
}

func WithAudit(a *audit.Logger) Option {
	return func(s *Service) { s.audit = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(cfg Config, tokens *token.Generator, mailer email.Mailer, confirmer EmailConfirmer, opts ...Option) *Service {
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = DefaultRetryLimit
	}
	s := &Service{
		cfg:       cfg,
		tokens:    tokens,
		mailer:    mailer,
		confirmer: confirmer,
		policy:    DefaultPolicy{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RetryLimit returns the number of wrong codes tolerated.
func (s *Service) RetryLimit() int {
	return s.cfg.RetryLimit
}

// Begin decides whether user must verify and, if so, issues and mails a
// code. The returned state is nil when the outcome is Pass.
func (s *Service) Begin(ctx context.Context, user *models.User, ip string) (Response, *State, error) {
	if !user.HasEmail() || !s.policy.ShouldRequireVerification(ctx, user) {
		s.metrics.ChallengeOutcome("not_required")
		return Response{Outcome: Pass}, nil, nil
	}

	code, err := s.tokens.LoginCode()
	if err != nil {
		return Response{}, nil, fmt.Errorf("generating login code: %w", err)
	}

	state := &State{IssuedCode: code}
	if !user.EmailConfirmed() {
		state.PendingEmail = user.Email
	}

	msgs := s.policy.CustomizeMessages(ctx, user, Messages{
		Prompt:  i18n.TData(ctx, "login_code_prompt", map[string]any{"Email": user.Email}),
		Subject: i18n.TData(ctx, "login_code_subject", map[string]any{"SiteName": s.cfg.SiteName}),
		Intro:   i18n.TData(ctx, "login_code_intro", map[string]any{"SiteName": s.cfg.SiteName}),
	})

	s.logger.Info("verification_requested",
		"user", user.Username,
		"ip", ip,
		"pending_email_confirmation", state.PendingEmail != "",
	)
	if s.cfg.DebugLogCode {
		s.logger.Debug("verification_code_issued", "user", user.Username, "code", code)
	}

	err = s.mailer.Send(ctx, email.Message{
		To:      user.Email,
		Subject: msgs.Subject,
		Text:    msgs.Intro + "\n\n" + i18n.TData(ctx, "login_code_line", map[string]any{"Code": code}),
	})
	if err != nil {
		// The prompt is still shown so the user can ask for a new code
		s.logger.Error("verification_email_failed", "user", user.Username, "ip", ip, "error", err)
	}

	s.metrics.ChallengeOutcome("issued")
	return Response{Outcome: Issued, Message: msgs.Prompt, MessageType: MessageInfo}, state, nil
}

// Continue checks submitted against state and updates state in place.
func (s *Service) Continue(ctx context.Context, user *models.User, state *State, submitted, ip string) Response {
	if state == nil || state.IssuedCode == "" {
		s.logger.Warn("verification_without_challenge", "user", user.Username, "ip", ip)
		s.metrics.ChallengeOutcome("fail")
		return Response{Outcome: Fail, Message: i18n.T(ctx, "login_no_pending"), MessageType: MessageError}
	}

	if state.Exhausted(s.cfg.RetryLimit) {
		s.metrics.ChallengeOutcome("fail")
		return s.fail(ctx)
	}

	submitted = strings.TrimSpace(submitted)

	if submitted != "" && subtle.ConstantTimeCompare([]byte(submitted), []byte(state.IssuedCode)) == 1 {
		s.logger.Info("verification_succeeded", "user", user.Username, "ip", ip)
		if state.PendingEmail != "" {
			s.scheduleEmailConfirmation(ctx, user.ID, user.Username, state.PendingEmail)
		}
		s.metrics.ChallengeOutcome("pass")
		return Response{Outcome: Pass}
	}

	// Accidental empty submissions are neither counted nor logged
	if submitted == "" {
		s.metrics.ChallengeOutcome("retry")
		return Response{Outcome: RetryPrompt, Message: i18n.T(ctx, "login_missing_code"), MessageType: MessageWarning}
	}

	state.FailureCount++
	s.logger.Info("verification_failed",
		"user", user.Username,
		"ip", ip,
		"failures", state.FailureCount,
	)
	s.audit.Log(ctx, audit.Event{
		Type:     "verification_failed",
		Username: user.Username,
		IP:       ip,
		Reason:   "wrong_code",
	})

	if state.Exhausted(s.cfg.RetryLimit) {
		s.logger.Warn("verification_retry_limit_reached", "user", user.Username, "ip", ip)
		s.metrics.ChallengeOutcome("fail")
		return s.fail(ctx)
	}

	s.metrics.ChallengeOutcome("retry")
	return Response{Outcome: RetryPrompt, Message: i18n.T(ctx, "login_failure"), MessageType: MessageError}
}

func (s *Service) fail(ctx context.Context) Response {
	return Response{Outcome: Fail, Message: i18n.T(ctx, "login_retry_limit"), MessageType: MessageError}
}

// scheduleEmailConfirmation confirms address after the response is sent.
// The task re-checks at run time that address is still current and
// unconfirmed, so it is safe to run late or more than once.
func (s *Service) scheduleEmailConfirmation(ctx context.Context, userID int64, username, address string) {
	if s.confirmer == nil {
		return
	}
	logger := s.logger
	confirmer := s.confirmer

	deferred.Enqueue(ctx, s.runner, deferred.Task{
		Name: "confirm_email",
		Run: func(ctx context.Context) error {
			changed, err := confirmer.ConfirmEmailIfUnchanged(ctx, userID, address)
			if err != nil {
				return err
			}
			if changed {
				logger.Info("email_confirmed_by_login", "user", username)
			} else {
				logger.Info("email_confirmation_skipped", "user", username, "reason", "email changed or already confirmed")
			}
			return nil
		},
	})
}
