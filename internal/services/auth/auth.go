// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth implements primary username and password authentication.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"

	"codeberg.org/oliverandrich/emailauth/internal/models"
	"codeberg.org/oliverandrich/emailauth/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrEmptyUsername      = errors.New("username is required")
)

// dummyHash is used for constant-time login to prevent timing attacks
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)

type Service struct {
	repo   *repository.Repository
	policy PasswordPolicy
	cost   int
	logger *slog.Logger
}

type Option func(*Service)

// WithCost sets the bcrypt cost for new hashes.
func WithCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(repo *repository.Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		policy: DefaultPasswordPolicy(),
		cost:   bcrypt.DefaultCost,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateUser registers an account. The email may be empty; a non-empty one
// starts out unconfirmed.
func (s *Service) CreateUser(ctx context.Context, username, email, password string) (*models.User, error) {
	if username == "" {
		return nil, ErrEmptyUsername
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, ErrInvalidEmail
		}
	}
	if err := s.policy.Check(password, username, email); err != nil {
		return nil, err
	}

	exists, err := s.repo.UserExists(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, username, email, string(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user_created", "user_id", user.ID, "user", username)
	return user, nil
}

// Login authenticates a user and returns the user if successful
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Constant-time: always perform bcrypt comparison to prevent timing attacks
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			s.logger.Warn("login_failed", "user", username, "reason", "user_not_found")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Warn("login_failed", "user", username, "reason", "invalid_password")
		return nil, ErrInvalidCredentials
	}

	s.logger.Info("password_accepted", "user_id", user.ID, "user", username)
	return user, nil
}

// ConfirmEmail marks the current address of username as confirmed. It
// reports false when there was nothing to confirm.
func (s *Service) ConfirmEmail(ctx context.Context, username string) (bool, error) {
	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrUserNotFound
		}
		return false, fmt.Errorf("failed to get user: %w", err)
	}
	if !user.HasEmail() {
		return false, nil
	}
	return s.repo.ConfirmEmailIfUnchanged(ctx, user.ID, user.Email)
}
