// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"codeberg.org/oliverandrich/emailauth/internal/i18n"
	"codeberg.org/oliverandrich/emailauth/internal/models"
	"codeberg.org/oliverandrich/emailauth/internal/repository"
	authsvc "codeberg.org/oliverandrich/emailauth/internal/services/auth"
	"codeberg.org/oliverandrich/emailauth/internal/services/challenge"
	"codeberg.org/oliverandrich/emailauth/internal/services/session"
	"github.com/labstack/echo/v4"
)

// AuthHandlers contains handlers for authentication.
type AuthHandlers struct {
	repo      *repository.Repository
	auth      *authsvc.Service
	challenge *challenge.Service
	sessions  *session.Manager
	logger    *slog.Logger
}

// NewAuth creates a new AuthHandlers instance.
func NewAuth(repo *repository.Repository, auth *authsvc.Service, ch *challenge.Service, sess *session.Manager, logger *slog.Logger) *AuthHandlers {
	return &AuthHandlers{
		repo:      repo,
		auth:      auth,
		challenge: ch,
		sessions:  sess,
		logger:    logger,
	}
}

// LoginRequest is the request body for a password login.
type LoginRequest struct {
	Username string `json:"username" form:"username" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}

// VerifyRequest is the request body for submitting a login code.
type VerifyRequest struct {
	Code string `json:"code" form:"code"`
}

// Login checks the password and starts the email challenge.
func (h *AuthHandlers) Login(c echo.Context) error {
	ctx := c.Request().Context()

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "error_bad_request")
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := validate.Struct(req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "login_required_fields")
	}

	user, err := h.auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, authsvc.ErrInvalidCredentials) {
			return errorJSON(c, http.StatusUnauthorized, "login_invalid_credentials")
		}
		return err
	}

	resp, state, err := h.challenge.Begin(ctx, user, c.RealIP())
	if err != nil {
		return err
	}

	st := sessionFrom(c)
	if err := h.sessions.Renew(ctx, st); err != nil {
		return err
	}

	if resp.Outcome == challenge.Pass {
		return h.completeLogin(c, st, user)
	}

	st.UserID = 0
	st.Username = ""
	st.Pending = &session.PendingLogin{UserID: user.ID, Challenge: *state}
	if err := h.save(c, st); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, StatusResponse{
		Status:      "verification_required",
		Message:     resp.Message,
		MessageType: string(resp.MessageType),
	})
}

// Verify checks a submitted login code against the pending challenge.
func (h *AuthHandlers) Verify(c echo.Context) error {
	ctx := c.Request().Context()

	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "error_bad_request")
	}

	st := sessionFrom(c)
	if st.Pending == nil {
		return errorJSON(c, http.StatusForbidden, "login_no_pending")
	}

	user, err := h.pendingUser(ctx, st.Pending.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		st.Pending = nil
		if err := h.save(c, st); err != nil {
			return err
		}
		return errorJSON(c, http.StatusForbidden, "login_no_pending")
	}

	resp := h.challenge.Continue(ctx, user, &st.Pending.Challenge, req.Code, c.RealIP())

	switch resp.Outcome {
	case challenge.Pass:
		if err := h.sessions.Renew(ctx, st); err != nil {
			return err
		}
		return h.completeLogin(c, st, user)

	case challenge.RetryPrompt:
		// The failure count lives in the session
		if err := h.save(c, st); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, StatusResponse{
			Status:      "retry",
			Message:     resp.Message,
			MessageType: string(resp.MessageType),
		})

	default:
		st.Pending = nil
		if err := h.save(c, st); err != nil {
			return err
		}
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: resp.Message})
	}
}

// Logout destroys the session.
func (h *AuthHandlers) Logout(c echo.Context) error {
	cookie, err := h.sessions.Destroy(c.Request().Context(), sessionFrom(c))
	if err != nil {
		return err
	}
	c.SetCookie(cookie)

	return c.JSON(http.StatusOK, StatusResponse{
		Status:  "ok",
		Message: i18n.T(c.Request().Context(), "logout_success"),
	})
}

// Me returns the logged-in user.
func (h *AuthHandlers) Me(c echo.Context) error {
	st := sessionFrom(c)
	if !st.Authenticated() {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: http.StatusText(http.StatusUnauthorized)})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":       st.UserID,
		"username": st.Username,
	})
}

func (h *AuthHandlers) completeLogin(c echo.Context, st *session.State, user *models.User) error {
	st.UserID = user.ID
	st.Username = user.Username
	st.Pending = nil
	if err := h.save(c, st); err != nil {
		return err
	}

	h.logger.Info("login_success", "user_id", user.ID, "user", user.Username, "ip", c.RealIP())
	return c.JSON(http.StatusOK, StatusResponse{
		Status:  "ok",
		Message: i18n.T(c.Request().Context(), "login_success"),
	})
}

// pendingUser returns nil without error when the account has been deleted
// since the password check.
func (h *AuthHandlers) pendingUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := h.repo.GetUserByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func (h *AuthHandlers) save(c echo.Context, st *session.State) error {
	cookie, err := h.sessions.Save(c.Request().Context(), st)
	if err != nil {
		return err
	}
	c.SetCookie(cookie)
	return nil
}
