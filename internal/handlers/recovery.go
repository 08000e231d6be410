// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"net/http"

	"codeberg.org/oliverandrich/emailauth/internal/auth"
	"codeberg.org/oliverandrich/emailauth/internal/i18n"
	"codeberg.org/oliverandrich/emailauth/internal/services/email"
	"codeberg.org/oliverandrich/emailauth/internal/services/recovery"
	"codeberg.org/oliverandrich/emailauth/internal/services/ticketing"
	"github.com/labstack/echo/v4"
)

// RecoveryHandlers serves the logged-out account recovery page.
type RecoveryHandlers struct {
	workflow *recovery.Workflow
	enabled  bool
}

func NewRecovery(wf *recovery.Workflow, enabled bool) *RecoveryHandlers {
	return &RecoveryHandlers{workflow: wf, enabled: enabled}
}

// FieldDescription describes one form input.
type FieldDescription struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Required  bool   `json:"required"`
	MaxLength int    `json:"max_length"`
}

// FormDescription is what a client needs to render the recovery form.
type FormDescription struct {
	Intro  string             `json:"intro"`
	Fields []FieldDescription `json:"fields"`
}

var recoveryFields = []FieldDescription{
	{Name: "username", Type: "text", Required: true, MaxLength: recovery.MaxUsernameLength},
	{Name: "contact_email", Type: "email", Required: true, MaxLength: recovery.MaxEmailLength},
	{Name: "contact_email_confirm", Type: "email", Required: true, MaxLength: recovery.MaxEmailLength},
	{Name: "registered_email", Type: "email", MaxLength: recovery.MaxEmailLength},
	{Name: "description", Type: "textarea", MaxLength: recovery.MaxDescriptionLength},
}

// refuse reports whether the page is unavailable and, if so, writes the
// response.
func (h *RecoveryHandlers) refuse(c echo.Context) (bool, error) {
	if !h.enabled {
		return true, errorJSON(c, http.StatusNotFound, "recovery_disabled")
	}
	if auth.IsAuthenticated(c.Request().Context()) {
		return true, errorJSON(c, http.StatusForbidden, "recovery_logged_in")
	}
	return false, nil
}

// Form describes the recovery form.
func (h *RecoveryHandlers) Form(c echo.Context) error {
	if refused, err := h.refuse(c); refused {
		return err
	}
	return c.JSON(http.StatusOK, FormDescription{
		Intro:  i18n.T(c.Request().Context(), "recovery_intro"),
		Fields: recoveryFields,
	})
}

// Submit validates the form and mails a confirmation link.
func (h *RecoveryHandlers) Submit(c echo.Context) error {
	if refused, err := h.refuse(c); refused {
		return err
	}

	var form recovery.Form
	if err := c.Bind(&form); err != nil {
		return errorJSON(c, http.StatusBadRequest, "error_bad_request")
	}

	err := h.workflow.Submit(c.Request().Context(), form, c.RealIP())

	var verr *recovery.ValidationError
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, StatusResponse{
			Status:  "confirmation_needed",
			Message: i18n.T(c.Request().Context(), "recovery_confirmation_needed"),
		})
	case errors.Is(err, recovery.ErrRateLimited):
		return errorJSON(c, http.StatusTooManyRequests, "recovery_rate_limited")
	case errors.As(err, &verr):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: i18n.T(c.Request().Context(), validationMessageID(verr)),
			Field: verr.Field,
		})
	case email.IsDeliveryError(err):
		return errorJSON(c, http.StatusBadGateway, "recovery_error_delivery")
	default:
		return err
	}
}

// Confirm handles a confirmation link. Anything that does not look like a
// token shows the form instead.
func (h *RecoveryHandlers) Confirm(c echo.Context) error {
	token := c.Param("token")
	if !recovery.IsToken(token) {
		return h.Form(c)
	}
	if refused, err := h.refuse(c); refused {
		return err
	}

	ctx := c.Request().Context()
	result := h.workflow.Confirm(ctx, token, c.RealIP())

	switch result.Outcome {
	case recovery.Success:
		return c.JSON(http.StatusOK, StatusResponse{Status: "success", Message: i18n.T(ctx, "recovery_success")})
	case recovery.Resent:
		return c.JSON(http.StatusOK, StatusResponse{Status: "resent", Message: i18n.T(ctx, "recovery_confirmation_resent")})
	case recovery.ResendFailed:
		return errorJSON(c, http.StatusBadGateway, "recovery_error_delivery")
	case recovery.TicketFailed:
		code, messageID := ticketingError(result.Err)
		return errorJSON(c, code, messageID)
	default:
		return errorJSON(c, http.StatusBadRequest, "recovery_error_badtoken")
	}
}

func validationMessageID(err *recovery.ValidationError) string {
	switch err.Kind {
	case recovery.KindRequired:
		if err.Field == "username" {
			return "recovery_username_required"
		}
		return "recovery_field_required"
	case recovery.KindUnknownUser:
		return "recovery_username_unknown"
	case recovery.KindMismatch:
		return "recovery_email_mismatch"
	case recovery.KindTooLong:
		return "recovery_field_too_long"
	default:
		return "recovery_invalid_email"
	}
}

func ticketingError(err error) (int, string) {
	switch ticketing.KindOf(err) {
	case ticketing.KindInvalidData:
		return http.StatusUnprocessableEntity, "recovery_error_invalid_data"
	case ticketing.KindRateLimited:
		return http.StatusTooManyRequests, "recovery_error_rate_limited"
	case ticketing.KindServiceUnavailable:
		return http.StatusServiceUnavailable, "recovery_error_service_unavailable"
	default:
		return http.StatusBadGateway, "recovery_error_generic"
	}
}
