// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"codeberg.org/oliverandrich/emailauth/internal/services/ticketing"
	"github.com/go-playground/validator/v10"
)

const (
	MaxUsernameLength    = 255
	MaxEmailLength       = 254
	MaxDescriptionLength = 5000
)

// ErrorKind classifies a rejected form field.
type ErrorKind string

const (
	KindRequired     ErrorKind = "required"
	KindInvalidEmail ErrorKind = "invalid_email"
	KindMismatch     ErrorKind = "mismatch"
	KindTooLong      ErrorKind = "too_long"
	KindUnknownUser  ErrorKind = "unknown_user"
)

// ValidationError reports the first invalid field of a submission.
type ValidationError struct {
	Field string
	Kind  ErrorKind
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Kind)
}

// Form is the account recovery form as submitted.
type Form struct {
	Username            string `json:"username" form:"username" validate:"required,max=255"`
	ContactEmail        string `json:"contact_email" form:"contact_email" validate:"required,max=254,strictemail"`
	ContactEmailConfirm string `json:"contact_email_confirm" form:"contact_email_confirm" validate:"required,max=254,strictemail"`
	RegisteredEmail     string `json:"registered_email" form:"registered_email" validate:"omitempty,max=254,email"`
	Description         string `json:"description" form:"description" validate:"omitempty,max=5000"`
}

// Trimmed returns a copy of f with surrounding whitespace removed from
// every field.
func (f Form) Trimmed() Form {
	return Form{
		Username:            strings.TrimSpace(f.Username),
		ContactEmail:        strings.TrimSpace(f.ContactEmail),
		ContactEmailConfirm: strings.TrimSpace(f.ContactEmailConfirm),
		RegisteredEmail:     strings.TrimSpace(f.RegisteredEmail),
		Description:         strings.TrimSpace(f.Description),
	}
}

// TicketRequest converts a validated form into the stashed request.
func (f Form) TicketRequest() ticketing.Request {
	return ticketing.Request{
		RequesterEmail:  f.ContactEmail,
		RequesterName:   f.Username,
		RegisteredEmail: f.RegisteredEmail,
		Description:     f.Description,
	}
}

var (
	validate *validator.Validate

	// Mail providers behind the support desk reject addresses without a
	// dotted domain and letter TLD.
	strictEmailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

func init() {
	validate = newValidator()
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("strictemail", func(fl validator.FieldLevel) bool {
		return IsStrictEmail(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	// Report fields by their form names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		return name
	})
	return v
}

// IsEmail performs ordinary email syntax validation.
func IsEmail(address string) bool {
	return validate.Var(address, "email") == nil
}

// IsStrictEmail accepts only plain local@domain.tld addresses whose local
// part has no empty dot-separated segment.
func IsStrictEmail(address string) bool {
	if !IsEmail(address) || !strictEmailPattern.MatchString(address) {
		return false
	}

	local, domain, _ := strings.Cut(address, "@")
	return local != "" &&
		domain != "" &&
		!strings.Contains(local, "..") &&
		!strings.HasPrefix(local, ".") &&
		!strings.HasSuffix(local, ".")
}

// Validate checks a trimmed form and returns a *ValidationError for the
// first offending field.
func (f Form) Validate() error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return err
		}
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Kind: kindForTag(fe.Tag())}
	}

	if !strings.EqualFold(f.ContactEmail, f.ContactEmailConfirm) {
		return &ValidationError{Field: "contact_email_confirm", Kind: KindMismatch}
	}
	return nil
}

func kindForTag(tag string) ErrorKind {
	switch tag {
	case "required":
		return KindRequired
	case "max":
		return KindTooLong
	default:
		return KindInvalidEmail
	}
}
