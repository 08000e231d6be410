// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package challenge

import (
	"context"

	"codeberg.org/oliverandrich/emailauth/internal/models"
)

// Messages are the user-facing texts of a challenge. The line carrying the
// code is appended to Intro by the Service and cannot be customized.
type Messages struct {
	Prompt  string
	Subject string
	Intro   string
}

// Policy decides who is challenged and may adjust the wording.
type Policy interface {
	ShouldRequireVerification(ctx context.Context, user *models.User) bool
	CustomizeMessages(ctx context.Context, user *models.User, defaults Messages) Messages
}

// DefaultPolicy challenges every user with an email address on file. With
// RequireConfirmedEmail set, users whose address is unconfirmed are exempt
// instead of having it confirmed by a successful login.
type DefaultPolicy struct {
	RequireConfirmedEmail bool
}

func (p DefaultPolicy) ShouldRequireVerification(_ context.Context, user *models.User) bool {
	if p.RequireConfirmedEmail && !user.EmailConfirmed() {
		return false
	}
	return true
}

func (p DefaultPolicy) CustomizeMessages(_ context.Context, _ *models.User, defaults Messages) Messages {
	return defaults
}

// PolicyFunc adapts a plain function to Policy with default messages.
type PolicyFunc func(ctx context.Context, user *models.User) bool

func (f PolicyFunc) ShouldRequireVerification(ctx context.Context, user *models.User) bool {
	return f(ctx, user)
}

func (f PolicyFunc) CustomizeMessages(_ context.Context, _ *models.User, defaults Messages) Messages {
	return defaults
}
