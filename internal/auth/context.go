// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth provides authentication context helpers.
package auth

import (
	"context"

	"codeberg.org/oliverandrich/emailauth/internal/ctxkeys"
	"codeberg.org/oliverandrich/emailauth/internal/services/session"
)

// WithSession returns a copy of ctx carrying st.
func WithSession(ctx context.Context, st *session.State) context.Context {
	return context.WithValue(ctx, ctxkeys.Session{}, st)
}

// GetSession returns the session state from the context, or nil if the
// session middleware did not run.
func GetSession(ctx context.Context) *session.State {
	if st, ok := ctx.Value(ctxkeys.Session{}).(*session.State); ok {
		return st
	}
	return nil
}

// IsAuthenticated returns true if the context has a fully logged-in session.
func IsAuthenticated(ctx context.Context) bool {
	return GetSession(ctx).Authenticated()
}
