// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package session keeps per-browser login state. The cookie carries only a
// signed random id; the state itself lives in the stash.
package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"codeberg.org/oliverandrich/emailauth/internal/config"
	"codeberg.org/oliverandrich/emailauth/internal/services/challenge"
	"codeberg.org/oliverandrich/emailauth/internal/stash"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

// PendingLogin is a login whose password was accepted but whose email
// challenge is still open.
type PendingLogin struct {
	UserID    int64           `json:"user_id"`
	Challenge challenge.State `json:"challenge"`
}

// State is the server-side session value.
type State struct {
	ID       string        `json:"-"`
	UserID   int64         `json:"user_id,omitempty"`
	Username string        `json:"username,omitempty"`
	Pending  *PendingLogin `json:"pending,omitempty"`
}

// Authenticated reports whether a user is fully logged in.
func (s *State) Authenticated() bool {
	return s != nil && s.UserID != 0
}

// Manager handles session cookies and state.
type Manager struct {
	sc     *securecookie.SecureCookie
	store  stash.Stash
	prefix string
	cfg    *config.SessionConfig
}

// NewManager creates a session manager. An empty hash key generates a random
// one, which invalidates all sessions on restart.
func NewManager(cfg *config.SessionConfig, store stash.Stash, prefix string) (*Manager, error) {
	hashKey, err := decodeKey("session hash key", cfg.HashKey)
	if err != nil {
		return nil, err
	}
	if hashKey == nil {
		hashKey = securecookie.GenerateRandomKey(32)
	}

	blockKey, err := decodeKey("session block key", cfg.BlockKey)
	if err != nil {
		return nil, err
	}

	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(cfg.MaxAge)

	return &Manager{sc: sc, store: store, prefix: prefix, cfg: cfg}, nil
}

func decodeKey(name, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid %s: must be 32 bytes, got %d", name, len(key))
	}
	return key, nil
}

func (m *Manager) key(id string) string {
	return stash.Key(m.prefix, "session", id)
}

func (m *Manager) ttl() time.Duration {
	return time.Duration(m.cfg.MaxAge) * time.Second
}

// Parse returns the session id carried by r, or "" when the cookie is
// missing, tampered with or expired.
func (m *Manager) Parse(r *http.Request) string {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return ""
	}
	var id string
	if err := m.sc.Decode(m.cfg.CookieName, cookie.Value, &id); err != nil {
		return ""
	}
	return id
}

// Load returns the state for r. Requests without a usable session get a
// fresh empty State that has not been stored yet.
func (m *Manager) Load(ctx context.Context, r *http.Request) (*State, error) {
	id := m.Parse(r)
	if id == "" {
		return &State{}, nil
	}

	data, found, err := m.store.Get(ctx, m.key(id))
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if !found {
		return &State{}, nil
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		// Unreadable state is treated as logged out
		return &State{}, nil
	}
	st.ID = id
	return &st, nil
}

// Save stores st, assigning an id on first save, and returns the cookie to
// set on the response.
func (m *Manager) Save(ctx context.Context, st *State) (*http.Cookie, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}

	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	if err := m.store.Set(ctx, m.key(st.ID), data, m.ttl()); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	return m.cookie(st.ID)
}

// Renew moves st to a new id to prevent session fixation. The caller must
// Save st afterwards.
func (m *Manager) Renew(ctx context.Context, st *State) error {
	if st.ID != "" {
		if err := m.store.Delete(ctx, m.key(st.ID)); err != nil {
			return fmt.Errorf("renewing session: %w", err)
		}
	}
	st.ID = uuid.NewString()
	return nil
}

// Destroy removes st and returns a cookie that clears the browser's copy.
func (m *Manager) Destroy(ctx context.Context, st *State) (*http.Cookie, error) {
	if st != nil && st.ID != "" {
		if err := m.store.Delete(ctx, m.key(st.ID)); err != nil {
			return nil, fmt.Errorf("destroying session: %w", err)
		}
	}
	return m.Clear(), nil
}

func (m *Manager) cookie(id string) (*http.Cookie, error) {
	encoded, err := m.sc.Encode(m.cfg.CookieName, id)
	if err != nil {
		return nil, fmt.Errorf("encoding session cookie: %w", err)
	}

	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   m.cfg.MaxAge,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// Clear returns a cookie that removes the session cookie.
func (m *Manager) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
