// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codeberg.org/oliverandrich/emailauth/internal/services/ticketing"
	"codeberg.org/oliverandrich/emailauth/internal/stash"
)

// DefaultStashTTL keeps pending requests well past the confirmation window
// so an expired link can still trigger a resend.
const DefaultStashTTL = 24 * time.Hour

var ErrCorruptRecord = errors.New("corrupt pending request")

// Record is a pending request as stored under its token.
type Record struct {
	TicketData ticketing.Request `json:"ticket_data"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Store persists pending recovery requests in a stash.
type Store struct {
	stash  stash.Stash
	prefix string
	ttl    time.Duration
}

func NewStore(s stash.Stash, prefix string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultStashTTL
	}
	return &Store{stash: s, prefix: prefix, ttl: ttl}
}

// Key returns the stash key for token.
func (s *Store) Key(token string) string {
	return stash.Key(s.prefix, "accountrecovery", token)
}

// Put stores req under token. Rewriting an existing token replaces the
// record as a whole.
func (s *Store) Put(ctx context.Context, token string, req ticketing.Request, createdAt time.Time) error {
	data, err := json.Marshal(Record{TicketData: req, CreatedAt: createdAt.UTC()})
	if err != nil {
		return fmt.Errorf("encoding pending request: %w", err)
	}
	return s.stash.Set(ctx, s.Key(token), data, s.ttl)
}

// Get returns the record for token. A missing token is reported through
// found, not as an error.
func (s *Store) Get(ctx context.Context, token string) (*Record, bool, error) {
	data, found, err := s.stash.Get(ctx, s.Key(token))
	if err != nil || !found {
		return nil, false, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &rec, true, nil
}

// Delete removes token's record; deleting a missing token is a no-op.
func (s *Store) Delete(ctx context.Context, token string) error {
	return s.stash.Delete(ctx, s.Key(token))
}
