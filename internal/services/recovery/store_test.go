// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/oliverandrich/emailauth/internal/services/recovery"
	"codeberg.org/oliverandrich/emailauth/internal/services/ticketing"
	"codeberg.org/oliverandrich/emailauth/internal/stash"
	"codeberg.org/oliverandrich/emailauth/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGetDelete(t *testing.T) {
	mr, client := testutil.NewTestRedis(t)
	store := recovery.NewStore(stash.NewRedis(client), "test", time.Hour)
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	req := ticketing.Request{RequesterEmail: "alice@example.org", RequesterName: "alice"}

	require.NoError(t, store.Put(ctx, "abc123", req, created))
	assert.True(t, mr.Exists("test:accountrecovery:abc123"))
	assert.Equal(t, time.Hour, mr.TTL("test:accountrecovery:abc123"))

	rec, found, err := store.Get(ctx, "abc123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, req, rec.TicketData)
	assert.True(t, created.Equal(rec.CreatedAt))

	require.NoError(t, store.Delete(ctx, "abc123"))
	_, found, err = store.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_CorruptRecord(t *testing.T) {
	mr, client := testutil.NewTestRedis(t)
	store := recovery.NewStore(stash.NewRedis(client), "test", 0)
	require.NoError(t, mr.Set("test:accountrecovery:abc123", "{not json"))

	_, found, err := store.Get(context.Background(), "abc123")

	assert.False(t, found)
	assert.ErrorIs(t, err, recovery.ErrCorruptRecord)
}

func TestStore_DefaultTTL(t *testing.T) {
	mr, client := testutil.NewTestRedis(t)
	store := recovery.NewStore(stash.NewRedis(client), "test", 0)

	require.NoError(t, store.Put(context.Background(), "abc", ticketing.Request{}, time.Now()))

	assert.Equal(t, recovery.DefaultStashTTL, mr.TTL("test:accountrecovery:abc"))
}
