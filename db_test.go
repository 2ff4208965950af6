package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func testAdapters(t *testing.T) map[string]DB {
	t.Helper()
	sqlite, err := NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.close() })

	return map[string]DB{
		"memory": NewMemoryDB(),
		"sqlite": sqlite,
	}
}

func TestDBUserLifecycle(t *testing.T) {
	ctx := context.Background()

	for name, db := range testAdapters(t) {
		t.Run(name, func(t *testing.T) {
			id := uuid.NewString()
			u, err := db.CreateUser(ctx, id, "a@x.com", "alice", "hash1")
			require.NoError(t, err)
			assert.Equal(t, id, u.ID)

			_, err = db.CreateUser(ctx, uuid.NewString(), "a@x.com", "other", "hash2")
			assert.ErrorIs(t, err, ErrDuplicateEmail)

			_, err = db.CreateUser(ctx, uuid.NewString(), "b@x.com", "alice", "hash2")
			assert.ErrorIs(t, err, ErrDuplicateUsername)

			got, err := db.GetUserByEmail(ctx, "a@x.com")
			require.NoError(t, err)
			assert.Equal(t, id, got.ID)
			assert.Equal(t, "alice", got.Username)

			got, err = db.GetUserByID(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "a@x.com", got.Email)

			_, err = db.GetUserByEmail(ctx, "missing@x.com")
			assert.ErrorIs(t, err, ErrNotFound)

			updated, err := db.UpdateUsername(ctx, id, "alice2")
			require.NoError(t, err)
			assert.Equal(t, "alice2", updated.Username)

			_, err = db.UpdateUsername(ctx, "no-such-id", "whatever")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.UpdatePassword(ctx, id, "hash3"))
			got, err = db.GetUserByID(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "hash3", got.Password)

			require.NoError(t, db.DeleteUser(ctx, id))
			_, err = db.GetUserByID(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, db.DeleteUser(ctx, id), ErrNotFound)
		})
	}
}

func TestDBUsernameTakenByAnotherUser(t *testing.T) {
	ctx := context.Background()

	for name, db := range testAdapters(t) {
		t.Run(name, func(t *testing.T) {
			id1 := uuid.NewString()
			id2 := uuid.NewString()
			_, err := db.CreateUser(ctx, id1, "c@x.com", "carol", "h")
			require.NoError(t, err)
			_, err = db.CreateUser(ctx, id2, "d@x.com", "dave", "h")
			require.NoError(t, err)

			_, err = db.UpdateUsername(ctx, id2, "carol")
			assert.ErrorIs(t, err, ErrDuplicateUsername)

			// renaming to your own name is fine
			_, err = db.UpdateUsername(ctx, id1, "carol")
			assert.NoError(t, err)
		})
	}
}

func TestDBResetTokens(t *testing.T) {
	ctx := context.Background()

	for name, db := range testAdapters(t) {
		t.Run(name, func(t *testing.T) {
			id := uuid.NewString()
			_, err := db.CreateUser(ctx, id, "e@x.com", "erin", "h")
			require.NoError(t, err)

			require.NoError(t, db.SetResetToken(ctx, id, "tok-1", time.Now().Add(time.Hour)))

			got, err := db.GetUserByResetToken(ctx, "tok-1")
			require.NoError(t, err)
			assert.Equal(t, id, got.ID)

			_, err = db.GetUserByResetToken(ctx, "")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.ClearResetToken(ctx, id))
			_, err = db.GetUserByResetToken(ctx, "tok-1")
			assert.ErrorIs(t, err, ErrNotFound)

			// expired tokens are never returned and get purged
			require.NoError(t, db.SetResetToken(ctx, id, "tok-2", time.Now().Add(-time.Minute)))
			_, err = db.GetUserByResetToken(ctx, "tok-2")
			assert.ErrorIs(t, err, ErrNotFound)

			n, err := db.PurgeExpiredResetTokens(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)

			got, err = db.GetUserByID(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, got.ResetToken)
		})
	}
}
