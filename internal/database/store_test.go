package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crate/internal/logging"
	"crate/pkg/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	store, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "test.db"), 5, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, newSQLiteStore)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("CRATE_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("CRATE_TEST_POSTGRES_URL not set")
	}
	runStoreContract(t, func(t *testing.T) Store {
		store, err := Open(context.Background(), url, 5, logging.Discard())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "mysql://localhost/db", 1, logging.Discard())
	require.Error(t, err)
}

// runStoreContract exercises behavior both backends must share. Every
// subtest uses fresh user IDs so a shared Postgres database stays usable.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	store := newStore(t)

	t.Run("InsertCartEntryIsIdempotent", func(t *testing.T) {
		user := uuid.NewString()

		inserted, err := store.InsertCartEntry(ctx, user, "set13", 12)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = store.InsertCartEntry(ctx, user, "set13", 12)
		require.NoError(t, err)
		assert.False(t, inserted)

		count, err := store.CountCart(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		contains, err := store.CartContains(ctx, user, "set13")
		require.NoError(t, err)
		assert.True(t, contains)
	})

	t.Run("InsertCartEntryRespectsLimit", func(t *testing.T) {
		user := uuid.NewString()
		for i := 1; i <= 3; i++ {
			inserted, err := store.InsertCartEntry(ctx, user, fmt.Sprintf("set%d", i), 3)
			require.NoError(t, err)
			require.True(t, inserted)
		}

		inserted, err := store.InsertCartEntry(ctx, user, "set4", 3)
		require.NoError(t, err)
		assert.False(t, inserted)

		ids, err := store.ListCart(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, []string{"set1", "set2", "set3"}, ids)
	})

	t.Run("InsertCartEntriesAllOrNothing", func(t *testing.T) {
		user := uuid.NewString()
		require.NoError(t, store.InsertCartEntries(ctx, user, []string{"set1", "set2"}, 3))

		err := store.InsertCartEntries(ctx, user, []string{"set3", "set4"}, 3)
		require.ErrorIs(t, err, ErrLimitExceeded)

		ids, err := store.ListCart(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, []string{"set1", "set2"}, ids)
	})

	t.Run("ClearCart", func(t *testing.T) {
		user := uuid.NewString()
		require.NoError(t, store.ClearCart(ctx, user), "clearing an empty cart succeeds")

		require.NoError(t, store.InsertCartEntries(ctx, user, []string{"set1", "set2"}, 12))
		require.NoError(t, store.ClearCart(ctx, user))

		ids, err := store.ListCart(ctx, user)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("CartsAreScopedByUser", func(t *testing.T) {
		alice, bob := uuid.NewString(), uuid.NewString()
		require.NoError(t, store.InsertCartEntries(ctx, alice, []string{"set1"}, 12))

		ids, err := store.ListCart(ctx, bob)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("InsertPurchaseIsIdempotent", func(t *testing.T) {
		user := uuid.NewString()

		inserted, err := store.InsertPurchase(ctx, user, "set1")
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = store.InsertPurchase(ctx, user, "set1")
		require.NoError(t, err)
		assert.False(t, inserted)

		entries, err := store.ListPurchases(ctx, user)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "set1", entries[0].BundleID)
		assert.False(t, entries[0].PurchasedAt.IsZero())

		owned, err := store.HasPurchase(ctx, user, "set1")
		require.NoError(t, err)
		assert.True(t, owned)

		owned, err = store.HasPurchase(ctx, user, "set2")
		require.NoError(t, err)
		assert.False(t, owned)
	})

	t.Run("PromoteCartOncePerSession", func(t *testing.T) {
		user := uuid.NewString()
		session := "cs_" + uuid.NewString()
		require.NoError(t, store.InsertCartEntries(ctx, user, []string{"set13", "set14"}, 12))

		promotion, err := store.PromoteCart(ctx, user, session)
		require.NoError(t, err)
		assert.False(t, promotion.AlreadyPromoted)
		assert.Equal(t, []string{"set13", "set14"}, promotion.BundleIDs)

		ids, err := store.ListCart(ctx, user)
		require.NoError(t, err)
		assert.Empty(t, ids)

		// A refilled cart is not touched by a repeated confirmation.
		require.NoError(t, store.InsertCartEntries(ctx, user, []string{"set15"}, 12))
		promotion, err = store.PromoteCart(ctx, user, session)
		require.NoError(t, err)
		assert.True(t, promotion.AlreadyPromoted)
		assert.Empty(t, promotion.BundleIDs)

		ids, err = store.ListCart(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, []string{"set15"}, ids)

		entries, err := store.ListPurchases(ctx, user)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("ConcurrentPromotionPromotesOnce", func(t *testing.T) {
		user := uuid.NewString()
		session := "cs_" + uuid.NewString()
		require.NoError(t, store.InsertCartEntries(ctx, user, []string{"set13", "set14", "set15"}, 12))

		var wg sync.WaitGroup
		results := make([]Promotion, 4)
		errs := make([]error, 4)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = store.PromoteCart(ctx, user, session)
			}(i)
		}
		wg.Wait()

		fresh := 0
		for i := range results {
			require.NoError(t, errs[i])
			if !results[i].AlreadyPromoted {
				fresh++
				assert.Len(t, results[i].BundleIDs, 3)
			}
		}
		assert.Equal(t, 1, fresh)

		entries, err := store.ListPurchases(ctx, user)
		require.NoError(t, err)
		assert.Len(t, entries, 3)
	})

	t.Run("ConcurrentCartInsertsRespectLimit", func(t *testing.T) {
		user := uuid.NewString()

		var wg sync.WaitGroup
		for i := 1; i <= 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.InsertCartEntry(ctx, user, fmt.Sprintf("set%d", i), 12)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		count, err := store.CountCart(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 12, count)
	})

	t.Run("SessionLifecycle", func(t *testing.T) {
		now := time.Now().Truncate(time.Millisecond)
		session := &models.Session{
			ID:        uuid.NewString(),
			UserID:    uuid.NewString(),
			Theme:     "light-mode",
			CreatedAt: now,
			ExpiresAt: now.Add(24 * time.Hour),
		}

		before, err := store.CountSessions(ctx, now)
		require.NoError(t, err)

		require.NoError(t, store.SaveSession(ctx, session))
		loaded, err := store.GetSession(ctx, session.ID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, session.UserID, loaded.UserID)
		assert.True(t, session.ExpiresAt.Equal(loaded.ExpiresAt))

		after, err := store.CountSessions(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, before+1, after)

		// Saving again updates theme and expiry but keeps the identity.
		session.Theme = "dark-mode"
		session.ExpiresAt = now.Add(48 * time.Hour)
		session.UserID = "ignored"
		require.NoError(t, store.SaveSession(ctx, session))
		loaded, err = store.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "dark-mode", loaded.Theme)
		assert.NotEqual(t, "ignored", loaded.UserID)
		assert.True(t, session.ExpiresAt.Equal(loaded.ExpiresAt))

		require.NoError(t, store.DeleteSession(ctx, session.ID))
		loaded, err = store.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("DeleteExpiredSessions", func(t *testing.T) {
		past := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
		expired := &models.Session{ID: uuid.NewString(), UserID: uuid.NewString(), Theme: "light-mode", CreatedAt: past, ExpiresAt: past.Add(time.Hour)}
		live := &models.Session{ID: uuid.NewString(), UserID: uuid.NewString(), Theme: "light-mode", CreatedAt: past, ExpiresAt: time.Now().Add(time.Hour)}
		require.NoError(t, store.SaveSession(ctx, expired))
		require.NoError(t, store.SaveSession(ctx, live))

		removed, err := store.DeleteExpiredSessions(ctx, past.Add(2*time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, removed, int64(1))

		gone, err := store.GetSession(ctx, expired.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)

		kept, err := store.GetSession(ctx, live.ID)
		require.NoError(t, err)
		assert.NotNil(t, kept)
	})

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, store.Ping(ctx))
	})
}

func TestSQLiteSessionsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")
	session := &models.Session{
		ID:        "sid",
		UserID:    "u1",
		Theme:     "dark-mode",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}

	store, err := NewSQLiteStore(path, 1, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, store.SaveSession(ctx, session))
	require.NoError(t, store.InsertCartEntries(ctx, "u1", []string{"set13"}, 12))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, 1, logging.Discard())
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.GetSession(ctx, "sid")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "u1", loaded.UserID)

	ids, err := reopened.ListCart(ctx, loaded.UserID)
	require.NoError(t, err)
	assert.Equal(t, []string{"set13"}, ids)
}
