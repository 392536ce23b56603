package postgresengine_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequentic/aggregate-streams-eventstore-go/bookmark"
	"github.com/sequentic/aggregate-streams-eventstore-go/bookmark/postgresengine"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

// These tests need a running Postgres; set POSTGRES_TEST_DSN to enable them.
func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func newPostgresBookmarkStore(t *testing.T) *postgresengine.Store {
	t.Helper()

	pool := newPool(t)

	store, err := postgresengine.NewStore(pool,
		postgresengine.WithTableName("bookmarks_"+uuid.New().String()[:8]))
	require.NoError(t, err)

	require.NoError(t, store.CreateSchema(context.Background()))

	return store
}

func Test_PostgresStore_BookmarkFor_MaterializesAtZero(t *testing.T) {
	store := newPostgresBookmarkStore(t)

	b, err := store.BookmarkFor(context.Background(), "projector-a")
	require.NoError(t, err)

	assert.Equal(t, "projector-a", b.Name)
	assert.Equal(t, eventstore.SequenceNumber(0), b.Sequence)
}

func Test_PostgresStore_SaveAndBatchRead(t *testing.T) {
	store := newPostgresBookmarkStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, bookmark.Bookmark{Name: "a", Sequence: 5}))
	require.NoError(t, store.Save(ctx, bookmark.Bookmark{Name: "a", Sequence: 9}))
	require.NoError(t, store.Save(ctx, bookmark.Bookmark{Name: "b", Sequence: 2}))

	bookmarks, err := store.BookmarksFor(ctx, []string{"a", "b", "never-seen"})
	require.NoError(t, err)
	require.Len(t, bookmarks, 3)

	assert.Equal(t, bookmark.Bookmark{Name: "a", Sequence: 9}, bookmarks[0])
	assert.Equal(t, bookmark.Bookmark{Name: "b", Sequence: 2}, bookmarks[1])
	assert.Equal(t, bookmark.Bookmark{Name: "never-seen", Sequence: 0}, bookmarks[2])
}

func Test_AdvisoryLock_ContentionAndFailover(t *testing.T) {
	pool := newPool(t)
	ctx := context.Background()
	name := "lock-" + uuid.New().String()[:8]

	holder, err := postgresengine.NewAdvisoryLock(pool)
	require.NoError(t, err)

	acquired, err := holder.TryLock(ctx, name)
	require.NoError(t, err)
	require.True(t, acquired)

	// Re-locking an owned name reports true.
	acquired, err = holder.TryLock(ctx, name)
	require.NoError(t, err)
	assert.True(t, acquired)

	standby, err := postgresengine.NewAdvisoryLock(pool)
	require.NoError(t, err)
	t.Cleanup(func() { _ = standby.Close() })

	acquired, err = standby.TryLock(ctx, name)
	require.NoError(t, err)
	assert.False(t, acquired)

	// Closing the holder's session releases the lock for the standby.
	require.NoError(t, holder.Close())

	acquired, err = standby.TryLock(ctx, name)
	require.NoError(t, err)
	assert.True(t, acquired)
}
