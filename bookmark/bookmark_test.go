package bookmark_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequentic/aggregate-streams-eventstore-go/bookmark"
	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

func Test_MemoryStore_BookmarkFor_MaterializesAtZero(t *testing.T) {
	store := bookmark.NewMemoryStore()

	b, err := store.BookmarkFor(context.Background(), "projector-a")
	require.NoError(t, err)

	assert.Equal(t, "projector-a", b.Name)
	assert.Equal(t, eventstore.SequenceNumber(0), b.Sequence)
}

func Test_MemoryStore_Save_AdvancesBookmark(t *testing.T) {
	store := bookmark.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, bookmark.Bookmark{Name: "projector-a", Sequence: 7}))

	b, err := store.BookmarkFor(ctx, "projector-a")
	require.NoError(t, err)
	assert.Equal(t, eventstore.SequenceNumber(7), b.Sequence)
}

func Test_MemoryStore_BookmarksFor_ReportsUnknownNamesAtZeroInOrder(t *testing.T) {
	store := bookmark.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, bookmark.Bookmark{Name: "b", Sequence: 3}))

	bookmarks, err := store.BookmarksFor(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, bookmarks, 3)

	assert.Equal(t, bookmark.Bookmark{Name: "a", Sequence: 0}, bookmarks[0])
	assert.Equal(t, bookmark.Bookmark{Name: "b", Sequence: 3}, bookmarks[1])
	assert.Equal(t, bookmark.Bookmark{Name: "c", Sequence: 0}, bookmarks[2])
}

func Test_Checkout_ReturnsBookmarkWhenLockAcquired(t *testing.T) {
	store := bookmark.NewMemoryStore()
	registry := bookmark.NewMemoryLockRegistry()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, bookmark.Bookmark{Name: "p", Sequence: 12}))

	b, err := bookmark.Checkout(ctx, registry.NewSession(), store, "p")
	require.NoError(t, err)
	assert.Equal(t, eventstore.SequenceNumber(12), b.Sequence)
}

func Test_Checkout_LockHeldElsewhere_ReturnsLockNotObtained(t *testing.T) {
	store := bookmark.NewMemoryStore()
	registry := bookmark.NewMemoryLockRegistry()
	ctx := context.Background()

	holder := registry.NewSession()
	acquired, err := holder.TryLock(ctx, "p")
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = bookmark.Checkout(ctx, registry.NewSession(), store, "p")
	assert.ErrorIs(t, err, eventstore.ErrLockNotObtained)
}

func Test_TryLock_ReLockingOwnName_ReportsTrue(t *testing.T) {
	registry := bookmark.NewMemoryLockRegistry()
	session := registry.NewSession()
	ctx := context.Background()

	acquired, err := session.TryLock(ctx, "p")
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = session.TryLock(ctx, "p")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func Test_Lock_Failover_ClosedHolderFreesTheName(t *testing.T) {
	registry := bookmark.NewMemoryLockRegistry()
	ctx := context.Background()

	holder := registry.NewSession()
	acquired, err := holder.TryLock(ctx, "p")
	require.NoError(t, err)
	require.True(t, acquired)

	standby := registry.NewSession()
	acquired, err = standby.TryLock(ctx, "p")
	require.NoError(t, err)
	require.False(t, acquired)

	require.NoError(t, holder.Close())

	acquired, err = standby.TryLock(ctx, "p")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func Test_Lock_Close_IsIdempotent(t *testing.T) {
	registry := bookmark.NewMemoryLockRegistry()
	session := registry.NewSession()

	_, err := session.TryLock(context.Background(), "p")
	require.NoError(t, err)

	assert.NoError(t, session.Close())
	assert.NoError(t, session.Close())
}

// countingStore records how many reads reach the wrapped store.
type countingStore struct {
	inner         bookmark.Store
	bookmarkReads int
	batchReads    int
}

func (s *countingStore) BookmarkFor(ctx context.Context, name string) (bookmark.Bookmark, error) {
	s.bookmarkReads++
	return s.inner.BookmarkFor(ctx, name)
}

func (s *countingStore) Save(ctx context.Context, b bookmark.Bookmark) error {
	return s.inner.Save(ctx, b)
}

func (s *countingStore) BookmarksFor(ctx context.Context, names []string) ([]bookmark.Bookmark, error) {
	s.batchReads++
	return s.inner.BookmarksFor(ctx, names)
}

func Test_CachingStore_ServesRepeatedReadsFromMemory(t *testing.T) {
	counted := &countingStore{inner: bookmark.NewMemoryStore()}
	cached := bookmark.NewCachingStore(counted)
	ctx := context.Background()

	for range 5 {
		_, err := cached.BookmarkFor(ctx, "p")
		require.NoError(t, err)
	}

	assert.Equal(t, 1, counted.bookmarkReads)
}

func Test_CachingStore_WritesThroughSynchronously(t *testing.T) {
	inner := bookmark.NewMemoryStore()
	cached := bookmark.NewCachingStore(inner)
	ctx := context.Background()

	require.NoError(t, cached.Save(ctx, bookmark.Bookmark{Name: "p", Sequence: 9}))

	// The inner store must already hold the new position.
	b, err := inner.BookmarkFor(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, eventstore.SequenceNumber(9), b.Sequence)

	b, err = cached.BookmarkFor(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, eventstore.SequenceNumber(9), b.Sequence)
}

func Test_CachingStore_BatchReads_OnlyLoadMisses(t *testing.T) {
	counted := &countingStore{inner: bookmark.NewMemoryStore()}
	cached := bookmark.NewCachingStore(counted)
	ctx := context.Background()

	require.NoError(t, cached.Save(ctx, bookmark.Bookmark{Name: "a", Sequence: 1}))
	require.NoError(t, cached.Save(ctx, bookmark.Bookmark{Name: "b", Sequence: 2}))

	bookmarks, err := cached.BookmarksFor(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, bookmarks, 2)
	assert.Equal(t, 0, counted.batchReads)

	bookmarks, err = cached.BookmarksFor(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, bookmarks, 3)
	assert.Equal(t, 1, counted.batchReads)
	assert.Equal(t, bookmark.Bookmark{Name: "c", Sequence: 0}, bookmarks[2])
}
