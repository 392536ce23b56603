package bookmark

import (
	"context"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

// Bookmark is a named consumer's durable checkpoint: the last global
// sequence it has fully processed. Bookmarks are created lazily at sequence
// 0 and only ever advance.
type Bookmark struct {
	Name     string
	Sequence eventstore.SequenceNumber
}

// Store is the durable checkpoint port.
type Store interface {
	// BookmarkFor returns the bookmark with the given name, materializing it
	// at sequence 0 if absent.
	BookmarkFor(ctx context.Context, name string) (Bookmark, error)

	// Save persists the bookmark.
	Save(ctx context.Context, b Bookmark) error

	// BookmarksFor returns the bookmarks for all given names; names never
	// referenced before are reported at sequence 0 without being persisted.
	BookmarksFor(ctx context.Context, names []string) ([]Bookmark, error)
}

// Lock is the cross-process mutual-exclusion port, keyed by bookmark name.
// Ownership is scoped to a session: when the holding session dies, the lock
// is released without manual intervention, so another worker can take over.
type Lock interface {
	// TryLock makes a non-blocking attempt to become the exclusive owner of
	// the given bookmark name. Re-locking a name this session already owns
	// reports true.
	TryLock(ctx context.Context, name string) (bool, error)

	// Close releases all locks held by this session. Idempotent.
	Close() error
}

// Checkout composes "acquire lock" and "read bookmark": the caller either
// becomes the exclusive owner and learns its position, or backs off with
// eventstore.ErrLockNotObtained.
func Checkout(ctx context.Context, lock Lock, store Store, name string) (Bookmark, error) {
	acquired, lockErr := lock.TryLock(ctx, name)
	if lockErr != nil {
		return Bookmark{}, lockErr
	}

	if !acquired {
		return Bookmark{}, eventstore.ErrLockNotObtained
	}

	return store.BookmarkFor(ctx, name)
}
