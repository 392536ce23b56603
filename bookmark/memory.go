package bookmark

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-node tooling.
type MemoryStore struct {
	mu        sync.RWMutex
	sequences map[string]uint64
}

// NewMemoryStore creates an empty in-process bookmark store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sequences: make(map[string]uint64),
	}
}

// BookmarkFor returns the named bookmark, materializing it at sequence 0.
func (s *MemoryStore) BookmarkFor(ctx context.Context, name string) (Bookmark, error) {
	if err := ctx.Err(); err != nil {
		return Bookmark{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sequence, exists := s.sequences[name]
	if !exists {
		s.sequences[name] = 0
	}

	return Bookmark{Name: name, Sequence: sequence}, nil
}

// Save persists the bookmark.
func (s *MemoryStore) Save(ctx context.Context, b Bookmark) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[b.Name] = b.Sequence

	return nil
}

// BookmarksFor returns the bookmarks for all given names; unknown names are
// reported at sequence 0 without being persisted.
func (s *MemoryStore) BookmarksFor(ctx context.Context, names []string) ([]Bookmark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bookmarks := make([]Bookmark, 0, len(names))
	for _, name := range names {
		bookmarks = append(bookmarks, Bookmark{Name: name, Sequence: s.sequences[name]})
	}

	return bookmarks, nil
}

// MemoryLockRegistry coordinates in-process lock sessions. It stands in for
// the database in the same way the Postgres advisory-lock adapter's server
// does: sessions created from one registry contend with each other.
type MemoryLockRegistry struct {
	mu     sync.Mutex
	owners map[string]*MemoryLock
}

// NewMemoryLockRegistry creates an empty lock registry.
func NewMemoryLockRegistry() *MemoryLockRegistry {
	return &MemoryLockRegistry{
		owners: make(map[string]*MemoryLock),
	}
}

// NewSession creates a lock session bound to this registry.
func (r *MemoryLockRegistry) NewSession() *MemoryLock {
	return &MemoryLock{registry: r}
}

// MemoryLock is one session's handle on the registry. Closing it releases
// everything the session owns, mirroring a dying database connection.
type MemoryLock struct {
	registry *MemoryLockRegistry
}

// TryLock makes a non-blocking attempt to own the given bookmark name.
func (l *MemoryLock) TryLock(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.registry.mu.Lock()
	defer l.registry.mu.Unlock()

	owner, held := l.registry.owners[name]
	if held {
		return owner == l, nil
	}

	l.registry.owners[name] = l

	return true, nil
}

// Close releases all locks held by this session. Idempotent.
func (l *MemoryLock) Close() error {
	l.registry.mu.Lock()
	defer l.registry.mu.Unlock()

	for name, owner := range l.registry.owners {
		if owner == l {
			delete(l.registry.owners, name)
		}
	}

	return nil
}

// Ensure the in-process adapters satisfy the ports.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*CachingStore)(nil)
	_ Lock  = (*MemoryLock)(nil)
)
