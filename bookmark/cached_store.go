package bookmark

import (
	"context"
	"sync"
)

// CachingStore decorates a Store with a write-through in-memory cache. Hot
// polling loops read their own bookmark every cycle; serving those reads
// from memory keeps that load off the database while every Save still goes
// through synchronously.
//
// Only valid while this process is the exclusive owner of the cached names,
// which the bookmark Lock already guarantees for async processors.
type CachingStore struct {
	inner Store

	mu    sync.RWMutex
	cache map[string]Bookmark
}

// NewCachingStore wraps the given store with a write-through cache.
func NewCachingStore(inner Store) *CachingStore {
	return &CachingStore{
		inner: inner,
		cache: make(map[string]Bookmark),
	}
}

// BookmarkFor serves from the cache after the first load.
func (s *CachingStore) BookmarkFor(ctx context.Context, name string) (Bookmark, error) {
	s.mu.RLock()
	cached, hit := s.cache[name]
	s.mu.RUnlock()

	if hit {
		return cached, nil
	}

	loaded, loadErr := s.inner.BookmarkFor(ctx, name)
	if loadErr != nil {
		return Bookmark{}, loadErr
	}

	s.mu.Lock()
	s.cache[name] = loaded
	s.mu.Unlock()

	return loaded, nil
}

// Save writes through to the inner store, then updates the cache.
func (s *CachingStore) Save(ctx context.Context, b Bookmark) error {
	if saveErr := s.inner.Save(ctx, b); saveErr != nil {
		return saveErr
	}

	s.mu.Lock()
	s.cache[b.Name] = b
	s.mu.Unlock()

	return nil
}

// BookmarksFor loads cache misses from the inner store in one call and
// returns results in input order.
func (s *CachingStore) BookmarksFor(ctx context.Context, names []string) ([]Bookmark, error) {
	found := make(map[string]Bookmark, len(names))
	missing := make([]string, 0)

	s.mu.RLock()
	for _, name := range names {
		if cached, hit := s.cache[name]; hit {
			found[name] = cached
		} else {
			missing = append(missing, name)
		}
	}
	s.mu.RUnlock()

	if len(missing) > 0 {
		loaded, loadErr := s.inner.BookmarksFor(ctx, missing)
		if loadErr != nil {
			return nil, loadErr
		}

		s.mu.Lock()
		for _, b := range loaded {
			found[b.Name] = b
			s.cache[b.Name] = b
		}
		s.mu.Unlock()
	}

	bookmarks := make([]Bookmark, 0, len(names))
	for _, name := range names {
		bookmarks = append(bookmarks, found[name])
	}

	return bookmarks, nil
}
