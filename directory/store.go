package directory

import (
	"context"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Entry is a cached directory together with the time it was fetched.
type Entry struct {
	Directory *Directory
	FetchedAt time.Time
}

// Store holds cache entries keyed by the exact directory URL. Stores do
// not expire entries on their own; freshness is decided by the Resolver at
// lookup time. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the entry for url. A miss is (Entry{}, false, nil).
	Get(ctx context.Context, url string) (Entry, bool, error)

	// Set stores or overwrites the entry for url.
	Set(ctx context.Context, url string, e Entry) error

	// Delete removes the entry for url. Deleting a missing entry is not an
	// error.
	Delete(ctx context.Context, url string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Keys returns the cached URLs in lexical order.
	Keys(ctx context.Context) ([]string, error)
}

// MemoryStore is an in-process Store backed by go-cache.
type MemoryStore struct {
	c *gocache.Cache
}

// NewMemoryStore returns an empty in-memory store. Entries never expire
// and no janitor goroutine is started.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, 0)}
}

func (m *MemoryStore) Get(_ context.Context, url string) (Entry, bool, error) {
	v, ok := m.c.Get(url)
	if !ok {
		return Entry{}, false, nil
	}

	e, ok := v.(Entry)

	return e, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, url string, e Entry) error {
	m.c.Set(url, e, gocache.NoExpiration)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, url string) error {
	m.c.Delete(url)
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.c.Flush()
	return nil
}

func (m *MemoryStore) Keys(_ context.Context) ([]string, error) {
	items := m.c.Items()

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys, nil
}
