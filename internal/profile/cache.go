// Package profile resolves user ids to display profiles for the messaging
// views. Entries are cached for the life of the Cache and never invalidated.
package profile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
)

const (
	// SearchLimit caps prefix search results.
	SearchLimit = 10
	// upper bound of every string with a given prefix in code-point order
	prefixEnd = "\uf8ff"

	fetchConcurrency = 8
)

type Cache struct {
	store docstore.Store
	log   *slog.Logger

	mu      sync.RWMutex
	entries map[string]domain.Profile
	fetches singleflight.Group
}

func NewCache(store docstore.Store, log *slog.Logger) *Cache {
	return &Cache{store: store, log: log, entries: make(map[string]domain.Profile)}
}

func (c *Cache) cached(id string) (domain.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[id]
	return p, ok
}

// Get returns the profile of id. A user record that does not exist yields the
// fallback profile, which is cached like any other entry. Other failures also
// yield the fallback but are not cached, so a later call retries.
func (c *Cache) Get(ctx context.Context, id string) (domain.Profile, error) {
	if p, ok := c.cached(id); ok {
		return p, nil
	}
	v, err, _ := c.fetches.Do(id, func() (any, error) {
		if p, ok := c.cached(id); ok {
			return p, nil
		}
		p, err := c.fetch(ctx, id)
		if err != nil {
			return domain.FallbackProfile(id), err
		}
		return c.keep(p), nil
	})
	return v.(domain.Profile), err
}

// keep caches p unless id already has an entry, and returns the entry.
// Entries never change once written.
func (c *Cache) keep(p domain.Profile) domain.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[p.ID]; ok {
		return old
	}
	c.entries[p.ID] = p
	return p
}

func (c *Cache) fetch(ctx context.Context, id string) (domain.Profile, error) {
	d, err := c.store.Get(ctx, domain.UserPath(id))
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.FallbackProfile(id), nil
	}
	if err != nil {
		return domain.Profile{}, domain.NewError(domain.KindTransient, "profile.Get", err)
	}
	return decode(d), nil
}

func decode(d *docstore.Document) domain.Profile {
	p := domain.Profile{
		ID:            d.ID,
		Username:      d.String("username"),
		ProfilePicURL: d.String("profilePicUrl"),
	}
	if p.Username == "" {
		fb := domain.FallbackProfile(d.ID)
		p.Username = fb.Username
	}
	return p
}

// Resolve fetches every uncached id in parallel and returns the profiles of
// ids. Lookups that fail are logged and answered with the fallback profile;
// Resolve itself never fails.
func (c *Cache) Resolve(ctx context.Context, ids []string) map[string]domain.Profile {
	out := make(map[string]domain.Profile, len(ids))
	var missing []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := c.cached(id); ok {
			out[id] = p
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, id := range missing {
		g.Go(func() error {
			p, err := c.Get(gctx, id)
			if err != nil {
				c.log.Warn("profile lookup failed", "user_id", id, "err", err)
			}
			mu.Lock()
			out[id] = p
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Search returns up to SearchLimit users whose username starts with prefix,
// ordered by username, leaving out exclude. An empty prefix matches nobody.
func (c *Cache) Search(ctx context.Context, prefix, exclude string) ([]domain.Profile, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, nil
	}
	q := docstore.Collection(domain.UsersCollection).Order("username", false)
	q.StartAt = prefix
	q.EndAt = prefix + prefixEnd
	q.Limit = SearchLimit + 1

	docs, err := c.store.Query(ctx, q)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "profile.Search", err)
	}
	out := make([]domain.Profile, 0, len(docs))
	for _, d := range docs {
		if d.ID == exclude {
			continue
		}
		out = append(out, c.keep(decode(d)))
		if len(out) == SearchLimit {
			break
		}
	}
	return out, nil
}
