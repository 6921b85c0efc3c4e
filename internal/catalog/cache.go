// Package catalog caches the backend model listing. Fetches are deduplicated
// so concurrent cache misses produce a single upstream call, and every fetched
// model is run through the rename mapper so the cache serves client-facing
// names and the mapper learns the reverse mapping.
package catalog

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tjfontaine/copilot-bridge/internal/api/copilot"
	"github.com/tjfontaine/copilot-bridge/internal/rename"
)

// Lister fetches the backend model list. *copilot.Client satisfies it.
type Lister interface {
	ListModels(ctx context.Context, token string) (*copilot.ModelList, error)
}

// Cache is a TTL cache over the backend model listing. A TTL of zero disables
// caching and every call fetches.
type Cache struct {
	lister Lister
	mapper *rename.Mapper
	ttl    time.Duration

	group singleflight.Group

	mu        sync.RWMutex
	models    []copilot.Model
	fetchedAt time.Time
}

// New creates a cache. mapper may be nil, in which case model ids pass
// through unchanged.
func New(lister Lister, mapper *rename.Mapper, ttl time.Duration) *Cache {
	return &Cache{
		lister: lister,
		mapper: mapper,
		ttl:    ttl,
	}
}

// Models returns the model list with client-facing ids, fetching from the
// backend when the cached copy is missing or stale.
func (c *Cache) Models(ctx context.Context, token string) ([]copilot.Model, error) {
	if models, ok := c.cached(); ok {
		return models, nil
	}

	v, err, _ := c.group.Do("models", func() (any, error) {
		// A concurrent caller may have repopulated while we waited on the
		// flight lock.
		if models, ok := c.cached(); ok {
			return models, nil
		}
		return c.fetch(ctx, token)
	})
	if err != nil {
		return nil, err
	}
	return v.([]copilot.Model), nil
}

func (c *Cache) cached() ([]copilot.Model, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.models == nil || time.Since(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.models, true
}

func (c *Cache) fetch(ctx context.Context, token string) ([]copilot.Model, error) {
	list, err := c.lister.ListModels(ctx, token)
	if err != nil {
		return nil, err
	}

	models := make([]copilot.Model, len(list.Data))
	copy(models, list.Data)
	if c.mapper != nil {
		for i := range models {
			clientID := c.mapper.ToClient(models[i].ID)
			if clientID != models[i].ID {
				c.mapper.Register(models[i].ID, clientID)
				models[i].ID = clientID
			}
		}
	}

	c.mu.Lock()
	c.models = models
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return models, nil
}
