package core

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultRightsCacheSize and DefaultRightsCacheTTL bound CachedRights.
const (
	DefaultRightsCacheSize = 1024
	DefaultRightsCacheTTL  = time.Minute
)

type rightsKey struct {
	admin  bool
	user   string
	entity EntityRef
}

// CachedRights memoizes another Rights implementation per user and entity for
// a bounded time. Batch operations ask the same question once per row.
type CachedRights struct {
	next  Rights
	cache *expirable.LRU[rightsKey, bool]
}

// NewCachedRights wraps next. A size or ttl <= 0 selects the default.
func NewCachedRights(next Rights, size int, ttl time.Duration) *CachedRights {
	if next == nil {
		next = AllowAll{}
	}
	if size <= 0 {
		size = DefaultRightsCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultRightsCacheTTL
	}
	return &CachedRights{next: next, cache: expirable.NewLRU[rightsKey, bool](size, nil, ttl)}
}

// CanEdit implements Rights.
func (c *CachedRights) CanEdit(ctx context.Context, user string, entity EntityRef) bool {
	return c.lookup(rightsKey{user: user, entity: entity}, func() bool {
		return c.next.CanEdit(ctx, user, entity)
	})
}

// CanAdmin implements Rights.
func (c *CachedRights) CanAdmin(ctx context.Context, user string, study EntityRef) bool {
	return c.lookup(rightsKey{admin: true, user: user, entity: study}, func() bool {
		return c.next.CanAdmin(ctx, user, study)
	})
}

// Purge forgets every cached answer.
func (c *CachedRights) Purge() {
	c.cache.Purge()
}

func (c *CachedRights) lookup(key rightsKey, ask func() bool) bool {
	if allowed, ok := c.cache.Get(key); ok {
		return allowed
	}
	allowed := ask()
	c.cache.Add(key, allowed)
	return allowed
}
