package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type CacheConfig struct {
	URLTTL        time.Duration
	URLMaxEntries int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		URLTTL:        5 * time.Minute,
		URLMaxEntries: 1024,
	}
}

// CachedStore fronts an origin store with a small TTL cache for signed
// read URLs. Existence checks and upload URLs always go to the origin:
// a stale miss would suppress a legitimate cache hit and a reused PUT URL
// could outlive its window.
type CachedStore struct {
	origin Store
	urls   *expirable.LRU[string, string]
	urlTTL time.Duration
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	def := DefaultCacheConfig()
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = def.URLTTL
	}
	if cfg.URLMaxEntries <= 0 {
		cfg.URLMaxEntries = def.URLMaxEntries
	}
	return &CachedStore{
		origin: origin,
		urls:   expirable.NewLRU[string, string](cfg.URLMaxEntries, nil, cfg.URLTTL),
		urlTTL: cfg.URLTTL,
	}
}

func (c *CachedStore) Exists(ctx context.Context, object string) bool {
	return c.origin.Exists(ctx, object)
}

func (c *CachedStore) SignedGetURL(ctx context.Context, object string, expiry time.Duration) (string, error) {
	// Only cache when the cached copy is guaranteed to expire well before
	// the URL itself does.
	cacheable := expiry > 2*c.urlTTL
	if cacheable {
		if u, ok := c.urls.Get(object); ok {
			return u, nil
		}
	}
	u, err := c.origin.SignedGetURL(ctx, object, expiry)
	if err != nil {
		return "", err
	}
	if cacheable {
		c.urls.Add(object, u)
	}
	return u, nil
}

func (c *CachedStore) SignedPutURL(ctx context.Context, object string, expiry time.Duration) (string, error) {
	return c.origin.SignedPutURL(ctx, object, expiry)
}
