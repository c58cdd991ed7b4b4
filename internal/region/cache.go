package region

import (
	"context"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// The cache lives for a single synthesis pass; the TTL only bounds a pass that
// is abandoned without Close.
const defaultPassTTL = 5 * time.Minute

// PassCache memoizes successful resolutions for one synthesis pass.
type PassCache struct {
	resolver MetadataResolver
	cache    *ttlcache.Cache[string, Metadata]
}

func NewPassCache(resolver MetadataResolver) *PassCache {
	return &PassCache{
		resolver: resolver,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, Metadata](defaultPassTTL),
		),
	}
}

func (c *PassCache) Resolve(ctx context.Context, code string) (Metadata, error) {
	key := strings.ToUpper(code)
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	md, err := c.resolver.Resolve(ctx, code)
	if err != nil {
		return Metadata{}, err
	}
	c.cache.Set(key, md, ttlcache.DefaultTTL)
	return md, nil
}

func (c *PassCache) Len() int {
	return c.cache.Len()
}

// Close drops every memoized entry.
func (c *PassCache) Close() {
	c.cache.DeleteAll()
}
