package fda

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/AndrewLee0430/medinotes/internal/cache"
)

func msec(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

const (
	labelTTL = 24 * time.Hour
	// Negative results expire sooner so a newly approved label is
	// picked up without waiting out the full day.
	notFoundTTL = time.Hour
)

// LabelGetter is the single-label lookup contract satisfied by Client.
type LabelGetter interface {
	GetLabel(ctx context.Context, drugName string) (*Label, error)
}

// CachedClient wraps a LabelGetter with a TTL cache. Found labels are
// cached for a day; "not found" is cached for an hour so persistently
// missing drugs do not hammer the upstream API.
type CachedClient struct {
	client LabelGetter
	cache  *cache.Cache
}

// NewCachedClient wraps client with the given cache.
func NewCachedClient(client LabelGetter, c *cache.Cache) *CachedClient {
	return &CachedClient{client: client, cache: c}
}

func labelKey(drugName string) string {
	return "fda_label:" + strings.ToLower(drugName)
}

// GetLabel returns the cached label for drugName, fetching and caching
// it on a miss. A nil label with nil error means "no label exists".
func (c *CachedClient) GetLabel(ctx context.Context, drugName string) (*Label, error) {
	key := labelKey(drugName)

	if v, ok := c.cache.Get(key); ok {
		label, _ := v.(*Label)
		return label, nil // label may be a cached negative (nil)
	}

	label, err := c.client.GetLabel(ctx, drugName)
	if err != nil {
		// Upstream failure is not cached; the next call retries.
		return nil, err
	}

	if label == nil {
		log.Printf("fda: no label found for %q", drugName)
		c.cache.Set(key, (*Label)(nil), notFoundTTL)
		return nil, nil
	}

	c.cache.Set(key, label, labelTTL)
	return label, nil
}

// CacheStats exposes the underlying cache counters.
func (c *CachedClient) CacheStats() cache.Stats {
	return c.cache.GetStats()
}
