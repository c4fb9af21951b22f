// internal/lti/keycache.go
package lti

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// keySetCache caches a platform's published key set per URL so launches do
// not pay a network round trip every time. Entries are refreshed after ttl,
// or on demand when a token references a key id we do not hold.
type keySetCache struct {
	mu      sync.RWMutex
	entries map[string]keySetEntry

	client *http.Client
	ttl    time.Duration
	now    func() time.Time
}

type keySetEntry struct {
	set     jwk.Set
	fetched time.Time
}

func newKeySetCache(client *http.Client, ttl time.Duration) *keySetCache {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &keySetCache{
		entries: make(map[string]keySetEntry),
		client:  client,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a cached key set when fresh, fetching otherwise.
func (c *keySetCache) Get(ctx context.Context, url string) (jwk.Set, error) {
	c.mu.RLock()
	e, ok := c.entries[url]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.fetched) < c.ttl {
		return e.set, nil
	}
	return c.Refresh(ctx, url)
}

// Refresh fetches the key set unconditionally and replaces the cache entry.
// Used on a key-id miss, when the platform may have rotated keys.
func (c *keySetCache) Refresh(ctx context.Context, url string) (jwk.Set, error) {
	set, err := c.fetch(ctx, url)
	if err != nil {
		// transient transport errors get one retry; key-set fetch is idempotent
		set, err = c.fetch(ctx, url)
		if err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	c.entries[url] = keySetEntry{set: set, fetched: c.now()}
	c.mu.Unlock()
	return set, nil
}

func (c *keySetCache) fetch(ctx context.Context, url string) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("key set fetch: platform returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return jwk.Parse(body)
}
