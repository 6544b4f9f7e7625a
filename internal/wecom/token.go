// ABOUTME: Access token cache for the WeCom REST API with proactive refresh
// ABOUTME: Coalesces concurrent refreshes through a singleflight group

package wecom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// refreshMargin is how long before expiry a token is considered stale. The
// platform issues multi-thousand-second tokens, so refreshing early never
// starves callers.
const refreshMargin = 5 * time.Minute

// tokenCache caches the platform's short-lived API credential. Concurrent
// callers hitting a stale token share a single in-flight refresh; some
// platforms invalidate previously issued tokens on refresh, so parallel
// refreshes are not just wasteful but harmful.
type tokenCache struct {
	fetch func(ctx context.Context) (string, time.Duration, error)

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	group     singleflight.Group
	now       func() time.Time
}

func newTokenCache(fetch func(ctx context.Context) (string, time.Duration, error)) *tokenCache {
	return &tokenCache{
		fetch: fetch,
		now:   time.Now,
	}
}

// Get returns a valid access token, refreshing it if absent or near expiry.
func (tc *tokenCache) Get(ctx context.Context) (string, error) {
	tc.mu.Lock()
	if tc.token != "" && tc.now().Add(refreshMargin).Before(tc.expiresAt) {
		token := tc.token
		tc.mu.Unlock()
		return token, nil
	}
	tc.mu.Unlock()

	v, err, _ := tc.group.Do("token", func() (any, error) {
		token, ttl, err := tc.fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("refreshing access token: %w", err)
		}
		tc.mu.Lock()
		tc.token = token
		tc.expiresAt = tc.now().Add(ttl)
		tc.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate discards the cached token so the next Get refreshes.
func (tc *tokenCache) Invalidate() {
	tc.mu.Lock()
	tc.token = ""
	tc.expiresAt = time.Time{}
	tc.mu.Unlock()
}
