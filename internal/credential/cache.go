package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/pysugar/account-nexus/internal/account"
)

// CachingService serves recent probe results from memory. Refreshes always
// go to the wrapped service.
type CachingService struct {
	Service
	probes *ttlcache.Cache[string, *ProbeResult]
}

// NewCachingService wraps inner with a probe cache of the given TTL.
func NewCachingService(inner Service, ttl time.Duration) *CachingService {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *ProbeResult](ttl),
		ttlcache.WithDisableTouchOnHit[string, *ProbeResult](),
	)
	return &CachingService{Service: inner, probes: cache}
}

func probeKey(creds account.Credentials) string {
	sum := sha256.Sum256([]byte(creds.Tokens().AccessToken))
	return hex.EncodeToString(sum[:])
}

// ProbeStatus returns a cached result for the same access token when one is
// still fresh.
func (c *CachingService) ProbeStatus(ctx context.Context, creds account.Credentials) (*ProbeResult, error) {
	if err := checkForProbe(creds); err != nil {
		return nil, err
	}
	key := probeKey(creds)
	if item := c.probes.Get(key); item != nil {
		return item.Value(), nil
	}
	res, err := c.Service.ProbeStatus(ctx, creds)
	if err != nil {
		return nil, err
	}
	if res.NewCredentials == nil {
		c.probes.Set(key, res, ttlcache.DefaultTTL)
	}
	return res, nil
}

// Uncached returns the wrapped service.
func (c *CachingService) Uncached() Service {
	return c.Service
}

// Invalidate drops the cached probe for creds.
func (c *CachingService) Invalidate(creds account.Credentials) {
	if creds == nil {
		return
	}
	c.probes.Delete(probeKey(creds))
}

// Purge drops every expired entry.
func (c *CachingService) Purge() {
	c.probes.DeleteExpired()
}

// Len is the number of cached probes.
func (c *CachingService) Len() int {
	return c.probes.Len()
}
