package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCountryTTL = 24 * time.Hour

// CountryCache remembers the resolved country of client IPs. Keys hash the IP so addresses are not
// stored in clear.
type CountryCache struct {
	client redis.UniversalClient
	keys   keyspace
	ttl    time.Duration
}

// NewCountryCache constructs the cache. A non-positive ttl falls back to 24 hours.
func NewCountryCache(client redis.UniversalClient, prefix string, ttl time.Duration) *CountryCache {
	if ttl <= 0 {
		ttl = defaultCountryTTL
	}
	return &CountryCache{client: client, keys: keyspace{prefix: prefix}, ttl: ttl}
}

// Get returns the cached country code for ip.
func (c *CountryCache) Get(ctx context.Context, ip string) (string, bool, error) {
	code, err := c.client.Get(ctx, c.countryKey(ip)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return code, true, nil
}

// Put stores the country code for ip.
func (c *CountryCache) Put(ctx context.Context, ip, country string) error {
	if err := c.client.Set(ctx, c.countryKey(ip), country, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *CountryCache) countryKey(ip string) string {
	sum := md5.Sum([]byte(ip))
	return c.keys.prefix + "gk_user_country_code_" + hex.EncodeToString(sum[:])
}
