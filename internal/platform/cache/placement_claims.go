package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the claim only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// PlacementClaimer serialises order placement per checkout session using SET NX.
type PlacementClaimer struct {
	client redis.UniversalClient
	keys   keyspace
}

// NewPlacementClaimer constructs a claimer storing locks under prefix.
func NewPlacementClaimer(client redis.UniversalClient, prefix string) *PlacementClaimer {
	return &PlacementClaimer{client: client, keys: keyspace{prefix: prefix}}
}

// Claim tries to take the placement lock for sessionKey. When acquired, release must be called to
// free it; otherwise the lock expires after ttl.
func (p *PlacementClaimer) Claim(ctx context.Context, sessionKey string, ttl time.Duration) (func(context.Context), bool, error) {
	key := p.keys.key("placement", sessionKey)
	token := ulid.Make().String()

	acquired, err := p.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	release := func(ctx context.Context) {
		_ = releaseScript.Run(ctx, p.client, []string{key}, token).Err()
	}
	return release, true, nil
}
