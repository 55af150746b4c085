package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each record as a JSON value whose Redis TTL matches ExpiresAt, so Sweep has
// nothing to do.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore namespaces keys under prefix, "idempotency:" when empty.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "idempotency:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	ttl = normalizeTTL(ttl)
	record := pending(key, fingerprint, now.UTC(), ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Proceed, Record{}, fmt.Errorf("idempotency: encode: %w", err)
	}
	id := s.prefix + documentID(key)

	// SETNX then GET can race with expiry; a vanished record is simply claimed again.
	for range 3 {
		claimed, err := s.client.SetNX(ctx, id, payload, ttl).Result()
		if err != nil {
			return Proceed, Record{}, fmt.Errorf("idempotency: claim: %w", err)
		}
		if claimed {
			return Proceed, record, nil
		}
		existing, found, err := s.get(ctx, s.client, id)
		if err != nil {
			return Proceed, Record{}, err
		}
		if !found {
			continue
		}
		outcome, err := decide(existing, true, fingerprint, now)
		if err == nil && outcome == Proceed {
			// Logically expired but still held by Redis, e.g. after clock skew between instances.
			if err := s.client.Del(ctx, id).Err(); err != nil {
				return Proceed, Record{}, fmt.Errorf("idempotency: drop stale key: %w", err)
			}
			continue
		}
		return outcome, existing, err
	}
	return Proceed, Record{}, errors.New("idempotency: key expired repeatedly while claiming")
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ttl = normalizeTTL(ttl)
	id := s.prefix + documentID(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, found, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		record, err := completed(existing, found, key, fingerprint, resp, now.UTC(), ttl)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("idempotency: encode: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return pipe.Set(ctx, id, payload, ttl).Err()
		})
		return err
	}, id)
}

func (s *RedisStore) Abandon(ctx context.Context, key, fingerprint string) error {
	id := s.prefix + documentID(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, found, err := s.get(ctx, tx, id)
		if err != nil || !found || existing.Fingerprint != fingerprint {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return pipe.Del(ctx, id).Err()
		})
		return err
	}, id)
}

func (s *RedisStore) Sweep(context.Context, time.Time, int) (int, error) { return 0, nil }

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c redisGetter, id string) (Record, bool, error) {
	data, err := c.Get(ctx, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode: %w", err)
	}
	return record, true, nil
}

var _ Store = (*RedisStore)(nil)
