package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout/internal/domain"
)

const defaultRateTTL = 30 * time.Minute

// ShippingRateCache stores calculated package rates as JSON under the package hash.
type ShippingRateCache struct {
	client redis.UniversalClient
	keys   keyspace
	ttl    time.Duration
}

// NewShippingRateCache constructs the cache. A non-positive ttl falls back to 30 minutes.
func NewShippingRateCache(client redis.UniversalClient, prefix string, ttl time.Duration) *ShippingRateCache {
	if ttl <= 0 {
		ttl = defaultRateTTL
	}
	return &ShippingRateCache{client: client, keys: keyspace{prefix: prefix}, ttl: ttl}
}

type cachedRate struct {
	ID         string            `json:"id"`
	MethodID   string            `json:"method_id"`
	InstanceID int               `json:"instance_id"`
	Label      string            `json:"label"`
	Cost       string            `json:"cost"`
	Taxes      map[string]string `json:"taxes,omitempty"`
}

// GetRates returns the cached rates. A miss reports ok=false without error.
func (c *ShippingRateCache) GetRates(ctx context.Context, key string) ([]domain.ShippingRate, bool, error) {
	data, err := c.client.Get(ctx, c.keys.key("shipping_rates", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var cached []cachedRate
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false, fmt.Errorf("unmarshal shipping rates failed: %w", err)
	}
	rates := make([]domain.ShippingRate, 0, len(cached))
	for _, entry := range cached {
		rate, err := entry.toDomain()
		if err != nil {
			return nil, false, err
		}
		rates = append(rates, rate)
	}
	return rates, true, nil
}

// PutRates replaces the cached rates for key.
func (c *ShippingRateCache) PutRates(ctx context.Context, key string, rates []domain.ShippingRate) error {
	cached := make([]cachedRate, 0, len(rates))
	for _, rate := range rates {
		entry := cachedRate{
			ID:         rate.ID,
			MethodID:   rate.MethodID,
			InstanceID: rate.InstanceID,
			Label:      rate.Label,
			Cost:       rate.Cost.String(),
		}
		if len(rate.Taxes) > 0 {
			entry.Taxes = make(map[string]string, len(rate.Taxes))
			for id, amount := range rate.Taxes {
				entry.Taxes[id] = amount.String()
			}
		}
		cached = append(cached, entry)
	}
	payload, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal shipping rates failed: %w", err)
	}
	if err := c.client.Set(ctx, c.keys.key("shipping_rates", key), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r cachedRate) toDomain() (domain.ShippingRate, error) {
	cost, err := decimal.NewFromString(r.Cost)
	if err != nil {
		return domain.ShippingRate{}, fmt.Errorf("cached rate %s: invalid cost: %w", r.ID, err)
	}
	rate := domain.ShippingRate{
		ID:         r.ID,
		MethodID:   r.MethodID,
		InstanceID: r.InstanceID,
		Label:      r.Label,
		Cost:       cost,
	}
	if len(r.Taxes) > 0 {
		rate.Taxes = make(map[string]decimal.Decimal, len(r.Taxes))
		for id, raw := range r.Taxes {
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				return domain.ShippingRate{}, fmt.Errorf("cached rate %s: invalid tax %s: %w", r.ID, id, err)
			}
			rate.Taxes[id] = amount
		}
	}
	return rate, nil
}
