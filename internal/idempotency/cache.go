package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "idempotency:v1:"

type cachedRecord struct {
	PayloadFP string    `json:"payload_fp"`
	JournalID string    `json:"journal_id"`
	Result    []byte    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Cache is a read-through copy of completed records kept in Redis. The store stays the
// source of truth; a nil Cache or client turns every call into a no-op miss.
type Cache struct {
	client *redis.Client
}

// NewCache wraps a Redis client. client may be nil.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func cacheKey(scopeFP string) string { return cachePrefix + scopeFP }

// Get returns the cached record for scopeFP, or nil on a miss.
func (c *Cache) Get(ctx context.Context, scopeFP string) (*Record, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, cacheKey(scopeFP)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency cache get: %w", err)
	}
	var stored cachedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("idempotency cache decode: %w", err)
	}
	return &Record{
		ScopeFP:   scopeFP,
		PayloadFP: stored.PayloadFP,
		JournalID: stored.JournalID,
		Result:    stored.Result,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}, nil
}

// Put stores rec until its expiry. Records without an expiry are kept for fallback.
func (c *Cache) Put(ctx context.Context, rec Record, fallback time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	ttl := fallback
	if !rec.ExpiresAt.IsZero() {
		ttl = time.Until(rec.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}
	payload, err := json.Marshal(cachedRecord{
		PayloadFP: rec.PayloadFP,
		JournalID: rec.JournalID,
		Result:    rec.Result,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("idempotency cache encode: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(rec.ScopeFP), payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency cache set: %w", err)
	}
	return nil
}
