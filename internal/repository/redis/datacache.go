package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

const dataPrefix = "data:"

// staleFactor sizes the stale slot relative to the primary TTL.
const staleFactor = 3

// DataCache stores external API payloads in a two-slot entry: a primary slot
// at the configured TTL and a stale slot at staleFactor times that TTL. The
// stale slot is a fallback reservoir read only when a fresh fetch fails, not
// a normal read path.
//
// Cache failures are invisible to callers: reads degrade to a miss, writes
// are best-effort.
type DataCache struct {
	client *Client
	ttl    time.Duration
}

// NewDataCache creates a cache with the given default primary TTL.
func NewDataCache(client *Client, ttl time.Duration) *DataCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DataCache{client: client, ttl: ttl}
}

func (c *DataCache) primaryKey(key string) string { return dataPrefix + key }
func (c *DataCache) staleKey(key string) string   { return dataPrefix + key + ":stale" }

// Get reads the primary slot.
func (c *DataCache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	return c.read(ctx, c.primaryKey(key))
}

// GetStale reads the longer-lived stale slot.
func (c *DataCache) GetStale(ctx context.Context, key string) (json.RawMessage, bool) {
	return c.read(ctx, c.staleKey(key))
}

// Set writes both slots: the primary at ttl (or the cache default when
// ttl <= 0) and the stale copy at staleFactor times that.
func (c *DataCache) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.rdb.Set(ctx, c.primaryKey(key), []byte(value), ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("data cache write failed")
		return
	}
	if err := c.client.rdb.Set(ctx, c.staleKey(key), []byte(value), ttl*staleFactor).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("stale cache write failed")
	}
}

func (c *DataCache) read(ctx context.Context, fullKey string) (json.RawMessage, bool) {
	data, err := c.client.rdb.Get(ctx, fullKey).Bytes()
	if err != nil {
		if !isNil(err) {
			log.Debug().Err(err).Str("key", fullKey).Msg("data cache read failed")
		}
		return nil, false
	}
	return json.RawMessage(data), true
}
