package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/your-org/stablewatch/internal/config"
	"github.com/your-org/stablewatch/internal/models"
)

// HotStore is the short-horizon identity cache. Keys are stream-scoped
// and carry a TTL so back-to-back chunks on the same stream skip the
// warm tier for volatile fields.
type HotStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewHotStore(cfg config.RedisConfig, ttl time.Duration) *HotStore {
	return &HotStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: ttl,
	}
}

func (s *HotStore) Close() error { return s.client.Close() }

func (s *HotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// HotKey builds the canonical hot-tier key for one track on one stream.
func HotKey(streamID, trackID string) string {
	return fmt.Sprintf("horse:%s:%s:state", streamID, trackID)
}

// hotKeyPattern matches every track key of one stream.
func hotKeyPattern(streamID string) string {
	return fmt.Sprintf("horse:%s:*:state", streamID)
}

// Put writes one entry under its stream-scoped key, resetting the TTL.
func (s *HotStore) Put(ctx context.Context, e models.RegistryEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal hot entry: %w", err)
	}
	if err := s.client.Set(ctx, HotKey(e.StreamID, e.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: hot put %s: %v", models.ErrRegistryUnavailable, e.ID, err)
	}
	return nil
}

// Scan returns every live entry for a stream. Redis drops expired keys
// on its own; whatever SCAN yields is current.
func (s *HotStore) Scan(ctx context.Context, streamID string) (map[string]models.RegistryEntry, error) {
	out := make(map[string]models.RegistryEntry)

	iter := s.client.Scan(ctx, 0, hotKeyPattern(streamID), 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue // expired between scan and get
			}
			return nil, fmt.Errorf("%w: hot get %s: %v", models.ErrRegistryUnavailable, iter.Val(), err)
		}
		var e models.RegistryEntry
		if err := json.Unmarshal(data, &e); err != nil {
			continue // skip malformed entries rather than failing the load
		}
		out[e.ID] = e
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: hot scan %s: %v", models.ErrRegistryUnavailable, streamID, err)
	}
	return out, nil
}

// Expire deletes a stream's entries whose recorded update time has
// passed the TTL. Entries Redis already dropped cost nothing.
func (s *HotStore) Expire(ctx context.Context, streamID string) (int, error) {
	cutoff := float64(time.Now().Add(-s.ttl).Unix())
	return s.sweep(ctx, hotKeyPattern(streamID), cutoff)
}

// Cleanup sweeps every stream's entries older than the cutoff.
func (s *HotStore) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	return s.sweep(ctx, "horse:*:state", float64(cutoff.Unix()))
}

func (s *HotStore) sweep(ctx context.Context, pattern string, cutoff float64) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var e models.RegistryEntry
		if err := json.Unmarshal(data, &e); err != nil || e.LastUpdatedTime < cutoff {
			if s.client.Del(ctx, key).Err() == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: hot sweep: %v", models.ErrRegistryUnavailable, err)
	}
	return removed, nil
}
