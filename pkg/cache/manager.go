package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss is returned by Get when no live entry exists for a key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry is returned by Get when a stored value cannot be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// scanBatch is the COUNT hint used when purging a device.
const scanBatch = 100

// Manager stores history pages in Redis, one key per window.
type Manager struct {
	rdb *redis.Client
}

// NewManager returns a manager on rdb. It panics if rdb is nil.
func NewManager(rdb *redis.Client) *Manager {
	if rdb == nil {
		panic("cache: nil redis client")
	}
	return &Manager{rdb: rdb}
}

// Get returns the entry for key. A missing or expired entry yields
// ErrCacheMiss; an expired one is removed on the way.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	raw, err := m.rdb.Get(ctx, key.String()).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		cacheLookups.WithLabelValues("miss").Inc()
		return nil, ErrCacheMiss
	case err != nil:
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	entry := new(Entry)
	if err := json.Unmarshal(raw, entry); err != nil {
		cacheErrors.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEntry, key, err)
	}

	if entry.IsExpired() {
		cacheLookups.WithLabelValues("expired").Inc()
		if err := m.Delete(ctx, key); err != nil {
			return nil, err
		}
		return nil, ErrCacheMiss
	}

	cacheLookups.WithLabelValues("hit").Inc()
	cacheBytes.WithLabelValues("served").Add(float64(len(entry.Data)))
	return entry, nil
}

// Set stores entry under key until entry.Expires. Entries that are already
// expired are ignored.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache set %s: nil entry", key)
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	if err := m.rdb.Set(ctx, key.String(), raw, ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("cache set %s: %w", key, err)
	}

	cacheBytes.WithLabelValues("stored").Add(float64(len(entry.Data)))
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.rdb.Del(ctx, key.String()).Err(); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// Purge removes every cached window of deviceID and returns the number of
// keys deleted.
func (m *Manager) Purge(ctx context.Context, deviceID string) (int, error) {
	pattern := Key{DeviceID: deviceID}.devicePattern()

	var keys []string
	iter := m.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		cacheErrors.WithLabelValues("scan").Inc()
		return 0, fmt.Errorf("cache scan %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	n, err := m.rdb.Del(ctx, keys...).Result()
	if err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return 0, fmt.Errorf("cache purge %s: %w", deviceID, err)
	}
	return int(n), nil
}
