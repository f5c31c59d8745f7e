// Package cache stores raw history responses for closed windows in Redis.
//
// A window is closed once its end lies further in the past than the settle
// delay. Stations upload late and the API keeps filling recent hours, so
// only closed windows are safe to serve from cache; open windows always go
// to the API.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{DeviceID: "abc123", Start: w.Start, End: w.End}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then
//		_ = manager.Set(ctx, key, cache.NewEntry(body, time.Now(), 7*24*time.Hour))
//	}
//
// # Metrics
//
//   - wxm_cache_lookups_total{result} - Lookups by result (hit, miss, expired)
//   - wxm_cache_bytes_total{direction} - Page bytes stored or served
//   - wxm_cache_errors_total{operation} - Cache operation errors
package cache
