package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wxm_cache_lookups_total",
		Help: "History cache lookups by result (hit, miss, expired)",
	}, []string{"result"})

	cacheBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wxm_cache_bytes_total",
		Help: "Bytes of history pages stored in or served from the cache",
	}, []string{"direction"})

	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wxm_cache_errors_total",
		Help: "Redis errors in cache operations",
	}, []string{"operation"})
)
