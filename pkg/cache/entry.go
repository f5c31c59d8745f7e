package cache

import "time"

// Entry is a cached history response.
type Entry struct {
	// Data is the raw response body.
	Data []byte `json:"data"`

	// FetchedAt is when the body was retrieved from the API.
	FetchedAt time.Time `json:"fetched_at"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`
}

// NewEntry builds an entry fetched at now that lives for ttl.
func NewEntry(data []byte, now time.Time, ttl time.Duration) *Entry {
	return &Entry{
		Data:      data,
		FetchedAt: now,
		Expires:   now.Add(ttl),
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// IsClosed reports whether a window ending at end can no longer receive
// new observations, i.e. end lies at least settle before now.
func IsClosed(end, now time.Time, settle time.Duration) bool {
	return !end.After(now.Add(-settle))
}
