// Package ratelimit tracks the upstream request quota reported by the
// WeatherXM API and gates requests before the account is throttled.
// It reads the X-RateLimit-Remaining and X-RateLimit-Reset headers and
// shares the state through Redis so parallel runs see the same budget.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "wxm:rate_limit:remaining"
	RedisKeyResetTimestamp = "wxm:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "wxm:rate_limit:last_update"
)

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks requests when remaining quota falls below this value.
	ThresholdCritical = 2

	// ThresholdWarning applies throttling when remaining quota falls below this value.
	ThresholdWarning = 10

	// ThresholdHealthy marks the quota as healthy at or above this value.
	ThresholdHealthy = 30
)

// State is the last known upstream quota.
type State struct {
	// Remaining is the number of requests left in the current quota window.
	Remaining int `json:"remaining"`

	// ResetAt is when the quota window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from response headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// HasReset reports whether the quota window has already rolled over, which
// makes the stored Remaining value meaningless.
func (s *State) HasReset() bool {
	return !s.ResetAt.IsZero() && !time.Now().Before(s.ResetAt)
}

// NeedsCriticalBlock returns true if requests should be blocked.
func (s *State) NeedsCriticalBlock() bool {
	return !s.HasReset() && s.Remaining < ThresholdCritical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return !s.HasReset() && s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the quota resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
