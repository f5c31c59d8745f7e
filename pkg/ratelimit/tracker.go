package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Header names read from every API response.
const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// DefaultThrottleDelay is the pause applied to requests in the warning zone.
const DefaultThrottleDelay = 1 * time.Second

// MaxStateAge is how long stored state is trusted when the API did not
// announce a reset time.
const MaxStateAge = 5 * time.Minute

// epochCutoff separates "seconds until reset" from absolute unix timestamps
// in the reset header; APIs use both conventions.
const epochCutoff = 1_000_000_000

// Prometheus metrics for rate limit tracking.
var (
	wxmRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wxm_rate_limit_remaining",
		Help: "Requests remaining in the current WeatherXM quota window",
	})

	wxmRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wxm_rate_limit_blocks_total",
		Help: "Total number of requests blocked because the quota is nearly exhausted",
	})

	wxmRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wxm_rate_limit_throttles_total",
		Help: "Total number of requests delayed because the quota is low",
	})
)

// Tracker monitors the upstream quota and gates requests.
type Tracker struct {
	redis         *redis.Client
	logger        zerolog.Logger
	throttleDelay time.Duration
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		logger:        logger,
		throttleDelay: DefaultThrottleDelay,
	}
}

// SetThrottleDelay overrides the warning zone pause.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// GetState retrieves the current rate limit state from Redis.
// Returns a default healthy state if no data exists in Redis.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	values, err := t.redis.MGet(ctx, RedisKeyRemaining, RedisKeyResetTimestamp, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	if values[0] == nil {
		t.logger.Debug().Msg("No rate limit state in Redis, returning default healthy state")
		return &State{
			Remaining:  ThresholdHealthy,
			LastUpdate: time.Now(),
			IsHealthy:  true,
		}, nil
	}

	remaining, err := redisInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	resetUnix, err := redisInt(values[1])
	if err != nil {
		return nil, fmt.Errorf("parse reset timestamp: %w", err)
	}
	lastUnix, err := redisInt(values[2])
	if err != nil {
		return nil, fmt.Errorf("parse last update: %w", err)
	}

	state := &State{
		Remaining:  int(remaining),
		LastUpdate: time.Unix(lastUnix, 0),
	}
	if resetUnix > 0 {
		state.ResetAt = time.Unix(resetUnix, 0)
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders parses quota headers and updates Redis state.
// A response without quota headers leaves the state untouched.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	now := time.Now()

	remainStr := headers.Get(HeaderRemaining)
	retryAfter := headers.Get(HeaderRetryAfter)
	if remainStr == "" && retryAfter == "" {
		return nil
	}

	state := &State{LastUpdate: now}

	if remainStr != "" {
		remain, err := strconv.Atoi(remainStr)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
		}
		state.Remaining = remain
	}

	if resetStr := headers.Get(HeaderReset); resetStr != "" {
		reset, err := strconv.ParseInt(resetStr, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderReset, err)
		}
		state.ResetAt = resetTime(now, reset)
	}

	// 429 responses carry Retry-After; the quota is exhausted until then.
	if retryAfter != "" {
		seconds, err := strconv.ParseInt(retryAfter, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRetryAfter, err)
		}
		state.Remaining = 0
		state.ResetAt = now.Add(time.Duration(seconds) * time.Second)
	}
	state.UpdateHealth()

	var resetUnix int64
	if !state.ResetAt.IsZero() {
		resetUnix = state.ResetAt.Unix()
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, resetUnix, 0)
	pipe.Set(ctx, RedisKeyLastUpdate, now.Unix(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	wxmRateLimitRemaining.Set(float64(state.Remaining))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("WeatherXM quota CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("WeatherXM quota low - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("WeatherXM quota updated")
	}

	return nil
}

// ShouldAllowRequest checks if a request should be allowed based on current state.
// Returns false if the request should be blocked.
// In the warning zone it waits for the throttle delay or until ctx is done.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.ResetAt.IsZero() && state.IsStale(MaxStateAge) {
		return true, nil
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("WeatherXM quota critical - blocking request")

		wxmRateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("WeatherXM quota low - throttling request")

		wxmRateLimitThrottlesTotal.Inc()
		timer := time.NewTimer(t.throttleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}

// Reset clears the stored state.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.redis.Del(ctx, RedisKeyRemaining, RedisKeyResetTimestamp, RedisKeyLastUpdate).Err(); err != nil {
		return fmt.Errorf("reset rate limit state: %w", err)
	}
	return nil
}

func resetTime(now time.Time, v int64) time.Time {
	if v >= epochCutoff {
		return time.Unix(v, 0)
	}
	return now.Add(time.Duration(v) * time.Second)
}

func redisInt(v interface{}) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	case int64:
		return val, nil
	default:
		return 0, errors.New("unexpected redis value type")
	}
}
