// Package client provides the authenticated WeatherXM HTTP client with
// error classification, optional Redis caching of closed history windows,
// and upstream rate limit tracking.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/wxm-history/pkg/cache"
	"github.com/Sternrassler/wxm-history/pkg/ratelimit"
	"github.com/Sternrassler/wxm-history/pkg/record"
	"github.com/Sternrassler/wxm-history/pkg/window"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the public WeatherXM API root.
const DefaultBaseURL = "https://api.weatherxm.com/api/v1"

// maxErrorBody limits how much of an error response ends up in messages.
const maxErrorBody = 512

// Prometheus metrics for API requests.
var (
	wxmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wxm_requests_total",
		Help: "Total WeatherXM API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	wxmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wxm_request_duration_seconds",
		Help:    "WeatherXM API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	wxmErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wxm_errors_total",
		Help: "Total WeatherXM API errors by class",
	}, []string{"class"})
)

// Device is a station registered to the account.
type Device struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
}

// Client talks to the WeatherXM API.
type Client struct {
	httpClient  *http.Client
	cache       *cache.Manager
	rateLimiter *ratelimit.Tracker
	config      Config
	logger      zerolog.Logger
	now         func() time.Time
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. https://api.weatherxm.com/api/v1
	BaseURL string

	// DeviceID selects the station whose history is fetched.
	DeviceID string

	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// Redis enables the history cache and shared rate limit state. Optional.
	Redis *redis.Client

	// CacheTTL is how long a closed window stays cached.
	CacheTTL time.Duration

	// SettleDelay is how long after a window ends before it is treated as
	// closed; stations upload late, so recent windows are never cached.
	SettleDelay time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(deviceID, userAgent string) Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		DeviceID:    deviceID,
		UserAgent:   userAgent,
		Timeout:     30 * time.Second,
		CacheTTL:    7 * 24 * time.Hour,
		SettleDelay: 6 * time.Hour,
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "wxm-client").Logger()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logger,
		now:    time.Now,
	}

	if cfg.Redis != nil {
		c.cache = cache.NewManager(cfg.Redis)
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, logger)
	}

	return c, nil
}

// FetchPage performs one history request for w. It does not retry; callers
// combine it with Retry and token refresh.
func (c *Client) FetchPage(ctx context.Context, token string, w window.Window) ([]byte, error) {
	if c.config.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	key := cache.Key{DeviceID: c.config.DeviceID, Start: w.Start, End: w.End}
	cacheable := c.cache != nil && cache.IsClosed(w.End, c.now(), c.config.SettleDelay)

	if cacheable {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			c.logger.Debug().Str("window", w.String()).Msg("History window served from cache")
			return entry.Data, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("window", w.String()).Msg("Cache get error")
		}
	}

	u, err := url.JoinPath(c.config.BaseURL, "me", "devices", c.config.DeviceID, "history")
	if err != nil {
		return nil, fmt.Errorf("build history url: %w", err)
	}
	q := url.Values{}
	q.Set("fromDate", w.Start.Format(time.RFC3339))
	q.Set("toDate", w.End.Format(time.RFC3339))

	body, err := c.do(ctx, http.MethodGet, "history", u+"?"+q.Encode(), token)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if _, perr := record.ParsePage(body); perr != nil {
			c.logger.Warn().Err(perr).Str("window", w.String()).Msg("History page not cached")
			return body, nil
		}
		if err := c.cache.Set(ctx, key, cache.NewEntry(body, c.now(), c.config.CacheTTL)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache history window")
		}
	}

	return body, nil
}

// ListDevices returns the stations registered to the account.
func (c *Client) ListDevices(ctx context.Context, token string) ([]Device, error) {
	u, err := url.JoinPath(c.config.BaseURL, "me", "devices")
	if err != nil {
		return nil, fmt.Errorf("build devices url: %w", err)
	}

	var body []byte
	err = Retry(ctx, DefaultRetryConfig(), func(int) error {
		var reqErr error
		body, reqErr = c.do(ctx, http.MethodGet, "devices", u, token)
		return reqErr
	})
	if err != nil {
		return nil, err
	}

	var devices []Device
	if err := json.Unmarshal(body, &devices); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	return devices, nil
}

// do executes a single request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, endpoint, target, token string) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		wxmRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if c.rateLimiter != nil {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Rate limit check failed")
		} else if !allowed {
			wxmRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
			wxmErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			apiErr := &APIError{
				ErrorClass: ErrorClassRateLimit,
				Message:    "request blocked: upstream rate limit critical",
			}
			if state, serr := c.rateLimiter.GetState(ctx); serr == nil {
				apiErr.RetryAfter = state.TimeUntilReset()
			}
			return nil, apiErr
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", method).
		Str("url", req.URL.Redacted()).
		Msg("Executing request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
		wxmErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		wxmRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, &APIError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	if c.rateLimiter != nil {
		if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	wxmRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			wxmErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassNetwork,
				Message:    "read response body",
				Err:        err,
			}
		}
		return body, nil
	}

	errClass := classifyStatus(resp.StatusCode)
	if errClass == "" {
		errClass = ErrorClassClient
	}
	wxmErrorsTotal.WithLabelValues(string(errClass)).Inc()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := resp.Status
	if s := strings.TrimSpace(string(snippet)); s != "" {
		message += ": " + s
	}

	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Str("error_class", string(errClass)).
		Msg("WeatherXM request error")

	return nil, &APIError{
		StatusCode: resp.StatusCode,
		ErrorClass: errClass,
		Message:    message,
		RetryAfter: retryAfterHeader(resp.Header),
	}
}

// retryAfterHeader reads a delay-seconds Retry-After value.
func retryAfterHeader(h http.Header) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get(ratelimit.HeaderRetryAfter)))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// PurgeCache drops every cached window of the configured device.
func (c *Client) PurgeCache(ctx context.Context) (int, error) {
	if c.cache == nil {
		return 0, fmt.Errorf("purge cache: redis is not configured")
	}
	return c.cache.Purge(ctx, c.config.DeviceID)
}
