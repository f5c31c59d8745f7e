package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/wxm-history/pkg/client"
	"github.com/Sternrassler/wxm-history/pkg/logging"
	"github.com/Sternrassler/wxm-history/pkg/record"
	"github.com/Sternrassler/wxm-history/pkg/window"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrAllWindowsFailed is returned when every planned window was skipped.
var ErrAllWindowsFailed = errors.New("pipeline: all windows failed")

var (
	wxmWindowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wxm_windows_total",
		Help: "History windows processed by outcome",
	}, []string{"outcome"})

	wxmRecordsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wxm_records_fetched_total",
		Help: "Hourly records flattened from fetched pages",
	})

	wxmTokenRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wxm_token_refreshes_total",
		Help: "Bearer token refreshes triggered by 401 responses",
	})

	wxmRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wxm_pipeline_duration_seconds",
		Help:    "Duration of a full fetch-merge run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)

// PageFetcher fetches the raw body of one history window.
type PageFetcher interface {
	FetchPage(ctx context.Context, token string, w window.Window) ([]byte, error)
}

// TokenSource provides the current bearer token and replaces it on demand.
type TokenSource interface {
	Token() string
	Refresh(ctx context.Context) (string, error)
}

// Config holds pipeline configuration.
type Config struct {
	// PageSize is the longest span one request may cover.
	PageSize time.Duration

	// Timeout bounds each fetch attempt.
	Timeout time.Duration

	// Retry controls backoff for transient failures.
	Retry client.RetryConfig

	// Direction selects whether the oldest or the newest window is fetched first.
	Direction window.Direction
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:  window.DefaultPageSize,
		Timeout:   30 * time.Second,
		Retry:     client.DefaultRetryConfig(),
		Direction: window.Forward,
	}
}

// SkippedWindow is a window that produced no records.
type SkippedWindow struct {
	Window window.Window
	Err    error
}

// Result is the outcome of one Run.
type Result struct {
	// Records is the merged, ascending, duplicate free record set.
	Records []record.WeatherRecord

	// Fetched counts records flattened from successful pages.
	Fetched int

	// Windows is the number of planned windows.
	Windows int

	// Skipped lists windows that failed after all recovery attempts.
	Skipped []SkippedWindow

	// Pages holds the raw body of every successful page in window order.
	Pages []json.RawMessage

	// EffectiveStart is the start actually fetched from.
	EffectiveStart time.Time

	// End is the requested end.
	End time.Time
}

// Complete reports whether every planned window succeeded.
func (r *Result) Complete() bool {
	return len(r.Skipped) == 0
}

// Pipeline runs incremental history fetches.
type Pipeline struct {
	fetcher PageFetcher
	tokens  TokenSource
	config  Config
	logger  zerolog.Logger
}

// New creates a pipeline. Zero config values fall back to DefaultConfig.
func New(fetcher PageFetcher, tokens TokenSource, config Config) *Pipeline {
	defaults := DefaultConfig()
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = defaults.Retry
	}

	return &Pipeline{
		fetcher: fetcher,
		tokens:  tokens,
		config:  config,
		logger:  logging.NewLogger("pipeline"),
	}
}

// EffectiveStart returns start moved to one second after the newest
// existing record when that is later.
func EffectiveStart(existing []record.WeatherRecord, start time.Time) time.Time {
	last, ok := record.Last(existing)
	if !ok {
		return start
	}
	if next := last.Add(time.Second); next.After(start) {
		return next
	}
	return start
}

// Run fetches [start, end) minus what existing already covers and returns
// the merged set. Per-window failures are collected in Result.Skipped.
func (p *Pipeline) Run(ctx context.Context, existing []record.WeatherRecord, start, end time.Time) (*Result, error) {
	began := time.Now()
	defer func() {
		wxmRunDuration.Observe(time.Since(began).Seconds())
	}()

	effective := EffectiveStart(existing, start)
	result := &Result{
		EffectiveStart: effective,
		End:            end,
	}

	var plan []window.Window
	if effective.Before(end) {
		var err error
		plan, err = window.Plan(effective, end, p.config.PageSize, p.config.Direction)
		if err != nil {
			return nil, fmt.Errorf("plan windows: %w", err)
		}
	}
	result.Windows = len(plan)

	if len(plan) == 0 {
		p.logger.Info().
			Time("effective_start", effective).
			Time("end", end).
			Msg("Nothing to fetch, existing records are up to date")
		result.Records = record.Merge(existing)
		return result, nil
	}

	p.logger.Info().
		Time("effective_start", effective).
		Time("end", end).
		Int("windows", len(plan)).
		Str("direction", p.config.Direction.String()).
		Msg("Starting history fetch")

	fetched := make([][]record.WeatherRecord, 0, len(plan))
	for i, w := range plan {
		body, err := p.fetchWindow(ctx, w)
		if err == nil {
			var records []record.WeatherRecord
			records, err = record.ParsePage(body)
			if err == nil {
				fetched = append(fetched, records)
				result.Pages = append(result.Pages, json.RawMessage(body))
				result.Fetched += len(records)
				wxmRecordsFetchedTotal.Add(float64(len(records)))
				wxmWindowsTotal.WithLabelValues("ok").Inc()

				p.logger.Debug().
					Time("window_start", w.Start).
					Time("window_end", w.End).
					Int("records", len(records)).
					Int("window", i+1).
					Int("windows", len(plan)).
					Msg("Window fetched")
				continue
			}
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("pipeline aborted: %w", ctxErr)
		}

		wxmWindowsTotal.WithLabelValues("skipped").Inc()
		result.Skipped = append(result.Skipped, SkippedWindow{Window: w, Err: err})
		p.logger.Warn().
			Err(err).
			Time("window_start", w.Start).
			Time("window_end", w.End).
			Str("error_class", string(client.ClassOf(err))).
			Msg("Window skipped")
	}

	if len(result.Skipped) == len(plan) {
		p.logger.Error().
			Int("windows", len(plan)).
			Msg("Every window failed")
		return result, fmt.Errorf("%w (%d windows)", ErrAllWindowsFailed, len(plan))
	}

	result.Records = record.Merge(existing, fetched...)

	p.logger.Info().
		Int("fetched", result.Fetched).
		Int("merged", len(result.Records)).
		Int("skipped", len(result.Skipped)).
		Dur("duration", time.Since(began)).
		Msg("History fetch complete")

	return result, nil
}

// fetchWindow fetches one window, retrying transient errors and refreshing
// the token at most once.
func (p *Pipeline) fetchWindow(ctx context.Context, w window.Window) ([]byte, error) {
	refreshed := false
	for {
		body, err := p.fetchWithRetry(ctx, w)
		if err == nil {
			return body, nil
		}
		if refreshed || !client.IsAuthExpired(err) {
			return nil, err
		}

		refreshed = true
		wxmTokenRefreshesTotal.Inc()
		p.logger.Info().
			Time("window_start", w.Start).
			Msg("Token rejected, refreshing")

		if _, rerr := p.tokens.Refresh(ctx); rerr != nil {
			return nil, fmt.Errorf("%w (refresh failed: %v)", err, rerr)
		}
	}
}

func (p *Pipeline) fetchWithRetry(ctx context.Context, w window.Window) ([]byte, error) {
	var body []byte
	err := client.Retry(ctx, p.config.Retry, func(int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()

		var err error
		body, err = p.fetcher.FetchPage(attemptCtx, p.tokens.Token(), w)
		return err
	})
	return body, err
}
