package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/wxm-history/pkg/client"
	"github.com/Sternrassler/wxm-history/pkg/record"
	"github.com/Sternrassler/wxm-history/pkg/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hour(h int) time.Time {
	return base.Add(time.Duration(h) * time.Hour)
}

// fakeFetcher serves one hourly record per hour of the requested window,
// unless respond overrides the outcome.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   []window.Window
	tokens  []string
	respond func(call int, token string, w window.Window) ([]byte, error)
}

func (f *fakeFetcher) FetchPage(ctx context.Context, token string, w window.Window) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, w)
	f.tokens = append(f.tokens, token)
	call := len(f.calls)
	f.mu.Unlock()

	if f.respond != nil {
		return f.respond(call, token, w)
	}
	return hourlyPage(w, 1.0), nil
}

func hourlyPage(w window.Window, temp float64) []byte {
	body := `[{"hourly": [`
	first := true
	for t := w.Start.Truncate(time.Hour); t.Before(w.End); t = t.Add(time.Hour) {
		if t.Before(w.Start) {
			continue
		}
		if !first {
			body += ","
		}
		first = false
		body += fmt.Sprintf(`{"timestamp": %q, "temperature": %v}`, t.Format(time.RFC3339), temp)
	}
	return []byte(body + `]}]`)
}

type fakeTokens struct {
	token     string
	refreshes int
	next      string
	err       error
}

func (f *fakeTokens) Token() string { return f.token }

func (f *fakeTokens) Refresh(context.Context) (string, error) {
	f.refreshes++
	if f.err != nil {
		return "", f.err
	}
	f.token = f.next
	return f.token, nil
}

func testConfig() Config {
	return Config{
		PageSize: window.DefaultPageSize,
		Timeout:  time.Second,
		Retry: client.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        2 * time.Millisecond,
			BackoffMultiplier: 2,
		},
	}
}

func serverError() error {
	return &client.APIError{StatusCode: 503, ErrorClass: client.ErrorClassServer, Message: "unavailable"}
}

func unauthorized() error {
	return &client.APIError{StatusCode: 401, ErrorClass: client.ErrorClassAuth, Message: "expired"}
}

func TestRun_ThirtyHoursTwoWindows(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := New(fetcher, &fakeTokens{token: "t"}, testConfig())

	result, err := p.Run(context.Background(), nil, hour(0), hour(30))
	require.NoError(t, err)

	require.Len(t, fetcher.calls, 2)
	assert.Equal(t, window.Window{Start: hour(0), End: hour(24)}, fetcher.calls[0])
	assert.Equal(t, window.Window{Start: hour(24), End: hour(30)}, fetcher.calls[1])

	assert.Equal(t, 2, result.Windows)
	assert.Equal(t, 30, result.Fetched)
	assert.Len(t, result.Records, 30)
	assert.Len(t, result.Pages, 2)
	assert.True(t, result.Complete())
	assert.True(t, record.IsSorted(result.Records))
}

func TestRun_EffectiveStartAfterExisting(t *testing.T) {
	existing := []record.WeatherRecord{
		{Timestamp: hour(28), Temperature: record.Float(4)},
		{Timestamp: hour(29), Temperature: record.Float(5)}, // 2024-01-02T05:00Z
	}
	fetcher := &fakeFetcher{}
	p := New(fetcher, &fakeTokens{token: "t"}, testConfig())

	requestedStart := hour(29).Add(-24 * time.Hour)
	result, err := p.Run(context.Background(), existing, requestedStart, hour(29).Add(3*time.Hour))
	require.NoError(t, err)

	want := time.Date(2024, 1, 2, 5, 0, 1, 0, time.UTC)
	assert.Equal(t, want, result.EffectiveStart)
	require.NotEmpty(t, fetcher.calls)
	assert.Equal(t, want, fetcher.calls[0].Start)

	// 06:00, 07:00 fetched; 05:00 untouched
	assert.Len(t, result.Records, 4)
	assert.Equal(t, 5.0, *result.Records[1].Temperature)
}

func TestEffectiveStart(t *testing.T) {
	assert.Equal(t, hour(0), EffectiveStart(nil, hour(0)))

	old := []record.WeatherRecord{{Timestamp: hour(-48)}}
	assert.Equal(t, hour(0), EffectiveStart(old, hour(0)), "older records do not move the start back")

	recent := []record.WeatherRecord{{Timestamp: hour(5)}}
	assert.Equal(t, hour(5).Add(time.Second), EffectiveStart(recent, hour(0)))
}

func TestRun_RefreshOnceOn401(t *testing.T) {
	tokens := &fakeTokens{token: "stale", next: "fresh"}
	fetcher := &fakeFetcher{
		respond: func(call int, token string, w window.Window) ([]byte, error) {
			if token == "stale" {
				return nil, unauthorized()
			}
			return hourlyPage(w, 2), nil
		},
	}
	p := New(fetcher, tokens, testConfig())

	result, err := p.Run(context.Background(), nil, hour(0), hour(6))
	require.NoError(t, err)

	assert.Equal(t, 1, tokens.refreshes)
	assert.Equal(t, []string{"stale", "fresh"}, fetcher.tokens)
	assert.Len(t, result.Records, 6)
	assert.True(t, result.Complete())
}

func TestRun_SecondUnauthorizedSkipsWindow(t *testing.T) {
	tokens := &fakeTokens{token: "stale", next: "still-bad"}
	fetcher := &fakeFetcher{
		respond: func(call int, token string, w window.Window) ([]byte, error) {
			if w.Start.Equal(hour(0)) {
				return nil, unauthorized()
			}
			return hourlyPage(w, 1), nil
		},
	}
	p := New(fetcher, tokens, testConfig())

	result, err := p.Run(context.Background(), nil, hour(0), hour(30))
	require.NoError(t, err)

	assert.Equal(t, 1, tokens.refreshes, "refresh at most once per window")
	require.Len(t, result.Skipped, 1)
	assert.True(t, client.IsAuthExpired(result.Skipped[0].Err))
	assert.Len(t, result.Records, 6)
}

func TestRun_RefreshFailureSkipsWindow(t *testing.T) {
	tokens := &fakeTokens{token: "stale", err: errors.New("login down")}
	fetcher := &fakeFetcher{
		respond: func(int, string, window.Window) ([]byte, error) {
			return nil, unauthorized()
		},
	}
	p := New(fetcher, tokens, testConfig())

	_, err := p.Run(context.Background(), nil, hour(0), hour(6))
	assert.ErrorIs(t, err, ErrAllWindowsFailed)
	assert.Len(t, fetcher.calls, 1)
}

func TestRun_AllWindowsServerErrors(t *testing.T) {
	fetcher := &fakeFetcher{
		respond: func(int, string, window.Window) ([]byte, error) {
			return nil, serverError()
		},
	}
	p := New(fetcher, &fakeTokens{token: "t"}, testConfig())

	result, err := p.Run(context.Background(), nil, hour(0), hour(48))

	require.ErrorIs(t, err, ErrAllWindowsFailed)
	require.NotNil(t, result)
	assert.Empty(t, result.Records)
	assert.Len(t, result.Skipped, 2)
	assert.Len(t, fetcher.calls, 6, "3 attempts per window")
	for _, s := range result.Skipped {
		assert.ErrorIs(t, s.Err, client.ErrRetryExhausted)
	}
}

func TestRun_TransientRecovers(t *testing.T) {
	fetcher := &fakeFetcher{
		respond: func(call int, _ string, w window.Window) ([]byte, error) {
			if call < 3 {
				return nil, serverError()
			}
			return hourlyPage(w, 1), nil
		},
	}
	p := New(fetcher, &fakeTokens{token: "t"}, testConfig())

	result, err := p.Run(context.Background(), nil, hour(0), hour(4))
	require.NoError(t, err)
	assert.Len(t, fetcher.calls, 3)
	assert.Len(t, result.Records, 4)
}

func TestRun_PartialFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		respond: func(_ int, _ string, w window.Window) ([]byte, error) {
			if w.Start.Equal(hour(24)) {
				return nil, &client.APIError{StatusCode: 404, ErrorClass: client.ErrorClassClient}
			}
			return hourlyPage(w, 1), nil
		},
	}
	p := New(fetcher, &fakeTokens{token: "t"}, testConfig())

	result, err := p.Run(context.Background(), nil, hour(0), hour(72))
	require.NoError(t, err)

	assert.False(t, result.Complete())
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, hour(24), result.Skipped[0].Window.Start)
	assert.Len(t, result.Records, 48)
	assert.Len(t, fetcher.calls, 3, "client errors are not retried")
}

func TestRun_MalformedPageSkipped(t *testing.T) {
	fetcher := &fakeFetcher{
		respond: func(_ int, _ string, w window.Window) ([]byte, error) {
			if w.Start.Equal(hour(0)) {
				return []byte(`{"unexpected": true}`), nil
			}
			return hourlyPage(w, 1), nil
		},
	}
	p := New(fetcher, &fakeTokens{token: "t"}, testConfig())

	result, err := p.Run(context.Background(), nil, hour(0), hour(30))
	require.NoError(t, err)
	require.Len(t, result.Skipped, 1)
	assert.ErrorIs(t, result.Skipped[0].Err, record.ErrMalformedResponse)
	assert.Equal(t, client.ErrorClassMalformed, client.ClassOf(result.Skipped[0].Err))
	assert.Len(t, result.Records, 6)
}

func TestRun_EmptyPlanReturnsExisting(t *testing.T) {
	existing := []record.WeatherRecord{
		{Timestamp: hour(10), Temperature: record.Float(1)},
		{Timestamp: hour(9), Temperature: record.Float(2)},
	}
	fetcher := &fakeFetcher{}
	p := New(fetcher, &fakeTokens{token: "t"}, testConfig())

	result, err := p.Run(context.Background(), existing, hour(0), hour(10))
	require.NoError(t, err)

	assert.Empty(t, fetcher.calls)
	assert.Equal(t, 0, result.Windows)
	assert.True(t, result.Complete())
	require.Len(t, result.Records, 2)
	assert.True(t, record.IsSorted(result.Records))
}

func TestRun_EmptyFetchKeepsExisting(t *testing.T) {
	existing := []record.WeatherRecord{{Timestamp: hour(-1), Temperature: record.Float(1)}}
	fetcher := &fakeFetcher{
		respond: func(int, string, window.Window) ([]byte, error) {
			return []byte(`[]`), nil
		},
	}
	p := New(fetcher, &fakeTokens{token: "t"}, testConfig())

	result, err := p.Run(context.Background(), existing, hour(0), hour(5))
	require.NoError(t, err)
	assert.Equal(t, existing, result.Records)
	assert.Equal(t, 0, result.Fetched)
}

func TestRun_Idempotent(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := New(fetcher, &fakeTokens{token: "t"}, testConfig())

	first, err := p.Run(context.Background(), nil, hour(0), hour(30))
	require.NoError(t, err)

	// A second run over the same range with the first result as existing
	// fetches nothing new and returns the same set.
	second, err := p.Run(context.Background(), first.Records, hour(0), hour(30))
	require.NoError(t, err)
	assert.Equal(t, first.Records, second.Records)

	// Re-merging an overlapping fetch changes nothing either.
	assert.Equal(t, first.Records, record.Merge(first.Records, first.Records))
}

func TestRun_BackwardDirection(t *testing.T) {
	fetcher := &fakeFetcher{}
	cfg := testConfig()
	cfg.Direction = window.Backward
	p := New(fetcher, &fakeTokens{token: "t"}, cfg)

	result, err := p.Run(context.Background(), nil, hour(0), hour(30))
	require.NoError(t, err)

	require.Len(t, fetcher.calls, 2)
	assert.Equal(t, hour(30), fetcher.calls[0].End)
	assert.True(t, record.IsSorted(result.Records))
	assert.Len(t, result.Records, 30)
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &fakeFetcher{
		respond: func(int, string, window.Window) ([]byte, error) {
			cancel()
			return nil, serverError()
		},
	}
	p := New(fetcher, &fakeTokens{token: "t"}, testConfig())

	_, err := p.Run(ctx, nil, hour(0), hour(48))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, fetcher.calls, 1)
}

func TestRun_PerAttemptTimeout(t *testing.T) {
	fetcher := &fakeFetcher{
		respond: func(call int, _ string, w window.Window) ([]byte, error) {
			if call == 1 {
				return nil, context.DeadlineExceeded
			}
			return hourlyPage(w, 1), nil
		},
	}
	p := New(fetcher, &fakeTokens{token: "t"}, testConfig())

	result, err := p.Run(context.Background(), nil, hour(0), hour(2))
	require.NoError(t, err)
	assert.Len(t, fetcher.calls, 2, "timeouts are retried")
	assert.Len(t, result.Records, 2)
}
