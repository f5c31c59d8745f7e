package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/wxm-history/pkg/metrics"
	"github.com/go-co-op/gocron"
)

// health tracks the outcome of the latest cycle for /health.
type health struct {
	mu      sync.RWMutex
	lastRun time.Time
	lastErr error
}

func (h *health) record(finished time.Time, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastRun = finished
	h.lastErr = err
}

// ServeHTTP reports 200 until a cycle has failed, then 503 until the next
// cycle succeeds.
func (h *health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.lastErr != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "last run failed at %s: %v", h.lastRun.Format(time.RFC3339), h.lastErr)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func newMux(h http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", h)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Watch runs a cycle immediately and then every Command.Every until ctx is
// done. Cycles never overlap. /health and /metrics are served on
// Command.MetricsAddr when set.
func (r *Runner) Watch(ctx context.Context) error {
	h := &health{}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	_, err := s.Every(r.cmd.Every).Do(func() {
		report, err := r.RunOnce(ctx)
		h.record(report.Finished, err)
	})
	if err != nil {
		return fmt.Errorf("schedule fetch cycle: %w", err)
	}

	var srv *http.Server
	serveErr := make(chan error, 1)
	if r.cmd.MetricsAddr != "" {
		ln, err := net.Listen("tcp", r.cmd.MetricsAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", r.cmd.MetricsAddr, err)
		}
		srv = &http.Server{
			Handler:           newMux(h),
			ReadHeaderTimeout: 10 * time.Second,
		}
		r.logger.Info().Str("addr", ln.Addr().String()).Msg("Serving /health and /metrics")
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	r.logger.Info().Dur("every", r.cmd.Every).Msg("Watch mode started")
	s.StartAsync()

	var result error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		result = fmt.Errorf("metrics server: %w", err)
	}

	s.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn().Err(err).Msg("Metrics server shutdown")
		}
	}

	r.logger.Info().Msg("Watch mode stopped")
	return result
}
