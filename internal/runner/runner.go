// Package runner wires configuration, API access, the fetch pipeline and
// persistence into one fetch cycle, and schedules cycles in watch mode.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Sternrassler/wxm-history/internal/config"
	"github.com/Sternrassler/wxm-history/pkg/auth"
	"github.com/Sternrassler/wxm-history/pkg/client"
	"github.com/Sternrassler/wxm-history/pkg/logging"
	"github.com/Sternrassler/wxm-history/pkg/metrics"
	"github.com/Sternrassler/wxm-history/pkg/pipeline"
	"github.com/Sternrassler/wxm-history/pkg/record"
	"github.com/Sternrassler/wxm-history/pkg/store"
	"github.com/Sternrassler/wxm-history/pkg/units"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// tokenMargin is how close to expiry a token is replaced before a run.
const tokenMargin = 5 * time.Minute

// Command is the fully resolved request for one invocation.
type Command struct {
	Hours       int
	DeviceID    string
	OutputDir   string
	Excel       bool
	Raw         bool
	ListDevices bool
	PurgeCache  bool
	Watch       bool
	Every       time.Duration
	MetricsAddr string
	MetricsFile string
}

// CommandFromConfig returns the command implied by cfg alone.
func CommandFromConfig(cfg *config.Config) Command {
	return Command{
		Hours:       cfg.HoursOfHistory,
		DeviceID:    cfg.DeviceID,
		OutputDir:   cfg.SaveLocation,
		Every:       cfg.Watch.Interval,
		MetricsAddr: cfg.Watch.MetricsAddr,
	}
}

// Validate checks the command before any network activity.
func (c Command) Validate() error {
	if c.ListDevices && c.PurgeCache {
		return fmt.Errorf("cache purge cannot be combined with device listing")
	}
	if c.ListDevices {
		return nil
	}
	if c.Hours < 0 {
		return fmt.Errorf("hours must be >= 0, got %d", c.Hours)
	}
	if c.DeviceID == "" {
		return fmt.Errorf("device id is required (DEVICE_ID or --device)")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if c.Watch && c.Every < time.Minute {
		return fmt.Errorf("watch interval must be at least 1m, got %s", c.Every)
	}
	return nil
}

// Report summarizes one completed cycle.
type Report struct {
	RunID    string
	Result   *pipeline.Result
	Summary  record.Summary
	CSVPath  string
	RawPath  string
	Finished time.Time
}

// Runner executes fetch cycles.
type Runner struct {
	cmd      Command
	units    units.Units
	client   *client.Client
	session  *auth.Session
	pipeline *pipeline.Pipeline
	csv      *store.CSVStore
	excel    *store.ExcelWriter
	raw      *store.RawWriter
	sql      *store.SQLStore
	redis    *redis.Client
	logger   zerolog.Logger
	now      func() time.Time
}

// New builds a runner. Redis and the SQL store are only set up when
// configured.
func New(cfg *config.Config, cmd Command) (*Runner, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		cmd:    cmd,
		units:  cfg.Units.Units(),
		logger: logging.NewLogger("runner"),
		now:    time.Now,
	}

	clientCfg := cfg.ClientConfig()
	clientCfg.DeviceID = cmd.DeviceID

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		r.redis = redis.NewClient(opts)
		clientCfg.Redis = r.redis
	}

	c, err := client.New(clientCfg)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}
	r.client = c

	var refresher auth.Refresher
	if cfg.API.HasCredentials() {
		lr, err := auth.NewLoginRefresher(cfg.API.BaseURL, cfg.API.Username, cfg.API.Password, cfg.API.UserAgent)
		if err != nil {
			r.Close()
			return nil, err
		}
		refresher = lr
	}
	session, err := auth.NewSession(cfg.API.APIKey, refresher)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.session = session

	r.pipeline = pipeline.New(c, session, pipeline.DefaultConfig())
	r.csv = store.NewCSVStore(filepath.Join(cmd.OutputDir, store.DefaultCSVName))
	if cmd.Excel {
		r.excel = store.NewExcelWriter(filepath.Join(cmd.OutputDir, store.DefaultExcelName), r.units)
	}
	if cmd.Raw {
		r.raw = store.NewRawWriter(filepath.Join(cmd.OutputDir, store.DefaultRawDir))
	}

	if cfg.DatabaseDSN != "" && !cmd.ListDevices {
		db, err := store.Open(cfg.DatabaseDSN)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.sql = store.NewSQLStore(db, cmd.DeviceID)
	}

	return r, nil
}

// SetPipelineConfig replaces the pipeline configuration (for testing).
func (r *Runner) SetPipelineConfig(cfg pipeline.Config) {
	r.pipeline = pipeline.New(r.client, r.session, cfg)
}

// Close releases the client, Redis and database connections.
func (r *Runner) Close() error {
	var errs []error
	if r.client != nil {
		errs = append(errs, r.client.Close())
	}
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	if r.sql != nil {
		errs = append(errs, r.sql.Close())
	}
	return errors.Join(errs...)
}

// ListDevices returns the stations of the account.
func (r *Runner) ListDevices(ctx context.Context) ([]client.Device, error) {
	if err := r.session.EnsureFresh(ctx, tokenMargin); err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	devices, err := r.client.ListDevices(ctx, r.session.Token())
	if client.IsAuthExpired(err) {
		if _, rerr := r.session.Refresh(ctx); rerr != nil {
			return nil, fmt.Errorf("%w (refresh failed: %v)", err, rerr)
		}
		devices, err = r.client.ListDevices(ctx, r.session.Token())
	}
	return devices, err
}

// PurgeCache drops every cached history window of the command's device.
// It fails when Redis is not configured.
func (r *Runner) PurgeCache(ctx context.Context) (int, error) {
	n, err := r.client.PurgeCache(ctx)
	if err != nil {
		return 0, err
	}
	r.logger.Info().
		Str("device_id", r.cmd.DeviceID).
		Int("purged", n).
		Msg("History cache purged")
	return n, nil
}

// RunOnce performs one fetch-merge-persist cycle for the last Hours hours.
//
// A run where some windows were skipped still persists and returns a nil
// error; the skipped windows are in the report. A run where every window
// failed persists nothing and returns pipeline.ErrAllWindowsFailed.
func (r *Runner) RunOnce(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), CSVPath: r.csv.Path}
	logger := r.logger.With().Str("run_id", report.RunID).Logger()

	existing, err := r.csv.Load(ctx)
	if err != nil {
		return r.fail(report, 0, 0, fmt.Errorf("load existing records: %w", err))
	}

	if err := r.session.EnsureFresh(ctx, tokenMargin); err != nil {
		return r.fail(report, len(existing), 0, fmt.Errorf("authenticate: %w", err))
	}

	end := r.now().UTC().Truncate(time.Second)
	start := end.Add(-time.Duration(r.cmd.Hours) * time.Hour)

	logger.Info().
		Str("device_id", r.cmd.DeviceID).
		Int("hours", r.cmd.Hours).
		Int("existing", len(existing)).
		Msg("Starting fetch cycle")

	result, err := r.pipeline.Run(ctx, existing, start, end)
	report.Result = result
	if err != nil {
		skipped := 0
		if result != nil {
			skipped = len(result.Skipped)
		}
		return r.fail(report, len(existing), skipped, err)
	}

	if err := r.persist(ctx, logger, report, result); err != nil {
		return r.fail(report, len(existing), len(result.Skipped), err)
	}

	report.Summary = record.Summarize(result.Records)
	report.Finished = r.now()
	r.logSummary(logger, report)

	metrics.RecordRun(report.Finished, true, len(result.Records), len(result.Skipped))
	r.writeMetricsFile(logger)

	return report, nil
}

func (r *Runner) persist(ctx context.Context, logger zerolog.Logger, report *Report, result *pipeline.Result) error {
	if err := r.csv.Save(ctx, result.Records); err != nil {
		return fmt.Errorf("save csv: %w", err)
	}
	logger.Info().Str("path", r.csv.Path).Int("records", len(result.Records)).Msg("CSV written")

	if r.sql != nil {
		if err := r.sql.Save(ctx, result.Records); err != nil {
			return fmt.Errorf("save database: %w", err)
		}
		logger.Debug().Int("records", len(result.Records)).Msg("Database updated")
	}

	if r.excel != nil {
		if err := r.excel.Write(result.Records); err != nil {
			return fmt.Errorf("write excel: %w", err)
		}
		logger.Info().Str("path", r.excel.Path).Msg("Excel workbook written")
	}

	if r.raw != nil && len(result.Pages) > 0 {
		path, err := r.raw.Write(report.RunID, result.Pages)
		if err != nil {
			return fmt.Errorf("write raw pages: %w", err)
		}
		report.RawPath = path
		logger.Info().Str("path", path).Int("pages", len(result.Pages)).Msg("Raw pages written")
	}

	return nil
}

func (r *Runner) fail(report *Report, records, skipped int, err error) (*Report, error) {
	report.Finished = r.now()
	r.logger.Error().
		Err(err).
		Str("run_id", report.RunID).
		Int("skipped", skipped).
		Msg("Fetch cycle failed")

	metrics.RecordRun(report.Finished, false, records, skipped)
	r.writeMetricsFile(r.logger)
	return report, err
}

func (r *Runner) logSummary(logger zerolog.Logger, report *Report) {
	s := report.Summary
	c := units.Canonical()

	ev := logger.Info().
		Int("records", s.Records).
		Int("fetched", report.Result.Fetched).
		Int("windows", report.Result.Windows).
		Int("skipped", len(report.Result.Skipped)).
		Float64("total_precipitation", units.ConvertPrecipitation(s.TotalPrecipitation, c.Precipitation, r.units.Precipitation)).
		Str("precipitation_unit", r.units.Precipitation)
	if s.Records > 0 {
		ev = ev.Time("first", s.First).Time("last", s.Last)
	}
	if s.AvgTemperature != nil {
		conv := func(v float64) float64 { return units.ConvertTemperature(v, c.Temperature, r.units.Temperature) }
		ev = ev.
			Float64("avg_temperature", conv(*s.AvgTemperature)).
			Float64("min_temperature", conv(*s.MinTemperature)).
			Float64("max_temperature", conv(*s.MaxTemperature)).
			Str("temperature_unit", r.units.Temperature)
	}
	ev.Msg("Fetch cycle complete")

	for _, sw := range report.Result.Skipped {
		logger.Warn().
			Err(sw.Err).
			Time("window_start", sw.Window.Start).
			Time("window_end", sw.Window.End).
			Msg("Window missing from this run")
	}
}

func (r *Runner) writeMetricsFile(logger zerolog.Logger) {
	if r.cmd.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(r.cmd.MetricsFile); err != nil {
		logger.Warn().Err(err).Str("path", r.cmd.MetricsFile).Msg("Failed to write metrics textfile")
	}
}
