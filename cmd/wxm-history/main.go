// Command wxm-history keeps a local archive of a WeatherXM station's
// hourly history up to date.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/Sternrassler/wxm-history/internal/config"
	"github.com/Sternrassler/wxm-history/internal/runner"
	"github.com/Sternrassler/wxm-history/pkg/logging"
	"github.com/Sternrassler/wxm-history/pkg/units"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("wxm-history", flag.ContinueOnError)
	fs.SetOutput(stderr)

	hours := fs.IntP("hours", "H", 24, "hours of history to fetch (default from HOURS_OF_HISTORY)")
	device := fs.StringP("device", "d", "", "device id (default from DEVICE_ID)")
	out := fs.StringP("out", "o", "", "output directory (default from FILE_SAVE_LOCATION)")
	excel := fs.Bool("excel", false, "also write weather_data.xlsx")
	raw := fs.Bool("raw", false, "also keep the raw API pages of each run")
	devices := fs.Bool("devices", false, "list the account's devices and exit")
	purge := fs.Bool("purge-cache", false, "drop the device's cached history windows before fetching (needs REDIS_URL)")
	watch := fs.Bool("watch", false, "keep running and fetch every --every")
	every := fs.Duration("every", 0, "watch interval (default from WATCH_INTERVAL)")
	metricsAddr := fs.String("metrics-addr", "", "address for /health and /metrics in watch mode (default from METRICS_ADDR)")
	metricsFile := fs.String("metrics-file", "", "write Prometheus metrics to this textfile after each run")
	logLevel := fs.String("log-level", "", "debug, info, warn or error (default from LOG_LEVEL)")
	pretty := fs.Bool("pretty", false, "human readable console logs")
	envFile := fs.String("env-file", ".env", "dotenv file loaded when present")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return exitFailure
	}

	cmd := runner.CommandFromConfig(cfg)
	if fs.Changed("hours") {
		cmd.Hours = *hours
	}
	if fs.Changed("device") {
		cmd.DeviceID = *device
	}
	if fs.Changed("out") {
		cmd.OutputDir = *out
	}
	if fs.Changed("every") {
		cmd.Every = *every
	}
	if fs.Changed("metrics-addr") {
		cmd.MetricsAddr = *metricsAddr
	}
	cmd.Excel = *excel
	cmd.Raw = *raw
	cmd.ListDevices = *devices
	cmd.PurgeCache = *purge
	cmd.Watch = *watch
	cmd.MetricsFile = *metricsFile

	logCfg := logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty || *pretty,
		Output: stderr,
	}
	if *logLevel != "" {
		logCfg.Level = logging.LogLevel(*logLevel)
	}
	errorLog := cfg.Log.File
	if errorLog == "" && cmd.OutputDir != "" && !cmd.ListDevices {
		errorLog = filepath.Join(cmd.OutputDir, "error.log")
	}
	if errorLog != "" {
		f, err := logging.OpenFile(errorLog)
		if err != nil {
			fmt.Fprintf(stderr, "error log: %v\n", err)
			return exitFailure
		}
		defer f.Close()
		logCfg.ErrorOutput = f
	}
	logging.Setup(logCfg)

	if err := cmd.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid arguments: %v\n", err)
		fs.Usage()
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := runner.New(cfg, cmd)
	if err != nil {
		log.Error().Err(err).Msg("Setup failed")
		return exitFailure
	}
	defer r.Close()

	if cmd.PurgeCache {
		if _, err := r.PurgeCache(ctx); err != nil {
			log.Error().Err(err).Msg("Cache purge failed")
			return exitFailure
		}
	}

	switch {
	case cmd.ListDevices:
		return listDevices(ctx, r, stdout)
	case cmd.Watch:
		if err := r.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("Watch mode failed")
			return exitFailure
		}
		return exitOK
	default:
		return runOnce(ctx, r, cfg.Units.Units(), stdout)
	}
}

func listDevices(ctx context.Context, r *runner.Runner, stdout io.Writer) int {
	devices, err := r.ListDevices(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Listing devices failed")
		return exitFailure
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLABEL")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Name, d.Label)
	}
	tw.Flush()
	return exitOK
}

func runOnce(ctx context.Context, r *runner.Runner, u units.Units, stdout io.Writer) int {
	report, err := r.RunOnce(ctx)
	if err != nil {
		return exitFailure
	}

	res := report.Result
	fmt.Fprintf(stdout, "%d records in %s (%d new, %d of %d windows skipped)\n",
		report.Summary.Records, report.CSVPath, res.Fetched, len(res.Skipped), res.Windows)

	if s := report.Summary; s.AvgTemperature != nil {
		c := units.Canonical()
		conv := func(v float64) float64 { return units.ConvertTemperature(v, c.Temperature, u.Temperature) }
		fmt.Fprintf(stdout, "temperature avg %.1f°%s, min %.1f°%s, max %.1f°%s; precipitation %.2f %s\n",
			conv(*s.AvgTemperature), u.Temperature,
			conv(*s.MinTemperature), u.Temperature,
			conv(*s.MaxTemperature), u.Temperature,
			units.ConvertPrecipitation(s.TotalPrecipitation, c.Precipitation, u.Precipitation), u.Precipitation)
	}
	return exitOK
}
