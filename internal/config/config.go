// Package config loads the fetcher configuration from the environment.
//
// Values come from process environment variables, with an optional .env
// file filling in anything not already set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Sternrassler/wxm-history/pkg/client"
	"github.com/Sternrassler/wxm-history/pkg/units"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete runtime configuration.
type Config struct {
	HoursOfHistory int    `envconfig:"HOURS_OF_HISTORY" default:"24" validate:"gte=0"`
	DeviceID       string `envconfig:"DEVICE_ID"`
	SaveLocation   string `envconfig:"FILE_SAVE_LOCATION" default:"./data" validate:"required"`

	API   APIConfig
	Units UnitsConfig
	Cache CacheConfig
	Log   LogConfig
	Watch WatchConfig

	RedisURL    string `envconfig:"REDIS_URL" validate:"omitempty,url"`
	DatabaseDSN string `envconfig:"DATABASE_DSN"`
}

// APIConfig holds WeatherXM API access settings.
type APIConfig struct {
	BaseURL   string `envconfig:"WXM_API_BASE_URL" default:"https://api.weatherxm.com/api/v1" validate:"required,url"`
	Username  string `envconfig:"WXM_USERNAME"`
	Password  string `envconfig:"WXM_PASSWORD"`
	APIKey    string `envconfig:"WXM_API_KEY"`
	UserAgent string `envconfig:"USER_AGENT" default:"wxm-history/1.0" validate:"required"`
}

// HasCredentials reports whether a login can be performed.
func (a APIConfig) HasCredentials() bool {
	return a.Username != "" && a.Password != ""
}

// UnitsConfig selects display units.
type UnitsConfig struct {
	Temperature   string `envconfig:"TEMP_UNIT" default:"C" validate:"oneof=C F"`
	WindSpeed     string `envconfig:"WIND_UNIT" default:"m/s" validate:"oneof=m/s mph"`
	Precipitation string `envconfig:"PRECIP_UNIT" default:"mm" validate:"oneof=mm in"`
	Pressure      string `envconfig:"PRESSURE_UNIT" default:"hPa" validate:"oneof=hPa mb"`
}

// Units converts to the units package type.
func (u UnitsConfig) Units() units.Units {
	return units.Units{
		Temperature:   u.Temperature,
		WindSpeed:     u.WindSpeed,
		Precipitation: u.Precipitation,
		Pressure:      u.Pressure,
	}
}

// CacheConfig controls the Redis history cache.
type CacheConfig struct {
	TTL         time.Duration `envconfig:"CACHE_TTL" default:"168h" validate:"gt=0"`
	SettleDelay time.Duration `envconfig:"CACHE_SETTLE_DELAY" default:"6h" validate:"gte=0"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn warning error"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
	File   string `envconfig:"LOG_FILE"`
}

// WatchConfig controls the scheduled mode.
type WatchConfig struct {
	Interval    time.Duration `envconfig:"WATCH_INTERVAL" default:"1h" validate:"gte=1m"`
	MetricsAddr string        `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load reads envFiles (default ".env") when present, then the environment,
// and validates the result. Missing env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and credential presence.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.API.APIKey == "" && !c.API.HasCredentials() {
		return fmt.Errorf("%w: set WXM_API_KEY or both WXM_USERNAME and WXM_PASSWORD", ErrInvalidConfig)
	}
	return nil
}

// ClientConfig builds the API client configuration.
func (c *Config) ClientConfig() client.Config {
	cc := client.DefaultConfig(c.DeviceID, c.API.UserAgent)
	cc.BaseURL = c.API.BaseURL
	cc.CacheTTL = c.Cache.TTL
	cc.SettleDelay = c.Cache.SettleDelay
	return cc
}
