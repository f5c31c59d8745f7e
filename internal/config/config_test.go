package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/wxm-history/pkg/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noEnvFile keeps a developer's .env out of the tests.
func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WXM_API_KEY", "key")

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 24, cfg.HoursOfHistory)
	assert.Equal(t, "./data", cfg.SaveLocation)
	assert.Equal(t, "https://api.weatherxm.com/api/v1", cfg.API.BaseURL)
	assert.Equal(t, units.Canonical(), cfg.Units.Units())
	assert.Equal(t, 168*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 6*time.Hour, cfg.Cache.SettleDelay)
	assert.Equal(t, time.Hour, cfg.Watch.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("HOURS_OF_HISTORY", "72")
	t.Setenv("DEVICE_ID", "dev-1")
	t.Setenv("FILE_SAVE_LOCATION", "/tmp/wx")
	t.Setenv("TEMP_UNIT", "F")
	t.Setenv("WIND_UNIT", "mph")
	t.Setenv("PRECIP_UNIT", "in")
	t.Setenv("PRESSURE_UNIT", "mb")
	t.Setenv("WXM_USERNAME", "alice")
	t.Setenv("WXM_PASSWORD", "secret")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CACHE_SETTLE_DELAY", "2h")

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 72, cfg.HoursOfHistory)
	assert.Equal(t, "dev-1", cfg.DeviceID)
	assert.True(t, cfg.API.HasCredentials())
	assert.Equal(t, units.Units{
		Temperature:   units.Fahrenheit,
		WindSpeed:     units.MilesPerHour,
		Precipitation: units.Inches,
		Pressure:      units.Millibar,
	}, cfg.Units.Units())
	assert.Equal(t, "/tmp/wx", cfg.SaveLocation)

	cc := cfg.ClientConfig()
	assert.Equal(t, "dev-1", cc.DeviceID)
	assert.Equal(t, 2*time.Hour, cc.SettleDelay)
	assert.Equal(t, 30*time.Second, cc.Timeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "negative hours", env: map[string]string{"HOURS_OF_HISTORY": "-1"}},
		{name: "unknown temperature unit", env: map[string]string{"TEMP_UNIT": "K"}},
		{name: "unknown wind unit", env: map[string]string{"WIND_UNIT": "knots"}},
		{name: "bad redis url", env: map[string]string{"REDIS_URL": "not a url"}},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}},
		{name: "hours not a number", env: map[string]string{"HOURS_OF_HISTORY": "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WXM_API_KEY", "key")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(noEnvFile(t))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingCredentials(t *testing.T) {
	t.Setenv("WXM_API_KEY", "")
	t.Setenv("WXM_USERNAME", "alice")
	t.Setenv("WXM_PASSWORD", "")

	_, err := Load(noEnvFile(t))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "WXM_API_KEY")
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "WXM_API_KEY=from-file\nDEVICE_ID=file-device\nHOURS_OF_HISTORY=6\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	// An explicit environment value wins over the file.
	t.Setenv("HOURS_OF_HISTORY", "12")
	t.Cleanup(func() {
		os.Unsetenv("WXM_API_KEY")
		os.Unsetenv("DEVICE_ID")
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.API.APIKey)
	assert.Equal(t, "file-device", cfg.DeviceID)
	assert.Equal(t, 12, cfg.HoursOfHistory)
}
