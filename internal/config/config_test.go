package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/02loveslollipop/plugmeter/internal/normalize"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestDefaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)

	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.ListenAddr())
	assert.Equal(t, "devices.json", cfg.DevicesFile)
	assert.Equal(t, 7.0, cfg.RatePerKWh)
	assert.Equal(t, 5*time.Minute, cfg.ResampleBucket)
	assert.Equal(t, normalize.Cumulative, cfg.EnergyPolicy)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.StaleAfter)
	assert.Zero(t, cfg.WatcherPollInterval)
	assert.Equal(t, 4, cfg.WatcherConcurrency)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "https://openapi.tuyaus.com", cfg.TuyaBaseURL)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, 50, cfg.DefaultLimit)
	assert.False(t, cfg.DryRun)
	assert.Empty(t, cfg.PushgatewayURL)
	assert.False(t, cfg.HasTelemetry())

	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, cfg.Location).Zone()
	assert.Equal(t, 6*3600, offset)
}

func TestOverrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"DATABASE_URL":          " postgres://u:p@db/plugs ",
		"API_PORT":              "9090",
		"RATE_PER_KWH":          "9.5",
		"LOCAL_TZ_OFFSET":       "-03:30",
		"ENERGY_POLICY":         "estimate",
		"WATCHER_POLL_INTERVAL": "1m",
		"WATCHER_CONCURRENCY":   "8",
		"LOG_LEVEL":             "debug",
		"TUYA_CLIENT_ID":        "id",
		"TUYA_CLIENT_SECRET":    "secret",
		"DRY_RUN":               "true",
		"PUSHGATEWAY_URL":       "http://pushgateway:9091/",
	}))
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db/plugs", cfg.DatabaseURL)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 9.5, cfg.RatePerKWh)
	assert.Equal(t, normalize.Estimate, cfg.EnergyPolicy)
	assert.Equal(t, time.Minute, cfg.WatcherPollInterval)
	assert.Equal(t, 8, cfg.WatcherConcurrency)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.True(t, cfg.HasTelemetry())
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "http://pushgateway:9091", cfg.PushgatewayURL)

	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, cfg.Location).Zone()
	assert.Equal(t, -(3*3600 + 30*60), offset)
}

func TestPortPrefersPORT(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{"PORT": "7000", "API_PORT": "9090"}))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
}

func TestInvalidValues(t *testing.T) {
	for key, value := range map[string]string{
		"PORT":                "http",
		"API_PORT":            "-1",
		"RATE_PER_KWH":        "cheap",
		"LOCAL_TZ_OFFSET":     "+99:00",
		"ENERGY_POLICY":       "guess",
		"RESAMPLE_BUCKET":     "0",
		"POLL_INTERVAL":       "soon",
		"FETCH_TIMEOUT":       "-1s",
		"WATCHER_CONCURRENCY": "0",
		"LOG_LEVEL":           "chatty",
	} {
		t.Run(key, func(t *testing.T) {
			_, err := FromEnv(env(map[string]string{key: value}))
			assert.Error(t, err)
		})
	}
}

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation("UTC")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = ParseLocation("+0545")
	require.NoError(t, err)
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 5*3600+45*60, offset)

	_, err = ParseLocation("Mars/Olympus")
	assert.Error(t, err)
}
