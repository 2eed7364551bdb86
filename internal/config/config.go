package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/02loveslollipop/plugmeter/internal/normalize"
)

const (
	defaultPort            = 8080
	defaultDevicesFile     = "devices.json"
	defaultRatePerKWh      = 7.0
	defaultTZOffset        = "+06:00"
	defaultResampleBucket  = 5 * time.Minute
	defaultPollInterval    = 30 * time.Second
	defaultStaleAfter      = 2 * time.Minute
	defaultConcurrency     = 4
	defaultFetchTimeout    = 10 * time.Second
	defaultTuyaBaseURL     = "https://openapi.tuyaus.com"
	defaultLatestLimit     = 50
	defaultMaxLatestLimit  = 5000
	defaultShutdownTimeout = 5 * time.Second
)

var offsetPattern = regexp.MustCompile(`^([+-])(\d{2}):?(\d{2})$`)

// Config holds environment-driven settings shared by the api, watcher and seeder.
type Config struct {
	DatabaseURL string
	Port        int
	BearerToken string
	DevicesFile string

	RatePerKWh     float64
	Location       *time.Location
	ResampleBucket time.Duration
	EnergyPolicy   normalize.Policy
	PollInterval   time.Duration
	StaleAfter     time.Duration
	DefaultLimit   int
	MaxLimit       int

	WatcherPollInterval time.Duration
	WatcherConcurrency  int
	FetchTimeout        time.Duration
	DryRun              bool

	// PushgatewayURL receives the watcher's metrics after every pass when set.
	PushgatewayURL string

	TuyaBaseURL      string
	TuyaClientID     string
	TuyaClientSecret string

	LogLevel        logrus.Level
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables (optionally .env).
// An empty DATABASE_URL is allowed; the services then run without data.
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	cfg := Config{
		DatabaseURL:      get("DATABASE_URL"),
		BearerToken:      get("API_BEARER_TOKEN"),
		DevicesFile:      defaultDevicesFile,
		TuyaBaseURL:      defaultTuyaBaseURL,
		TuyaClientID:     get("TUYA_CLIENT_ID"),
		TuyaClientSecret: get("TUYA_CLIENT_SECRET"),
		PushgatewayURL:   strings.TrimRight(get("PUSHGATEWAY_URL"), "/"),
	}

	if v := get("DEVICES_FILE"); v != "" {
		cfg.DevicesFile = v
	}
	if v := get("TUYA_BASE_URL"); v != "" {
		cfg.TuyaBaseURL = v
	}

	var err error
	if cfg.Port, err = portFrom(get); err != nil {
		return cfg, err
	}

	cfg.RatePerKWh = defaultRatePerKWh
	if v := get("RATE_PER_KWH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return cfg, fmt.Errorf("invalid RATE_PER_KWH: %s", v)
		}
		cfg.RatePerKWh = f
	}

	tz := get("LOCAL_TZ_OFFSET")
	if tz == "" {
		tz = defaultTZOffset
	}
	if cfg.Location, err = ParseLocation(tz); err != nil {
		return cfg, fmt.Errorf("invalid LOCAL_TZ_OFFSET: %w", err)
	}

	if cfg.EnergyPolicy, err = normalize.ParsePolicy(get("ENERGY_POLICY")); err != nil {
		return cfg, fmt.Errorf("invalid ENERGY_POLICY: %w", err)
	}

	durations := []struct {
		key  string
		dst  *time.Duration
		def  time.Duration
		zero bool
	}{
		{"RESAMPLE_BUCKET", &cfg.ResampleBucket, defaultResampleBucket, false},
		{"POLL_INTERVAL", &cfg.PollInterval, defaultPollInterval, false},
		{"STALE_AFTER", &cfg.StaleAfter, defaultStaleAfter, true},
		{"WATCHER_POLL_INTERVAL", &cfg.WatcherPollInterval, 0, true},
		{"FETCH_TIMEOUT", &cfg.FetchTimeout, defaultFetchTimeout, false},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, defaultShutdownTimeout, false},
	}
	for _, d := range durations {
		*d.dst = d.def
		v := get(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if parsed < 0 || (parsed == 0 && !d.zero) {
			return cfg, fmt.Errorf("invalid %s: must be positive", d.key)
		}
		*d.dst = parsed
	}

	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"WATCHER_CONCURRENCY", &cfg.WatcherConcurrency, defaultConcurrency},
		{"API_DEFAULT_LIMIT", &cfg.DefaultLimit, defaultLatestLimit},
		{"API_MAX_LIMIT", &cfg.MaxLimit, defaultMaxLatestLimit},
	}
	for _, n := range ints {
		*n.dst = n.def
		v := get(n.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return cfg, fmt.Errorf("invalid %s: %s", n.key, v)
		}
		*n.dst = parsed
	}

	cfg.LogLevel = logrus.InfoLevel
	if v := get("LOG_LEVEL"); v != "" {
		lvl, err := logrus.ParseLevel(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = lvl
	}

	dryRun := get("DRY_RUN")
	cfg.DryRun = dryRun == "1" || strings.EqualFold(dryRun, "true")

	return cfg, nil
}

func portFrom(get func(string) string) (int, error) {
	for _, key := range []string{"PORT", "API_PORT"} {
		v := get(key)
		if v == "" {
			continue
		}
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return 0, fmt.Errorf("invalid %s: %s", key, v)
		}
		return port, nil
	}
	return defaultPort, nil
}

// ParseLocation accepts a fixed offset such as "+06:00" or "-0330", or an IANA zone name.
func ParseLocation(s string) (*time.Location, error) {
	if strings.EqualFold(s, "UTC") || s == "Z" {
		return time.UTC, nil
	}
	if m := offsetPattern.FindStringSubmatch(s); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes, _ := strconv.Atoi(m[3])
		if hours > 14 || minutes > 59 {
			return nil, fmt.Errorf("offset out of range: %s", s)
		}
		secs := hours*3600 + minutes*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone("UTC"+m[1]+m[2]+":"+m[3], secs), nil
	}
	return time.LoadLocation(s)
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// HasTelemetry reports whether vendor credentials are configured.
func (c Config) HasTelemetry() bool {
	return c.TuyaClientID != "" && c.TuyaClientSecret != ""
}
