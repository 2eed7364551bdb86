package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/02loveslollipop/plugmeter/internal/config"
	"github.com/02loveslollipop/plugmeter/internal/db"
	"github.com/02loveslollipop/plugmeter/internal/logging"
	"github.com/02loveslollipop/plugmeter/internal/metrics"
	"github.com/02loveslollipop/plugmeter/internal/registry"
	"github.com/02loveslollipop/plugmeter/internal/sampler"
	"github.com/02loveslollipop/plugmeter/internal/tuya"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	log := logging.New("watcher", cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("watcher failed")
	}
}

func run(cfg config.Config, log *logrus.Entry) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var store db.Store = db.NewMemory()
	if cfg.DryRun {
		log.Info("dry-run: readings are kept in memory only")
	} else {
		s, err := db.OpenTolerant(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer s.Close(context.Background())
		store = s
	}
	if !cfg.HasTelemetry() {
		log.Warn("TUYA_CLIENT_ID/TUYA_CLIENT_SECRET not set; every fetch will be rejected")
	}

	m := metrics.New(prometheus.NewRegistry())
	if cfg.PushgatewayURL == "" {
		log.Debug("PUSHGATEWAY_URL not set; metrics stay in process")
	}

	w := &watcher{
		sampler: sampler.New(
			tuya.New(cfg.TuyaBaseURL, cfg.TuyaClientID, cfg.TuyaClientSecret, cfg.FetchTimeout),
			store,
			sampler.Config{
				FetchTimeout: cfg.FetchTimeout,
				Policy:       cfg.EnergyPolicy,
				PollInterval: cfg.PollInterval,
				Concurrency:  cfg.WatcherConcurrency,
			},
			m,
			log,
		),
		registry: registry.FileRegistry{Path: cfg.DevicesFile},
		metrics:  m,
		pushURL:  cfg.PushgatewayURL,
		log:      log,
	}
	return w.loop(ctx, cfg.WatcherPollInterval)
}
