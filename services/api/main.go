package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/02loveslollipop/plugmeter/internal/aggregate"
	"github.com/02loveslollipop/plugmeter/internal/billing"
	"github.com/02loveslollipop/plugmeter/internal/config"
	"github.com/02loveslollipop/plugmeter/internal/db"
	"github.com/02loveslollipop/plugmeter/internal/logging"
	"github.com/02loveslollipop/plugmeter/internal/metrics"
	"github.com/02loveslollipop/plugmeter/internal/registry"
	"github.com/02loveslollipop/plugmeter/internal/sampler"
	"github.com/02loveslollipop/plugmeter/internal/tuya"
	httpserver "github.com/02loveslollipop/plugmeter/services/api/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	log := logging.New("api", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.OpenTolerant(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("db configuration error")
	}
	defer store.Close(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var smp *sampler.Sampler
	if cfg.HasTelemetry() {
		client := tuya.New(cfg.TuyaBaseURL, cfg.TuyaClientID, cfg.TuyaClientSecret, cfg.FetchTimeout)
		smp = sampler.New(client, store, sampler.Config{
			FetchTimeout: cfg.FetchTimeout,
			Policy:       cfg.EnergyPolicy,
			PollInterval: cfg.PollInterval,
			Concurrency:  cfg.WatcherConcurrency,
		}, m, log)
	} else {
		log.Warn("TUYA_CLIENT_ID/TUYA_CLIENT_SECRET not set; on-demand sampling disabled")
	}

	agg := aggregate.New(store, billing.FlatRate{RatePerKWh: cfg.RatePerKWh}, cfg.Location,
		aggregate.WithLogger(log),
		aggregate.WithBucket(cfg.ResampleBucket),
		aggregate.WithStaleAfter(cfg.StaleAfter),
	)

	srv := httpserver.New(cfg, httpserver.Deps{
		Registry:   registry.FileRegistry{Path: cfg.DevicesFile},
		Aggregator: agg,
		Sampler:    smp,
		Metrics:    m,
		Log:        log,
	})
	log.WithField("addr", cfg.ListenAddr()).Info("REST API listening")

	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Fatal("server error")
	}
}
