package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/02loveslollipop/plugmeter/internal/config"
	"github.com/02loveslollipop/plugmeter/internal/db"
	"github.com/02loveslollipop/plugmeter/internal/logging"
	"github.com/02loveslollipop/plugmeter/internal/seed"
)

func main() {
	deviceID := flag.String("device", "", "device id to backfill (required)")
	name := flag.String("name", "", "device display name (defaults to the id)")
	days := flag.Int("days", seed.DefaultPastDays, "whole days of history before today")
	step := flag.Duration("step", seed.DefaultStep, "interval between synthetic readings")
	voltage := flag.Float64("voltage", seed.DefaultBaseVoltage, "nominal line voltage")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	log := logging.New("seeder", cfg.LogLevel)

	if *deviceID == "" {
		log.Fatal("-device is required")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("db connection error")
	}
	defer store.Close(context.Background())

	rep, err := seed.Run(ctx, store, seed.Options{
		DeviceID:    *deviceID,
		DeviceName:  *name,
		PastDays:    *days,
		Step:        *step,
		BaseVoltage: *voltage,
	})
	if err != nil {
		log.WithError(err).Fatal("seeding failed")
	}

	entry := log.WithField("device_id", *deviceID)
	if rep.Skipped {
		entry.Info("history already seeded; nothing to do")
		return
	}
	entry.WithFields(logrus.Fields{
		"count": rep.Inserted,
		"from":  rep.From.Format(time.RFC3339),
		"to":    rep.To.Format(time.RFC3339),
	}).Info("history seeded")
}
