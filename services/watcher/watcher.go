package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/02loveslollipop/plugmeter/internal/metrics"
	"github.com/02loveslollipop/plugmeter/internal/registry"
	"github.com/02loveslollipop/plugmeter/internal/sampler"
)

const (
	pushJob     = "plugmeter_watcher"
	pushTimeout = 5 * time.Second
)

// watcher runs sampling passes over the registry.
type watcher struct {
	sampler  *sampler.Sampler
	registry registry.Lister
	metrics  *metrics.Metrics
	log      logrus.FieldLogger

	// pushURL is the Pushgateway base URL; empty keeps metrics in process.
	pushURL string
}

type passSummary struct {
	Devices int
	Stored  int
	Failed  int
}

// pass samples every registered device once. Failures are logged, never returned.
func (w *watcher) pass(ctx context.Context) passSummary {
	devices, err := w.registry.ListDevices(ctx)
	if err != nil {
		w.log.WithError(err).Warn("list devices failed; skipping pass")
		return passSummary{}
	}

	started := time.Now()
	results := w.sampler.SampleAll(ctx, devices)

	sum := passSummary{Devices: len(devices)}
	for _, r := range results {
		if r.OK() {
			sum.Stored++
		} else {
			sum.Failed++
		}
	}
	w.log.WithFields(logrus.Fields{
		"devices":  sum.Devices,
		"stored":   sum.Stored,
		"failed":   sum.Failed,
		"duration": time.Since(started).String(),
	}).Info("sampling pass complete")
	w.push(ctx)
	return sum
}

// push exports the pass's metrics. It outlives ctx so the final pass before
// shutdown is still recorded.
func (w *watcher) push(ctx context.Context) {
	if w.pushURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	if err := w.metrics.Push(ctx, w.pushURL, pushJob); err != nil {
		w.log.WithError(err).Warn("metrics push failed")
	}
}

// loop runs one pass, then one per interval until ctx ends. A non-positive
// interval means a single pass.
func (w *watcher) loop(ctx context.Context, interval time.Duration) error {
	w.pass(ctx)
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("watcher stopping")
			return nil
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}
