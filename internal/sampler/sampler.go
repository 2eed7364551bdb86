package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/02loveslollipop/plugmeter/internal/db"
	"github.com/02loveslollipop/plugmeter/internal/metrics"
	"github.com/02loveslollipop/plugmeter/internal/models"
	"github.com/02loveslollipop/plugmeter/internal/normalize"
)

const (
	defaultFetchTimeout = 10 * time.Second
	defaultPollInterval = 30 * time.Second
)

// Fetcher reads the current raw status of one device.
type Fetcher interface {
	FetchStatus(ctx context.Context, deviceID string) (models.RawStatus, error)
}

// FailureKind classifies why a sample was not stored.
type FailureKind string

const (
	UpstreamUnavailable FailureKind = "upstream_unavailable"
	MalformedPayload    FailureKind = "malformed_payload"
	StoreUnavailable    FailureKind = "store_unavailable"
)

// Failure describes a sampling attempt that stored nothing.
type Failure struct {
	Kind     FailureKind `json:"kind"`
	DeviceID string      `json:"device_id"`
	Err      error       `json:"-"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("sample %s: %s: %v", f.DeviceID, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is the outcome of one SampleOnce call. Exactly one field is set.
type Result struct {
	Reading *models.Reading
	Failure *Failure
}

// OK reports whether a reading was stored.
func (r Result) OK() bool {
	return r.Failure == nil && r.Reading != nil
}

// Config tunes a Sampler.
type Config struct {
	FetchTimeout time.Duration
	Policy       normalize.Policy
	// PollInterval is the energy interval credited per sample under the Estimate policy.
	PollInterval time.Duration
	Concurrency  int
}

// Sampler runs fetch -> normalize -> append for one device at a time.
type Sampler struct {
	fetcher Fetcher
	store   db.Store
	cfg     Config
	metrics *metrics.Metrics
	log     logrus.FieldLogger
	now     func() time.Time

	// reads bypasses Tolerant degradation: a failed lookup must not look like an empty log.
	reads db.Store
}

// New builds a Sampler. metrics may be nil.
func New(fetcher Fetcher, store db.Store, cfg Config, m *metrics.Metrics, log logrus.FieldLogger) *Sampler {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Policy == "" {
		cfg.Policy = normalize.Cumulative
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sampler{fetcher: fetcher, store: store, reads: db.Strict(store), cfg: cfg, metrics: m, log: log, now: time.Now}
}

// SampleOnce stores one reading for the device, or reports why it could not.
// It never panics and never retries.
func (s *Sampler) SampleOnce(ctx context.Context, deviceID, deviceName string) Result {
	log := s.log.WithField("device_id", deviceID)

	status, err := s.fetch(ctx, deviceID)
	if err != nil {
		kind := UpstreamUnavailable
		if errors.Is(err, normalize.ErrMalformedPayload) {
			kind = MalformedPayload
		}
		return s.fail(log, kind, deviceID, err)
	}

	m, err := normalize.Parse(status)
	if err != nil {
		return s.fail(log, MalformedPayload, deviceID, err)
	}

	if s.cfg.Policy == normalize.Estimate {
		prev, err := s.previousEnergy(ctx, deviceID)
		if err != nil {
			return s.fail(log, StoreUnavailable, deviceID, err)
		}
		m.EnergyKWh = prev + normalize.EstimateDeltaKWh(m.Power, s.cfg.PollInterval)
	}

	reading := normalize.NewReading(deviceID, deviceName, m, s.now())
	if err := s.appendReading(ctx, deviceID, reading); err != nil {
		s.metrics.StoreWrite(false)
		return s.fail(log, StoreUnavailable, deviceID, err)
	}
	s.metrics.StoreWrite(true)
	s.metrics.Stored(deviceID, reading.Timestamp)
	s.metrics.Sample("ok")

	log.WithFields(logrus.Fields{
		"voltage": reading.Voltage,
		"current": reading.Current,
		"power":   reading.Power,
		"energy":  reading.EnergyKWh,
	}).Debug("reading stored")
	return Result{Reading: &reading}
}

// SampleAll samples every device concurrently. Results follow the order of devices.
func (s *Sampler) SampleAll(ctx context.Context, devices []models.Device) []Result {
	results := make([]Result, len(devices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, d := range devices {
		i, d := i, d
		g.Go(func() error {
			results[i] = s.SampleOnce(gctx, d.ID, d.Name)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Sampler) fetch(ctx context.Context, deviceID string) (status models.RawStatus, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		s.metrics.Fetch(time.Since(start))
		if p := recover(); p != nil {
			err = fmt.Errorf("fetch panicked: %v", p)
		}
	}()

	status, err = s.fetcher.FetchStatus(ctx, deviceID)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return status, err
}

func (s *Sampler) previousEnergy(ctx context.Context, deviceID string) (energy float64, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("latest panicked: %v", p)
		}
	}()
	prev, err := s.reads.Latest(ctx, deviceID, 1)
	if err != nil {
		return 0, db.AsUnavailable(fmt.Errorf("read previous energy: %w", err))
	}
	if len(prev) == 0 {
		return 0, nil
	}
	return prev[len(prev)-1].EnergyKWh, nil
}

func (s *Sampler) appendReading(ctx context.Context, deviceID string, r models.Reading) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("append panicked: %v", p)
		}
	}()
	return s.store.Append(ctx, deviceID, r)
}

func (s *Sampler) fail(log logrus.FieldLogger, kind FailureKind, deviceID string, err error) Result {
	s.metrics.Sample(string(kind))
	log.WithError(err).WithField("kind", kind).Warn("sample failed")
	return Result{Failure: &Failure{Kind: kind, DeviceID: deviceID, Err: err}}
}
