// Package aggregate derives dashboard totals, billing windows and resampled
// series from stored readings.
package aggregate

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/02loveslollipop/plugmeter/internal/billing"
	"github.com/02loveslollipop/plugmeter/internal/db"
	"github.com/02loveslollipop/plugmeter/internal/logging"
	"github.com/02loveslollipop/plugmeter/internal/models"
)

const (
	// DefaultBucket is the series resolution used when callers pass zero.
	DefaultBucket = 5 * time.Minute
	seriesSpan    = 24 * time.Hour
)

// Aggregator answers read-side questions over a Store. Store read errors
// degrade to empty answers; they are logged, never returned.
type Aggregator struct {
	store      db.Store
	tariff     billing.Tariff
	loc        *time.Location
	bucket     time.Duration
	staleAfter time.Duration
	log        logrus.FieldLogger
	now        func() time.Time
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLogger sets the logger used for degraded reads.
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Aggregator) { a.log = log }
}

// WithBucket sets the default 24h series resolution.
func WithBucket(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.bucket = d
		}
	}
}

// WithStaleAfter marks latest readings older than d as stale. Zero disables it.
func WithStaleAfter(d time.Duration) Option {
	return func(a *Aggregator) { a.staleAfter = d }
}

// New builds an Aggregator pricing energy with tariff in the calendar of loc.
func New(store db.Store, tariff billing.Tariff, loc *time.Location, opts ...Option) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	a := &Aggregator{
		store:  store,
		tariff: tariff,
		loc:    loc,
		bucket: DefaultBucket,
		log:    logging.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Location returns the calendar used for day and month windows.
func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// Windows returns the start of the local day and local month containing now, in UTC.
func (a *Aggregator) Windows(now time.Time) (dayStart, monthStart time.Time) {
	local := now.In(a.loc)
	dayStart = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
	monthStart = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, a.loc)
	return dayStart.UTC(), monthStart.UTC()
}

// WindowEnergy sums the positive deltas of a cumulative energy series.
// A negative delta is a meter reset and contributes nothing.
func WindowEnergy(rs []models.Reading) float64 {
	rs = sorted(rs)
	var total float64
	for i := 1; i < len(rs); i++ {
		if d := rs[i].EnergyKWh - rs[i-1].EnergyKWh; d > 0 {
			total += d
		}
	}
	return total
}

// EnergyBetween returns the kWh consumed by a device in [start, end]. The last
// reading at or before start is the baseline; without one the first reading
// inside the window is.
func (a *Aggregator) EnergyBetween(ctx context.Context, deviceID string, start, end time.Time) float64 {
	rs := a.readRange(ctx, deviceID, start, end)
	base, ok, err := a.store.LastAtOrBefore(ctx, deviceID, start)
	if err != nil {
		a.degraded(err, deviceID, "last_at_or_before")
	} else if ok {
		rs = append([]models.Reading{base}, rs...)
	}
	return WindowEnergy(rs)
}

// DailyMonthlyFor returns the device's energy and cost for the local day and month so far.
func (a *Aggregator) DailyMonthlyFor(ctx context.Context, deviceID string) models.EnergySummary {
	now := a.now().UTC()
	dayStart, monthStart := a.Windows(now)

	today := a.EnergyBetween(ctx, deviceID, dayStart, now)
	month := a.EnergyBetween(ctx, deviceID, monthStart, now)
	return models.EnergySummary{
		TodayKWh:  today,
		TodayCost: a.tariff.Cost(today),
		MonthKWh:  month,
		MonthCost: a.tariff.Cost(month),
	}
}

// TotalsAllDevices sums the latest power and the billing windows across devices.
// MaxVoltageV is the highest latest voltage. Devices without readings contribute zero.
func (a *Aggregator) TotalsAllDevices(ctx context.Context, devices []models.Device) models.TotalsSnapshot {
	var t models.TotalsSnapshot
	for _, d := range devices {
		if r, ok := a.LatestReading(ctx, d.ID); ok {
			t.TotalPowerW += r.Power
			if r.Voltage > t.MaxVoltageV {
				t.MaxVoltageV = r.Voltage
			}
		}
		s := a.DailyMonthlyFor(ctx, d.ID)
		t.TodayKWh += s.TodayKWh
		t.TodayCost += s.TodayCost
		t.MonthKWh += s.MonthKWh
		t.MonthCost += s.MonthCost
	}
	return t
}

// Latest returns up to n of the device's newest readings, oldest first.
func (a *Aggregator) Latest(ctx context.Context, deviceID string, n int) []models.Reading {
	rs, err := a.store.Latest(ctx, deviceID, n)
	if err != nil {
		a.degraded(err, deviceID, "latest")
		return []models.Reading{}
	}
	if rs == nil {
		rs = []models.Reading{}
	}
	return rs
}

// LatestReading returns the device's newest reading.
func (a *Aggregator) LatestReading(ctx context.Context, deviceID string) (models.Reading, bool) {
	rs := a.Latest(ctx, deviceID, 1)
	if len(rs) == 0 {
		return models.Reading{}, false
	}
	return rs[len(rs)-1], true
}

// IsStale reports whether r is older than the stale threshold.
func (a *Aggregator) IsStale(r models.Reading) bool {
	if a.staleAfter <= 0 {
		return false
	}
	return a.now().Sub(r.Timestamp) > a.staleAfter
}

// TimeSeries24hAllDevices resamples the last 24 hours of every device. Each
// bucket carries the sum of per-device mean power and the mean of per-device
// mean voltage, over the devices that reported in it.
func (a *Aggregator) TimeSeries24hAllDevices(ctx context.Context, devices []models.Device, bucket time.Duration) models.TimeSeries {
	if bucket <= 0 {
		bucket = a.bucket
	}
	end := a.now().UTC()
	start := end.Add(-seriesSpan)

	perDevice := make([]map[time.Time]deviceBucket, 0, len(devices))
	for _, d := range devices {
		rs := a.readRange(ctx, d.ID, start, end)
		if len(rs) == 0 {
			continue
		}
		perDevice = append(perDevice, bucketMeans(rs, bucket))
	}
	return combineDevices(perDevice)
}

// RangeSeries returns one device's readings in [start, end], raw when bucket is
// zero and averaged per bucket otherwise.
func (a *Aggregator) RangeSeries(ctx context.Context, deviceID string, start, end time.Time, bucket time.Duration) models.TimeSeries {
	return Resample(a.readRange(ctx, deviceID, start, end), bucket)
}

func (a *Aggregator) readRange(ctx context.Context, deviceID string, start, end time.Time) []models.Reading {
	rs, err := a.store.Range(ctx, deviceID, start, end)
	if err != nil {
		a.degraded(err, deviceID, "range")
		return nil
	}
	return rs
}

func (a *Aggregator) degraded(err error, deviceID, op string) {
	a.log.WithError(err).WithFields(logrus.Fields{"device_id": deviceID, "op": op}).Warn("store read failed")
}
