// Package seed backfills synthetic demo history for one device.
//
// Seeding runs at most once per store: the job claims db.SeedMarker before
// writing, so concurrent or repeated runs do nothing.
package seed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/02loveslollipop/plugmeter/internal/db"
	"github.com/02loveslollipop/plugmeter/internal/models"
)

const (
	DefaultPastDays    = 5
	DefaultStep        = 5 * time.Minute
	DefaultBaseVoltage = 230.0
	voltageJitter      = 4.0
	noiseFraction      = 0.25
)

// Options configures a seeding run.
type Options struct {
	DeviceID    string
	DeviceName  string
	PastDays    int
	Step        time.Duration
	BaseVoltage float64
	// Rand drives every random choice. Nil uses a time-seeded source.
	Rand *rand.Rand
	Now  func() time.Time
}

// Report summarizes a run.
type Report struct {
	Skipped  bool      `json:"skipped"`
	Inserted int       `json:"inserted"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

func (o *Options) defaults() {
	if o.PastDays <= 0 {
		o.PastDays = DefaultPastDays
	}
	if o.Step <= 0 {
		o.Step = DefaultStep
	}
	if o.BaseVoltage <= 0 {
		o.BaseVoltage = DefaultBaseVoltage
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.DeviceName == "" {
		o.DeviceName = o.DeviceID
	}
}

// Run claims the seed marker and, if this call won it, writes the history batch.
func Run(ctx context.Context, store db.Store, opts Options) (Report, error) {
	if opts.DeviceID == "" {
		return Report{}, errors.New("seed: device id is required")
	}
	opts.defaults()

	claimed, err := store.ClaimMarker(ctx, db.SeedMarker)
	if err != nil {
		return Report{}, fmt.Errorf("claim seed marker: %w", err)
	}
	if !claimed {
		return Report{Skipped: true}, nil
	}

	readings := Generate(opts)
	if err := store.AppendMany(ctx, opts.DeviceID, readings); err != nil {
		return Report{}, fmt.Errorf("insert seed history: %w", err)
	}

	rep := Report{Inserted: len(readings)}
	if len(readings) > 0 {
		rep.From = readings[0].Timestamp
		rep.To = readings[len(readings)-1].Timestamp
	}
	return rep, nil
}

// Generate builds PastDays whole UTC days of readings ending yesterday, one per
// Step, with cumulative energy starting at zero.
func Generate(opts Options) []models.Reading {
	opts.defaults()

	today := opts.Now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -opts.PastDays)
	hours := opts.Step.Hours()

	out := make([]models.Reading, 0, int(time.Duration(opts.PastDays)*24*time.Hour/opts.Step))
	var energy float64
	for day := start; day.Before(today); day = day.AddDate(0, 0, 1) {
		for offset := time.Duration(0); offset < 24*time.Hour; offset += opts.Step {
			power := PowerProfile(int(offset/time.Minute), opts.Rand)
			voltage := opts.BaseVoltage + uniform(opts.Rand, -voltageJitter, voltageJitter)
			current := 0.0
			if voltage > 0 {
				current = power / voltage
			}
			energy += power * hours / 1000

			out = append(out, models.Reading{
				DeviceID:   opts.DeviceID,
				DeviceName: opts.DeviceName,
				Timestamp:  day.Add(offset),
				Voltage:    round(voltage, 2),
				Current:    round(current, 3),
				Power:      round(power, 1),
				EnergyKWh:  round(energy, 4),
			})
		}
	}
	return out
}

// PowerProfile returns a plausible lab-plug draw in watts for a minute of the day
// (0..1439): a time-of-day base with ±25% noise and a 0.9-1.1 day factor.
func PowerProfile(minuteOfDay int, rng *rand.Rand) float64 {
	base := baseLoad(minuteOfDay / 60)
	p := math.Max(0, base+uniform(rng, -noiseFraction, noiseFraction)*base)
	dayFactor := 0.9 + rng.Float64()*0.2
	return p * dayFactor
}

func baseLoad(hour int) float64 {
	switch {
	case hour < 6:
		return 8
	case hour < 9:
		return 70
	case hour < 12:
		return 130
	case hour < 17:
		return 170
	case hour < 22:
		return 90
	default:
		return 20
	}
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
