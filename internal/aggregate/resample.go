package aggregate

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/02loveslollipop/plugmeter/internal/models"
)

// Raw requests an unbucketed series.
const Raw time.Duration = 0

// ParseBucket accepts "raw", the dashboard names "1-min", "5-min", "15-min",
// and Go durations such as "5m".
func ParseBucket(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "raw" {
		return Raw, nil
	}
	if n, ok := strings.CutSuffix(s, "-min"); ok {
		m, err := strconv.ParseInt(n, 10, 64)
		if err != nil || m <= 0 || m > math.MaxInt64/int64(time.Minute) {
			return 0, fmt.Errorf("invalid bucket %q", s)
		}
		return time.Duration(m) * time.Minute, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid bucket %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid bucket %q: negative", s)
	}
	return d, nil
}

// BucketStart returns the left edge of the epoch-aligned bucket of width d holding t.
// Buckets are half-open: [start, start+d).
func BucketStart(t time.Time, d time.Duration) time.Time {
	ns := t.UnixNano()
	width := int64(d)
	rem := ns % width
	if rem < 0 {
		rem += width
	}
	return time.Unix(0, ns-rem).UTC()
}

// sorted returns a timestamp-ordered copy of rs.
func sorted(rs []models.Reading) []models.Reading {
	out := append([]models.Reading(nil), rs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Resample averages every numeric field per bucket. Buckets without samples are omitted.
// A non-positive width returns the readings unmodified.
func Resample(rs []models.Reading, d time.Duration) models.TimeSeries {
	rs = sorted(rs)
	if d <= 0 {
		return rawSeries(rs)
	}

	points := make([]models.Point, 0)
	var (
		current               time.Time
		n                     int
		volt, amp, watt, kwhs float64
	)
	flush := func() {
		if n == 0 {
			return
		}
		c := float64(n)
		points = append(points, models.Point{
			Timestamp: current,
			Values: map[string]float64{
				models.MetricVoltage: volt / c,
				models.MetricCurrent: amp / c,
				models.MetricPower:   watt / c,
				models.MetricEnergy:  kwhs / c,
			},
		})
	}

	for _, r := range rs {
		b := BucketStart(r.Timestamp, d)
		if n > 0 && !b.Equal(current) {
			flush()
			n, volt, amp, watt, kwhs = 0, 0, 0, 0, 0
		}
		current = b
		n++
		volt += r.Voltage
		amp += r.Current
		watt += r.Power
		kwhs += r.EnergyKWh
	}
	flush()
	return models.TimeSeries{Points: points}
}

func rawSeries(rs []models.Reading) models.TimeSeries {
	points := make([]models.Point, 0, len(rs))
	for _, r := range rs {
		points = append(points, models.Point{
			Timestamp: r.Timestamp,
			Values: map[string]float64{
				models.MetricVoltage: r.Voltage,
				models.MetricCurrent: r.Current,
				models.MetricPower:   r.Power,
				models.MetricEnergy:  r.EnergyKWh,
			},
		})
	}
	return models.TimeSeries{Points: points}
}

type deviceBucket struct {
	power, voltage float64
	n              int
}

// bucketMeans averages power and voltage per bucket for one device's readings.
func bucketMeans(rs []models.Reading, d time.Duration) map[time.Time]deviceBucket {
	acc := make(map[time.Time]deviceBucket)
	for _, r := range rs {
		b := BucketStart(r.Timestamp, d)
		cur := acc[b]
		cur.power += r.Power
		cur.voltage += r.Voltage
		cur.n++
		acc[b] = cur
	}
	for b, cur := range acc {
		c := float64(cur.n)
		acc[b] = deviceBucket{power: cur.power / c, voltage: cur.voltage / c, n: cur.n}
	}
	return acc
}

// combineDevices sums per-device mean power and averages per-device mean voltage per bucket.
func combineDevices(perDevice []map[time.Time]deviceBucket) models.TimeSeries {
	type total struct {
		power, voltage float64
		devices        int
	}
	totals := make(map[time.Time]total)
	for _, buckets := range perDevice {
		for b, m := range buckets {
			t := totals[b]
			t.power += m.power
			t.voltage += m.voltage
			t.devices++
			totals[b] = t
		}
	}

	keys := make([]time.Time, 0, len(totals))
	for b := range totals {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	points := make([]models.Point, 0, len(keys))
	for _, b := range keys {
		t := totals[b]
		points = append(points, models.Point{
			Timestamp: b,
			Values: map[string]float64{
				models.MetricPowerSum:   t.power,
				models.MetricVoltageAvg: t.voltage / float64(t.devices),
			},
		})
	}
	return models.TimeSeries{Points: points}
}
