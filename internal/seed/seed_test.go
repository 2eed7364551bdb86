package seed

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/02loveslollipop/plugmeter/internal/db"
)

var seedNow = time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)

func testOptions() Options {
	return Options{
		DeviceID:   "bf01",
		DeviceName: "Lab Plug",
		PastDays:   2,
		Step:       time.Hour,
		Rand:       rand.New(rand.NewSource(42)),
		Now:        func() time.Time { return seedNow },
	}
}

func TestPowerProfileBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cases := []struct {
		minute int
		base   float64
	}{
		{0, 8}, {5*60 + 59, 8}, {6 * 60, 70}, {10 * 60, 130},
		{12 * 60, 170}, {16*60 + 59, 170}, {20 * 60, 90}, {23*60 + 59, 20},
	}
	for _, tc := range cases {
		for i := 0; i < 200; i++ {
			p := PowerProfile(tc.minute, rng)
			assert.GreaterOrEqual(t, p, tc.base*0.75*0.9-1e-9, "minute %d", tc.minute)
			assert.LessOrEqual(t, p, tc.base*1.25*1.1+1e-9, "minute %d", tc.minute)
		}
	}
}

func TestGenerateCoversPastDaysOnly(t *testing.T) {
	rs := Generate(testOptions())
	require.Len(t, rs, 2*24)

	assert.Equal(t, time.Date(2024, 6, 13, 0, 0, 0, 0, time.UTC), rs[0].Timestamp)
	assert.Equal(t, time.Date(2024, 6, 14, 23, 0, 0, 0, time.UTC), rs[len(rs)-1].Timestamp)

	for i, r := range rs {
		assert.Equal(t, "bf01", r.DeviceID)
		assert.Equal(t, "Lab Plug", r.DeviceName)
		assert.InDelta(t, 230.0, r.Voltage, 4.01)
		if i > 0 {
			assert.GreaterOrEqual(t, r.EnergyKWh, rs[i-1].EnergyKWh, "energy is cumulative")
			assert.True(t, r.Timestamp.After(rs[i-1].Timestamp))
		}
	}
}

func TestGenerateIsDeterministicForSeededRand(t *testing.T) {
	a := Generate(testOptions())
	b := Generate(testOptions())
	assert.Equal(t, a, b)
}

func TestRunSeedsOnce(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()

	first, err := Run(ctx, store, testOptions())
	require.NoError(t, err)
	assert.False(t, first.Skipped)
	assert.Equal(t, 48, first.Inserted)
	assert.Equal(t, time.Date(2024, 6, 13, 0, 0, 0, 0, time.UTC), first.From)

	second, err := Run(ctx, store, testOptions())
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	stored, err := store.Range(ctx, "bf01", first.From, first.To)
	require.NoError(t, err)
	assert.Len(t, stored, 48)
}

func TestRunConcurrentSeedsOnce(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()

	var wg sync.WaitGroup
	reports := make([]Report, 4)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			opts := testOptions()
			opts.Rand = rand.New(rand.NewSource(int64(i)))
			rep, err := Run(ctx, store, opts)
			assert.NoError(t, err)
			reports[i] = rep
		}(i)
	}
	wg.Wait()

	inserted := 0
	for _, r := range reports {
		if !r.Skipped {
			inserted++
		}
	}
	assert.Equal(t, 1, inserted)

	stored, err := store.Latest(ctx, "bf01", 1000)
	require.NoError(t, err)
	assert.Len(t, stored, 48)
}

func TestRunWithoutStore(t *testing.T) {
	_, err := Run(context.Background(), db.Unavailable{}, testOptions())
	assert.ErrorIs(t, err, db.ErrStoreUnavailable)
}

func TestRunRequiresDevice(t *testing.T) {
	opts := testOptions()
	opts.DeviceID = ""
	_, err := Run(context.Background(), db.NewMemory(), opts)
	assert.Error(t, err)
}
