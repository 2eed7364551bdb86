package db

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/02loveslollipop/plugmeter/internal/models"
)

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func reading(min int, power float64) models.Reading {
	return models.Reading{Timestamp: base.Add(time.Duration(min) * time.Minute), Power: power}
}

func timestamps(rs []models.Reading) []time.Time {
	out := make([]time.Time, len(rs))
	for i, r := range rs {
		out[i] = r.Timestamp
	}
	return out
}

func assertAscending(t *testing.T, rs []models.Reading) {
	t.Helper()
	for i := 1; i < len(rs); i++ {
		assert.False(t, rs[i].Timestamp.Before(rs[i-1].Timestamp), "index %d out of order", i)
	}
}

func TestMemoryOrdersArbitraryInserts(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for _, m := range []int{30, 5, 20, 0, 10, 25, 15} {
		require.NoError(t, s.Append(ctx, "d1", reading(m, float64(m))))
	}

	latest, err := s.Latest(ctx, "d1", 3)
	require.NoError(t, err)
	assertAscending(t, latest)
	assert.Equal(t, []time.Time{base.Add(20 * time.Minute), base.Add(25 * time.Minute), base.Add(30 * time.Minute)}, timestamps(latest))

	rng, err := s.Range(ctx, "d1", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, rng, 7)
	assertAscending(t, rng)
}

func TestMemoryLatestMoreThanAvailable(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Append(ctx, "d1", reading(0, 1)))
	require.NoError(t, s.Append(ctx, "d1", reading(1, 2)))

	rs, err := s.Latest(ctx, "d1", 50)
	require.NoError(t, err)
	assert.Len(t, rs, 2)

	empty, err := s.Latest(ctx, "other", 50)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestMemoryRangeIsInclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for m := 0; m <= 10; m++ {
		require.NoError(t, s.Append(ctx, "d1", reading(m, 0)))
	}
	rs, err := s.Range(ctx, "d1", base.Add(2*time.Minute), base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		base.Add(2 * time.Minute), base.Add(3 * time.Minute), base.Add(4 * time.Minute), base.Add(5 * time.Minute),
	}, timestamps(rs))

	none, err := s.Range(ctx, "d1", base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryRangeIsRepeatable(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for _, m := range []int{3, 1, 2, 2} {
		require.NoError(t, s.Append(ctx, "d1", reading(m, float64(m))))
	}
	a, err := s.Range(ctx, "d1", base, base.Add(time.Hour))
	require.NoError(t, err)
	b, err := s.Range(ctx, "d1", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMemoryKeepsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Append(ctx, "d1", reading(1, 10)))
	require.NoError(t, s.Append(ctx, "d1", reading(1, 20)))

	rs, err := s.Latest(ctx, "d1", 10)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, 10.0, rs[0].Power)
	assert.Equal(t, 20.0, rs[1].Power)
}

func TestMemoryNormalizesTimestampAndDevice(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	local := time.Date(2024, 5, 1, 6, 0, 0, 0, time.FixedZone("UTC+6", 6*3600))
	require.NoError(t, s.Append(ctx, "d1", models.Reading{DeviceID: "wrong", Timestamp: local}))

	rs, err := s.Latest(ctx, "d1", 1)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "d1", rs[0].DeviceID)
	assert.Equal(t, time.UTC, rs[0].Timestamp.Location())
	assert.True(t, rs[0].Timestamp.Equal(base))
}

func TestMemoryLastAtOrBefore(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.AppendMany(ctx, "d1", []models.Reading{reading(10, 1), reading(0, 0), reading(20, 2)}))

	_, ok, err := s.LastAtOrBefore(ctx, "d1", base.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	r, ok, err := s.LastAtOrBefore(ctx, "d1", base.Add(10*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, r.Power)

	r, ok, err = s.LastAtOrBefore(ctx, "d1", base.Add(15*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, r.Power)
}

func TestMemoryClaimMarkerOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimMarker(ctx, SeedMarker)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Append(ctx, "d1", reading(i%7, float64(i)))
		}(i)
	}
	wg.Wait()
	rs, err := s.Latest(ctx, "d1", 100)
	require.NoError(t, err)
	assert.Len(t, rs, 50)
	assertAscending(t, rs)
}

func TestUnavailableDegrades(t *testing.T) {
	ctx := context.Background()
	var s Store = Unavailable{}

	assert.ErrorIs(t, s.Append(ctx, "d1", reading(0, 0)), ErrStoreUnavailable)
	rs, err := s.Latest(ctx, "d1", 50)
	require.NoError(t, err)
	assert.Empty(t, rs)
	rs, err = s.Range(ctx, "d1", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, rs)
	_, ok, err := s.LastAtOrBefore(ctx, "d1", base)
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingStore struct {
	Unavailable
	err error
}

func (f failingStore) Append(context.Context, string, models.Reading) error { return f.err }

func (f failingStore) Latest(context.Context, string, int) ([]models.Reading, error) {
	return nil, f.err
}

func (f failingStore) Range(context.Context, string, time.Time, time.Time) ([]models.Reading, error) {
	return nil, f.err
}

func (f failingStore) LastAtOrBefore(context.Context, string, time.Time) (models.Reading, bool, error) {
	return models.Reading{}, false, f.err
}

func TestTolerantSwallowsReadErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	s := Tolerant(failingStore{err: boom}, nil)

	rs, err := s.Latest(ctx, "d1", 5)
	require.NoError(t, err)
	assert.NotNil(t, rs)
	assert.Empty(t, rs)

	rs, err = s.Range(ctx, "d1", base, base)
	require.NoError(t, err)
	assert.Empty(t, rs)

	_, ok, err := s.LastAtOrBefore(ctx, "d1", base)
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.Append(ctx, "d1", reading(0, 0))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, boom)
}

func TestTolerantKeepsUnavailableError(t *testing.T) {
	s := Tolerant(Unavailable{}, nil)
	err := s.Append(context.Background(), "d1", reading(0, 0))
	assert.Equal(t, ErrStoreUnavailable, err)
}

func TestStrictUnwrapsTolerant(t *testing.T) {
	m := NewMemory()
	assert.Same(t, m, Strict(Tolerant(m, nil)))
	assert.Same(t, m, Strict(Tolerant(Tolerant(m, nil), nil)))
	assert.Same(t, m, Strict(m))

	_, err := Strict(Tolerant(failingStore{err: errors.New("connection refused")}, nil)).Latest(context.Background(), "d1", 1)
	assert.Error(t, err)
}

func TestAsUnavailable(t *testing.T) {
	assert.NoError(t, AsUnavailable(nil))
	assert.Equal(t, ErrStoreUnavailable, AsUnavailable(ErrStoreUnavailable))

	err := AsUnavailable(errors.New("broken pipe"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "")
	require.NoError(t, err)
	assert.IsType(t, Unavailable{}, s)

	s, err = Open(ctx, "memory://")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open(ctx, "redis://localhost:6379")
	assert.Error(t, err)
}

func TestOpenTolerant(t *testing.T) {
	ctx := context.Background()

	s, err := OpenTolerant(ctx, "", nil)
	require.NoError(t, err)
	rs, err := s.Latest(ctx, "d1", 5)
	require.NoError(t, err)
	assert.Empty(t, rs)
	assert.ErrorIs(t, s.Append(ctx, "d1", reading(0, 1)), ErrStoreUnavailable)

	s, err = OpenTolerant(ctx, "memory://", nil)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "d1", reading(0, 1)))

	_, err = OpenTolerant(ctx, "redis://localhost:6379", nil)
	assert.ErrorIs(t, err, errUnsupportedScheme)
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "readings_bf12ab34", CollectionName("bf12ab34"))
	assert.Equal(t, "readings_a_2eb_24c", CollectionName("a.b$c"))
	assert.Equal(t, "readings_a_5fb", CollectionName("a_b"))
	assert.Equal(t, "readings_plug-01", CollectionName("plug-01"))

	seen := map[string]string{}
	for _, id := range []string{"a.b", "a_b", "a$b", "a_2eb", "a_5fb", "ab", "a-b", "é"} {
		name := CollectionName(id)
		prev, dup := seen[name]
		assert.False(t, dup, "%q and %q share collection %q", prev, id, name)
		seen[name] = id
	}
}

func TestMongoDatabaseName(t *testing.T) {
	u, err := url.Parse("mongodb+srv://user:pw@cluster.example.net/energy?retryWrites=true")
	require.NoError(t, err)
	assert.Equal(t, "energy", mongoDatabaseName(u))

	u, err = url.Parse("mongodb://localhost:27017")
	require.NoError(t, err)
	assert.Equal(t, defaultMongoDatabase, mongoDatabaseName(u))
}
