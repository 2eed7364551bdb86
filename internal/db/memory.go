package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/02loveslollipop/plugmeter/internal/models"
)

// Memory is an in-process Store. Each device's readings are kept sorted by timestamp.
type Memory struct {
	mu      sync.RWMutex
	data    map[string][]models.Reading
	markers map[string]time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:    make(map[string][]models.Reading),
		markers: make(map[string]time.Time),
	}
}

// Append inserts r after any readings with the same or an earlier timestamp.
func (m *Memory) Append(ctx context.Context, deviceID string, r models.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insert(deviceID, prepare(deviceID, r))
	return nil
}

// AppendMany inserts every reading in rs.
func (m *Memory) AppendMany(ctx context.Context, deviceID string, rs []models.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rs {
		m.insert(deviceID, prepare(deviceID, r))
	}
	return nil
}

func (m *Memory) insert(deviceID string, r models.Reading) {
	arr := m.data[deviceID]
	idx := sort.Search(len(arr), func(i int) bool {
		return arr[i].Timestamp.After(r.Timestamp)
	})
	arr = append(arr, models.Reading{})
	copy(arr[idx+1:], arr[idx:])
	arr[idx] = r
	m.data[deviceID] = arr
}

// Latest implements Store.
func (m *Memory) Latest(ctx context.Context, deviceID string, n int) ([]models.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []models.Reading{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	arr := m.data[deviceID]
	if n > len(arr) {
		n = len(arr)
	}
	return append([]models.Reading{}, arr[len(arr)-n:]...), nil
}

// Range implements Store in O(log n + k).
func (m *Memory) Range(ctx context.Context, deviceID string, start, end time.Time) ([]models.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	arr := m.data[deviceID]
	lo := sort.Search(len(arr), func(i int) bool {
		return !arr[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(arr), func(i int) bool {
		return arr[i].Timestamp.After(end)
	})
	if lo >= hi {
		return []models.Reading{}, nil
	}
	return append([]models.Reading{}, arr[lo:hi]...), nil
}

// LastAtOrBefore implements Store.
func (m *Memory) LastAtOrBefore(ctx context.Context, deviceID string, t time.Time) (models.Reading, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Reading{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	arr := m.data[deviceID]
	idx := sort.Search(len(arr), func(i int) bool {
		return arr[i].Timestamp.After(t)
	})
	if idx == 0 {
		return models.Reading{}, false, nil
	}
	return arr[idx-1], true, nil
}

// ClaimMarker implements Store.
func (m *Memory) ClaimMarker(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.markers[key]; ok {
		return false, nil
	}
	m.markers[key] = time.Now().UTC()
	return true, nil
}

// Close implements Store.
func (m *Memory) Close(context.Context) error {
	return nil
}
