package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/02loveslollipop/plugmeter/internal/models"
)

// ErrStoreUnavailable reports that no backend is configured or reachable.
var ErrStoreUnavailable = errors.New("reading store unavailable")

var (
	errBadURL            = errors.New("invalid database url")
	errUnsupportedScheme = errors.New("unsupported database scheme")
)

// SeedMarker is the marker key claimed by the history backfill job.
const SeedMarker = "history_seed_done"

// Store is a per-device, append-only, time-ordered log of readings.
// All reads return readings in ascending timestamp order.
type Store interface {
	Append(ctx context.Context, deviceID string, r models.Reading) error
	AppendMany(ctx context.Context, deviceID string, rs []models.Reading) error
	// Latest returns up to n of the most recent readings, oldest first.
	Latest(ctx context.Context, deviceID string, n int) ([]models.Reading, error)
	// Range returns readings with start <= ts <= end.
	Range(ctx context.Context, deviceID string, start, end time.Time) ([]models.Reading, error)
	// LastAtOrBefore returns the most recent reading with ts <= t.
	LastAtOrBefore(ctx context.Context, deviceID string, t time.Time) (models.Reading, bool, error)
	// ClaimMarker atomically creates a marker record and reports whether this call created it.
	ClaimMarker(ctx context.Context, key string) (bool, error)
	Close(ctx context.Context) error
}

// Open picks a backend from the connection string scheme.
// An empty string yields the Unavailable store.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return Unavailable{}, nil
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return NewPostgres(ctx, databaseURL)
	case "mongodb", "mongodb+srv":
		return NewMongo(ctx, databaseURL, u)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w %q", errUnsupportedScheme, u.Scheme)
	}
}

// sortReadings orders readings by timestamp, keeping insertion order for equal instants.
func sortReadings(rs []models.Reading) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].Timestamp.Before(rs[j].Timestamp)
	})
}

// prepare stamps the owning device and normalizes the timestamp to UTC.
func prepare(deviceID string, r models.Reading) models.Reading {
	r.DeviceID = deviceID
	r.Timestamp = r.Timestamp.UTC()
	return r
}
