package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/02loveslollipop/plugmeter/internal/models"
)

// TolerantStore turns backend read failures into empty results and logs every failure.
// Write errors are still returned to the caller, wrapped in ErrStoreUnavailable.
type TolerantStore struct {
	inner Store
	log   logrus.FieldLogger
}

// Tolerant wraps s. A nil logger discards output.
func Tolerant(s Store, log logrus.FieldLogger) *TolerantStore {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &TolerantStore{inner: s, log: log}
}

func (t *TolerantStore) Append(ctx context.Context, deviceID string, r models.Reading) error {
	if err := t.inner.Append(ctx, deviceID, r); err != nil {
		t.log.WithError(err).WithField("device_id", deviceID).Warn("append reading failed")
		return AsUnavailable(err)
	}
	return nil
}

func (t *TolerantStore) AppendMany(ctx context.Context, deviceID string, rs []models.Reading) error {
	if err := t.inner.AppendMany(ctx, deviceID, rs); err != nil {
		t.log.WithError(err).WithFields(logrus.Fields{"device_id": deviceID, "count": len(rs)}).Warn("append readings failed")
		return AsUnavailable(err)
	}
	return nil
}

func (t *TolerantStore) Latest(ctx context.Context, deviceID string, n int) ([]models.Reading, error) {
	rs, err := t.inner.Latest(ctx, deviceID, n)
	if err != nil {
		t.log.WithError(err).WithField("device_id", deviceID).Warn("latest readings failed; returning no data")
		return []models.Reading{}, nil
	}
	sortReadings(rs)
	return rs, nil
}

func (t *TolerantStore) Range(ctx context.Context, deviceID string, start, end time.Time) ([]models.Reading, error) {
	rs, err := t.inner.Range(ctx, deviceID, start, end)
	if err != nil {
		t.log.WithError(err).WithField("device_id", deviceID).Warn("range readings failed; returning no data")
		return []models.Reading{}, nil
	}
	sortReadings(rs)
	return rs, nil
}

func (t *TolerantStore) LastAtOrBefore(ctx context.Context, deviceID string, at time.Time) (models.Reading, bool, error) {
	r, ok, err := t.inner.LastAtOrBefore(ctx, deviceID, at)
	if err != nil {
		t.log.WithError(err).WithField("device_id", deviceID).Warn("baseline lookup failed; returning no data")
		return models.Reading{}, false, nil
	}
	return r, ok, nil
}

func (t *TolerantStore) ClaimMarker(ctx context.Context, key string) (bool, error) {
	ok, err := t.inner.ClaimMarker(ctx, key)
	if err != nil {
		t.log.WithError(err).WithField("marker", key).Warn("claim marker failed")
		return false, AsUnavailable(err)
	}
	return ok, nil
}

func (t *TolerantStore) Close(ctx context.Context) error {
	return t.inner.Close(ctx)
}

// Unwrap returns the wrapped store.
func (t *TolerantStore) Unwrap() Store {
	return t.inner
}

// Strict returns the store beneath any Tolerant wrapper, so read errors reach the caller.
func Strict(s Store) Store {
	for {
		u, ok := s.(interface{ Unwrap() Store })
		if !ok {
			return s
		}
		s = u.Unwrap()
	}
}

// AsUnavailable wraps err in ErrStoreUnavailable unless it already is one. Nil stays nil.
func AsUnavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// OpenTolerant opens databaseURL and wraps it with Tolerant. A backend that cannot be
// opened is logged and replaced by Unavailable; only a malformed URL is an error.
func OpenTolerant(ctx context.Context, databaseURL string, log logrus.FieldLogger) (Store, error) {
	s, err := Open(ctx, databaseURL)
	if err != nil {
		if errors.Is(err, errUnsupportedScheme) || errors.Is(err, errBadURL) {
			return nil, err
		}
		if log != nil {
			log.WithError(err).Warn("reading store unreachable; serving without data")
		}
		s = Unavailable{}
	}
	if _, ok := s.(Unavailable); ok && log != nil {
		log.Warn("no reading store configured; reads return no data")
	}
	return Tolerant(s, log), nil
}
