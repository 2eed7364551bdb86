package db

import (
	"context"
	"time"

	"github.com/02loveslollipop/plugmeter/internal/models"
)

// Unavailable is the Store used when no connection is configured.
// Reads return no data and writes fail with ErrStoreUnavailable.
type Unavailable struct{}

func (Unavailable) Append(context.Context, string, models.Reading) error {
	return ErrStoreUnavailable
}

func (Unavailable) AppendMany(context.Context, string, []models.Reading) error {
	return ErrStoreUnavailable
}

func (Unavailable) Latest(context.Context, string, int) ([]models.Reading, error) {
	return []models.Reading{}, nil
}

func (Unavailable) Range(context.Context, string, time.Time, time.Time) ([]models.Reading, error) {
	return []models.Reading{}, nil
}

func (Unavailable) LastAtOrBefore(context.Context, string, time.Time) (models.Reading, bool, error) {
	return models.Reading{}, false, nil
}

func (Unavailable) ClaimMarker(context.Context, string) (bool, error) {
	return false, ErrStoreUnavailable
}

func (Unavailable) Close(context.Context) error {
	return nil
}
