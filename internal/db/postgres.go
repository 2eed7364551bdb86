package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/02loveslollipop/plugmeter/internal/models"
)

// Postgres stores readings in one table partitioned logically by device_id.
type Postgres struct {
	pool *pgxpool.Pool
}

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS plugmeter;
CREATE TABLE IF NOT EXISTS plugmeter.readings (
    id          BIGSERIAL PRIMARY KEY,
    device_id   TEXT NOT NULL,
    device_name TEXT NOT NULL DEFAULT '',
    ts          TIMESTAMP WITHOUT TIME ZONE NOT NULL,
    voltage     DOUBLE PRECISION NOT NULL,
    current     DOUBLE PRECISION NOT NULL,
    power       DOUBLE PRECISION NOT NULL,
    energy_kwh  DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS readings_device_ts_idx ON plugmeter.readings (device_id, ts);
CREATE TABLE IF NOT EXISTS plugmeter.meta (
    key        TEXT PRIMARY KEY,
    created_at TIMESTAMP WITHOUT TIME ZONE NOT NULL
);
`

// NewPostgres connects a pgx pool and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool resources.
func (p *Postgres) Close(context.Context) error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

const insertReadingSQL = `INSERT INTO plugmeter.readings (device_id, device_name, ts, voltage, current, power, energy_kwh)
VALUES ($1,$2,$3,$4,$5,$6,$7)`

// Append writes one reading.
func (p *Postgres) Append(ctx context.Context, deviceID string, r models.Reading) error {
	r = prepare(deviceID, r)
	_, err := p.pool.Exec(ctx, insertReadingSQL, r.DeviceID, r.DeviceName, r.Timestamp, r.Voltage, r.Current, r.Power, r.EnergyKWh)
	return err
}

// AppendMany writes readings in a single batch.
func (p *Postgres) AppendMany(ctx context.Context, deviceID string, rs []models.Reading) error {
	if len(rs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rs {
		r = prepare(deviceID, r)
		batch.Queue(insertReadingSQL, r.DeviceID, r.DeviceName, r.Timestamp, r.Voltage, r.Current, r.Power, r.EnergyKWh)
	}

	res := p.pool.SendBatch(ctx, batch)
	defer res.Close()

	for range rs {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}

const selectColumns = `SELECT device_id, device_name, ts, voltage, current, power, energy_kwh FROM plugmeter.readings`

const latestSQL = `SELECT * FROM (` + selectColumns + `
    WHERE device_id = $1
    ORDER BY ts DESC, id DESC
    LIMIT $2
) latest ORDER BY ts`

// Latest returns up to n newest readings in ascending order.
func (p *Postgres) Latest(ctx context.Context, deviceID string, n int) ([]models.Reading, error) {
	if n <= 0 {
		return []models.Reading{}, nil
	}
	rows, err := p.pool.Query(ctx, latestSQL, deviceID, n)
	if err != nil {
		return nil, err
	}
	return scanReadings(rows)
}

const rangeSQL = selectColumns + `
    WHERE device_id = $1 AND ts >= $2 AND ts <= $3
    ORDER BY ts, id`

// Range returns readings between start and end inclusive.
func (p *Postgres) Range(ctx context.Context, deviceID string, start, end time.Time) ([]models.Reading, error) {
	rows, err := p.pool.Query(ctx, rangeSQL, deviceID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	return scanReadings(rows)
}

const lastAtOrBeforeSQL = selectColumns + `
    WHERE device_id = $1 AND ts <= $2
    ORDER BY ts DESC, id DESC
    LIMIT 1`

// LastAtOrBefore returns the newest reading at or before t.
func (p *Postgres) LastAtOrBefore(ctx context.Context, deviceID string, t time.Time) (models.Reading, bool, error) {
	rows, err := p.pool.Query(ctx, lastAtOrBeforeSQL, deviceID, t.UTC())
	if err != nil {
		return models.Reading{}, false, err
	}
	rs, err := scanReadings(rows)
	if err != nil || len(rs) == 0 {
		return models.Reading{}, false, err
	}
	return rs[0], true, nil
}

const claimMarkerSQL = `INSERT INTO plugmeter.meta (key, created_at) VALUES ($1, $2)
ON CONFLICT (key) DO NOTHING
RETURNING key`

// ClaimMarker inserts the marker row; a conflict means it was already claimed.
func (p *Postgres) ClaimMarker(ctx context.Context, key string) (bool, error) {
	var claimed string
	err := p.pool.QueryRow(ctx, claimMarkerSQL, key, time.Now().UTC()).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanReadings(rows pgx.Rows) ([]models.Reading, error) {
	defer rows.Close()

	out := make([]models.Reading, 0)
	for rows.Next() {
		var r models.Reading
		if err := rows.Scan(
			&r.DeviceID,
			&r.DeviceName,
			&r.Timestamp,
			&r.Voltage,
			&r.Current,
			&r.Power,
			&r.EnergyKWh,
		); err != nil {
			return nil, err
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
