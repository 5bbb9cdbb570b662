package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jcastillo/hydromet/internal/models"
)

// DefaultMissingValue is the sentinel decoders write for absent
// measurements. It is never a legitimate reading and is excluded from
// every aggregate.
const DefaultMissingValue = -99.9

type Store struct {
	db           *sql.DB
	missingValue float64
}

func New(db *sql.DB, missingValue float64) *Store {
	return &Store{db: db, missingValue: missingValue}
}

// MissingValue returns the configured sentinel.
func (s *Store) MissingValue() float64 {
	return s.missingValue
}

// DB exposes the underlying handle for ad-hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn inside a transaction, retrying the whole transaction
// with exponential backoff while SQLite reports lock contention. Other
// errors are permanent and abort immediately.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	op := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return classifyTxErr(err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return classifyTxErr(err)
		}
		if err := tx.Commit(); err != nil {
			return classifyTxErr(err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func classifyTxErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return err
	}
	return backoff.Permanent(err)
}

func (s *Store) UpsertStation(ctx context.Context, st models.Station) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stations (id, name, utc_offset_minutes, is_automatic, is_active, reference_station_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			utc_offset_minutes = excluded.utc_offset_minutes,
			is_automatic = excluded.is_automatic,
			is_active = excluded.is_active,
			reference_station_id = excluded.reference_station_id
	`, st.ID, st.Name, st.UTCOffsetMinutes, st.IsAutomatic, st.IsActive, st.ReferenceStationID)
	return err
}

func (s *Store) GetStation(ctx context.Context, id int64) (*models.Station, error) {
	var st models.Station
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, utc_offset_minutes, is_automatic, is_active, reference_station_id
		FROM stations WHERE id = ?
	`, id).Scan(&st.ID, &st.Name, &st.UTCOffsetMinutes, &st.IsAutomatic, &st.IsActive, &st.ReferenceStationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) GetActiveStations(ctx context.Context) ([]models.Station, error) {
	return s.queryStations(ctx, `
		SELECT id, name, utc_offset_minutes, is_automatic, is_active, reference_station_id
		FROM stations WHERE is_active ORDER BY id
	`)
}

// GetStations returns the station records for the given ids, in id order.
func (s *Store) GetStations(ctx context.Context, ids []int64) ([]models.Station, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, name, utc_offset_minutes, is_automatic, is_active, reference_station_id
		FROM stations WHERE id IN (%s) ORDER BY id
	`, placeholders(len(ids)))
	return s.queryStations(ctx, query, int64Args(ids)...)
}

func (s *Store) queryStations(ctx context.Context, query string, args ...any) ([]models.Station, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var st models.Station
		if err := rows.Scan(&st.ID, &st.Name, &st.UTCOffsetMinutes, &st.IsAutomatic, &st.IsActive, &st.ReferenceStationID); err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

func (s *Store) UpsertVariable(ctx context.Context, v models.Variable) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variables (id, name, symbol, persistence, persistence_hourly, persistence_window, persistence_window_hourly)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			symbol = excluded.symbol,
			persistence = excluded.persistence,
			persistence_hourly = excluded.persistence_hourly,
			persistence_window = excluded.persistence_window,
			persistence_window_hourly = excluded.persistence_window_hourly
	`, v.ID, v.Name, v.Symbol, v.Persistence, v.PersistenceHourly, v.PersistenceWindow, v.PersistenceWindowHourly)
	return err
}

func (s *Store) GetVariable(ctx context.Context, id int64) (*models.Variable, error) {
	var v models.Variable
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, symbol, persistence, persistence_hourly, persistence_window, persistence_window_hourly
		FROM variables WHERE id = ?
	`, id).Scan(&v.ID, &v.Name, &v.Symbol, &v.Persistence, &v.PersistenceHourly, &v.PersistenceWindow, &v.PersistenceWindowHourly)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// VariableIDByName resolves a variable by its unique name, used when
// inserting derived wave readings.
func (s *Store) VariableIDByName(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM variables WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
