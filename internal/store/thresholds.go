package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jcastillo/hydromet/internal/models"
)

// GetPersistThreshold looks up a persistence threshold for the exact
// (station, variable, interval, window) key. A nil interval matches
// rows whose interval column is NULL, which act as wildcards over the
// sampling interval.
func (s *Store) GetPersistThreshold(ctx context.Context, stationID, variableID int64, interval *int64, window int64) (*models.PersistThreshold, error) {
	var row *sql.Row
	if interval == nil {
		row = s.db.QueryRowContext(ctx, `
			SELECT station_id, variable_id, interval, window, minimum_variance
			FROM qc_persist_thresholds
			WHERE station_id = ? AND variable_id = ? AND interval IS NULL AND window = ?
		`, stationID, variableID, window)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT station_id, variable_id, interval, window, minimum_variance
			FROM qc_persist_thresholds
			WHERE station_id = ? AND variable_id = ? AND interval = ? AND window = ?
		`, stationID, variableID, *interval, window)
	}

	var t models.PersistThreshold
	err := row.Scan(&t.StationID, &t.VariableID, &t.Interval, &t.Window, &t.MinimumVariance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) UpsertPersistThreshold(ctx context.Context, t models.PersistThreshold) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qc_persist_thresholds (station_id, variable_id, interval, window, minimum_variance)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(station_id, variable_id, interval, window) DO UPDATE SET
			minimum_variance = excluded.minimum_variance
	`, t.StationID, t.VariableID, t.Interval, t.Window, t.MinimumVariance)
	return err
}
