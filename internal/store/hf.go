package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jcastillo/hydromet/internal/models"
)

// InsertHFData stores high-frequency samples. Conflicts on the natural
// key update the measurement so a re-uploaded burst is idempotent.
func (s *Store) InsertHFData(ctx context.Context, samples []models.HFSample) error {
	if len(samples) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO hf_data (station_id, variable_id, datetime, measured)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(station_id, variable_id, datetime) DO UPDATE SET
				measured = excluded.measured
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, sample := range samples {
			if _, err := stmt.ExecContext(ctx, sample.StationID, sample.VariableID,
				sample.Datetime.UTC().Unix(), sample.Measured); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetHFDataRange returns one pair's high-frequency samples over
// [start, end], time-ascending. The decomposer relies on the ordering.
func (s *Store) GetHFDataRange(ctx context.Context, stationID, variableID int64, start, end time.Time) ([]models.HFSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT station_id, variable_id, datetime, measured FROM hf_data
		WHERE station_id = ? AND variable_id = ? AND datetime >= ? AND datetime <= ?
		ORDER BY datetime
	`, stationID, variableID, start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []models.HFSample
	for rows.Next() {
		var sample models.HFSample
		var dt int64
		if err := rows.Scan(&sample.StationID, &sample.VariableID, &dt, &sample.Measured); err != nil {
			return nil, err
		}
		sample.Datetime = time.Unix(dt, 0).UTC()
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}
