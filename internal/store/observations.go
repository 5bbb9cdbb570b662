package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jcastillo/hydromet/internal/models"
)

const observationColumns = `
	station_id, variable_id, datetime, measured, code, consisted, is_daily,
	manual_flag, quality_flag, qc_range_quality_flag, qc_step_quality_flag,
	qc_persist_quality_flag, qc_persist_description, ml_flag
`

func (s *Store) InsertObservation(ctx context.Context, obs models.Observation) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_data (
			station_id, variable_id, datetime, measured, code, consisted, is_daily,
			manual_flag, quality_flag, qc_range_quality_flag, qc_step_quality_flag,
			qc_persist_quality_flag, qc_persist_description, ml_flag, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id, variable_id, datetime) DO UPDATE SET
			measured = excluded.measured,
			code = excluded.code,
			consisted = excluded.consisted,
			is_daily = excluded.is_daily,
			manual_flag = excluded.manual_flag,
			quality_flag = excluded.quality_flag,
			qc_range_quality_flag = excluded.qc_range_quality_flag,
			qc_step_quality_flag = excluded.qc_step_quality_flag,
			qc_persist_quality_flag = excluded.qc_persist_quality_flag,
			qc_persist_description = excluded.qc_persist_description,
			ml_flag = excluded.ml_flag,
			updated_at = excluded.updated_at
	`, obs.StationID, obs.VariableID, obs.Datetime.UTC().Unix(), obs.Measured, obs.Code,
		obs.Consisted, obs.IsDaily, obs.ManualFlag, int64(obs.QualityFlag),
		obs.QCRangeFlag, obs.QCStepFlag, obs.QCPersistFlag, obs.QCPersistDescription,
		obs.MLFlag, now, now)
	return err
}

// GetObservationsForStations returns all raw rows for the given stations
// in [start, end], time-ascending. Used to discover which (station,
// variable) pairs a QC pass has to visit.
func (s *Store) GetObservationsForStations(ctx context.Context, start, end time.Time, stationIDs []int64) ([]models.Observation, error) {
	if len(stationIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT %s FROM raw_data
		WHERE datetime >= ? AND datetime <= ? AND station_id IN (%s)
		ORDER BY datetime
	`, observationColumns, placeholders(len(stationIDs)))

	args := append([]any{start.UTC().Unix(), end.UTC().Unix()}, int64Args(stationIDs)...)
	return s.queryObservations(ctx, query, args...)
}

// GetObservationRange returns one pair's rows over [start, end],
// time-ascending.
func (s *Store) GetObservationRange(ctx context.Context, stationID, variableID int64, start, end time.Time) ([]models.Observation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM raw_data
		WHERE station_id = ? AND variable_id = ? AND datetime >= ? AND datetime <= ?
		ORDER BY datetime
	`, observationColumns)
	return s.queryObservations(ctx, query, stationID, variableID, start.UTC().Unix(), end.UTC().Unix())
}

// GetObservationsBetween returns accepted-and-rejected raw rows for the
// given stations in the half-open interval (start, end], time-ascending.
// Daily aggregation scans with this shape: a reading at exactly local
// midnight closes the preceding day.
func (s *Store) GetObservationsBetween(ctx context.Context, start, end time.Time, stationIDs []int64) ([]models.Observation, error) {
	if len(stationIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT %s FROM raw_data
		WHERE datetime > ? AND datetime <= ? AND station_id IN (%s)
		ORDER BY datetime
	`, observationColumns, placeholders(len(stationIDs)))

	args := append([]any{start.UTC().Unix(), end.UTC().Unix()}, int64Args(stationIDs)...)
	return s.queryObservations(ctx, query, args...)
}

func (s *Store) queryObservations(ctx context.Context, query string, args ...any) ([]models.Observation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []models.Observation
	for rows.Next() {
		var o models.Observation
		var dt int64
		var qf int64
		if err := rows.Scan(&o.StationID, &o.VariableID, &dt, &o.Measured, &o.Code,
			&o.Consisted, &o.IsDaily, &o.ManualFlag, &qf, &o.QCRangeFlag, &o.QCStepFlag,
			&o.QCPersistFlag, &o.QCPersistDescription, &o.MLFlag); err != nil {
			return nil, err
		}
		o.Datetime = time.Unix(dt, 0).UTC()
		o.QualityFlag = models.QualityFlag(qf)
		observations = append(observations, o)
	}
	return observations, rows.Err()
}

// QCFlagUpdate carries the persistence-QC result for one raw row.
type QCFlagUpdate struct {
	StationID          int64
	VariableID         int64
	Datetime           time.Time
	PersistFlag        models.QualityFlag
	PersistDescription string
	QualityFlag        models.QualityFlag
}

// UpsertQCFlags writes persistence flags back onto raw rows. Conflicts
// on (station, variable, datetime) update the flag columns in place, so
// re-running a QC pass is idempotent.
func (s *Store) UpsertQCFlags(ctx context.Context, updates []QCFlagUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO raw_data (
				station_id, variable_id, datetime, measured, quality_flag,
				qc_persist_quality_flag, qc_persist_description, created_at, updated_at
			)
			VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?)
			ON CONFLICT(station_id, variable_id, datetime) DO UPDATE SET
				qc_persist_quality_flag = excluded.qc_persist_quality_flag,
				qc_persist_description = excluded.qc_persist_description,
				quality_flag = excluded.quality_flag,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC().Unix()
		for _, u := range updates {
			if _, err := stmt.ExecContext(ctx, u.StationID, u.VariableID, u.Datetime.UTC().Unix(),
				int64(u.QualityFlag), int64(u.PersistFlag), u.PersistDescription, now, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertDerivedObservations inserts synthetic readings (wave components,
// HF statistics) produced by the decomposer. Conflicts update the
// measured value so reprocessing a window is idempotent.
func (s *Store) InsertDerivedObservations(ctx context.Context, observations []models.Observation) error {
	if len(observations) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO raw_data (
				station_id, variable_id, datetime, measured, is_daily, quality_flag,
				created_at, updated_at
			)
			VALUES (?, ?, ?, ?, FALSE, ?, ?, ?)
			ON CONFLICT(station_id, variable_id, datetime) DO UPDATE SET
				measured = excluded.measured,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC().Unix()
		for _, o := range observations {
			if _, err := stmt.ExecContext(ctx, o.StationID, o.VariableID, o.Datetime.UTC().Unix(),
				o.Measured, int64(o.QualityFlag), now, now); err != nil {
				return err
			}
		}
		return nil
	})
}
