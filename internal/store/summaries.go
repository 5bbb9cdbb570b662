package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jcastillo/hydromet/internal/models"
)

// ReplaceHourlySummaries deletes the hourly rows for the given bucket
// and stations, then inserts the freshly computed ones. The delete and
// insert run in one transaction so a recomputation is atomic and
// idempotent.
func (s *Store) ReplaceHourlySummaries(ctx context.Context, hour time.Time, stationIDs []int64, rows []models.HourlySummary) error {
	if len(stationIDs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		deleteQuery := fmt.Sprintf(`
			DELETE FROM hourly_summary WHERE datetime = ? AND station_id IN (%s)
		`, placeholders(len(stationIDs)))
		args := append([]any{hour.UTC().Unix()}, int64Args(stationIDs)...)
		if _, err := tx.ExecContext(ctx, deleteQuery, args...); err != nil {
			return err
		}

		now := time.Now().UTC().Unix()
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO hourly_summary (datetime, station_id, variable_id, min_value, max_value, avg_value, sum_value, num_records, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, r.Datetime.UTC().Unix(), r.StationID, r.VariableID, r.Min, r.Max, r.Avg, r.Sum, r.NumRecords, now, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceDailySummaries replaces the daily rows for local days in
// [startDay, endDay) for the given stations.
func (s *Store) ReplaceDailySummaries(ctx context.Context, startDay, endDay string, stationIDs []int64, rows []models.DailySummary) error {
	if len(stationIDs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		deleteQuery := fmt.Sprintf(`
			DELETE FROM daily_summary WHERE day >= ? AND day < ? AND station_id IN (%s)
		`, placeholders(len(stationIDs)))
		args := append([]any{startDay, endDay}, int64Args(stationIDs)...)
		if _, err := tx.ExecContext(ctx, deleteQuery, args...); err != nil {
			return err
		}

		now := time.Now().UTC().Unix()
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO daily_summary (day, station_id, variable_id, min_value, max_value, avg_value, sum_value, num_records, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, r.Day, r.StationID, r.VariableID, r.Min, r.Max, r.Avg, r.Sum, r.NumRecords, now, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceLast24hSummaries truncates and rebuilds the whole rolling
// last-24h table.
func (s *Store) ReplaceLast24hSummaries(ctx context.Context, rows []models.Last24hSummary) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM last24h_summary`); err != nil {
			return err
		}
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO last24h_summary (datetime, station_id, variable_id, min_value, max_value, avg_value, sum_value, num_records, latest_value)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, r.Datetime.UTC().Unix(), r.StationID, r.VariableID, r.Min, r.Max, r.Avg, r.Sum, r.NumRecords, r.LatestValue); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertMinimumIntervals records per-day data completeness rows.
func (s *Store) UpsertMinimumIntervals(ctx context.Context, rows []models.MinimumInterval) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC().Unix()
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO station_data_min_intervals (day, station_id, variable_id, minimum_interval, record_count, ideal_record_count, record_count_percentage, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(day, station_id, variable_id) DO UPDATE SET
					minimum_interval = excluded.minimum_interval,
					record_count = excluded.record_count,
					ideal_record_count = excluded.ideal_record_count,
					record_count_percentage = excluded.record_count_percentage,
					updated_at = excluded.updated_at
			`, r.Day, r.StationID, r.VariableID, r.MinimumIntervalSeconds, r.RecordCount,
				r.IdealRecordCount, r.RecordCountPercentage, now, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetHourlySummaries(ctx context.Context, hour time.Time, stationID int64) ([]models.HourlySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT datetime, station_id, variable_id, min_value, max_value, avg_value, sum_value, num_records
		FROM hourly_summary WHERE datetime = ? AND station_id = ? ORDER BY variable_id
	`, hour.UTC().Unix(), stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.HourlySummary
	for rows.Next() {
		var r models.HourlySummary
		var dt int64
		if err := rows.Scan(&dt, &r.StationID, &r.VariableID, &r.Min, &r.Max, &r.Avg, &r.Sum, &r.NumRecords); err != nil {
			return nil, err
		}
		r.Datetime = time.Unix(dt, 0).UTC()
		summaries = append(summaries, r)
	}
	return summaries, rows.Err()
}

func (s *Store) GetDailySummaries(ctx context.Context, day string, stationID int64) ([]models.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, station_id, variable_id, min_value, max_value, avg_value, sum_value, num_records
		FROM daily_summary WHERE day = ? AND station_id = ? ORDER BY variable_id
	`, day, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.DailySummary
	for rows.Next() {
		var r models.DailySummary
		if err := rows.Scan(&r.Day, &r.StationID, &r.VariableID, &r.Min, &r.Max, &r.Avg, &r.Sum, &r.NumRecords); err != nil {
			return nil, err
		}
		summaries = append(summaries, r)
	}
	return summaries, rows.Err()
}

func (s *Store) GetLast24hSummaries(ctx context.Context) ([]models.Last24hSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT datetime, station_id, variable_id, min_value, max_value, avg_value, sum_value, num_records, latest_value
		FROM last24h_summary ORDER BY station_id, variable_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.Last24hSummary
	for rows.Next() {
		var r models.Last24hSummary
		var dt int64
		if err := rows.Scan(&dt, &r.StationID, &r.VariableID, &r.Min, &r.Max, &r.Avg, &r.Sum, &r.NumRecords, &r.LatestValue); err != nil {
			return nil, err
		}
		r.Datetime = time.Unix(dt, 0).UTC()
		summaries = append(summaries, r)
	}
	return summaries, rows.Err()
}
