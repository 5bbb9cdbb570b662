package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jcastillo/hydromet/internal/models"
)

// Task claiming marks started_at inside a transaction so concurrent
// schedulers racing for the same batch see a consistent snapshot. The
// claim is a visibility marker, not a mutual-exclusion lock: all
// downstream writes are idempotent, so duplicate execution under races
// is harmless (at-least-once semantics). A failed batch releases its
// claim so the next scheduler pass retries it.

func (s *Store) CreateHourlySummaryTask(ctx context.Context, hour time.Time, stationID int64) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hourly_summary_tasks (datetime, station_id, started_at, finished_at, created_at, updated_at)
		VALUES (?, ?, NULL, NULL, ?, ?)
	`, hour.UTC().Unix(), stationID, now, now)
	return err
}

func (s *Store) CreateDailySummaryTask(ctx context.Context, day string, stationID int64) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_summary_tasks (day, station_id, started_at, finished_at, created_at, updated_at)
		VALUES (?, ?, NULL, NULL, ?, ?)
	`, day, stationID, now, now)
	return err
}

func (s *Store) CreateHFSummaryTask(ctx context.Context, task models.HFSummaryTask) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hf_summary_tasks (station_id, variable_id, start_datetime, end_datetime, started_at, finished_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULL, NULL, ?, ?)
	`, task.StationID, task.VariableID, task.StartDatetime.UTC().Unix(), task.EndDatetime.UTC().Unix(), now, now)
	return err
}

// HasPendingHourlyTask reports whether an unstarted hourly task already
// exists for the exact (hour, station) key. Used to dedupe retroactive
// resummarization.
func (s *Store) HasPendingHourlyTask(ctx context.Context, hour time.Time, stationID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM hourly_summary_tasks
		WHERE datetime = ? AND station_id = ? AND started_at IS NULL
	`, hour.UTC().Unix(), stationID).Scan(&n)
	return n > 0, err
}

func (s *Store) HasPendingDailyTask(ctx context.Context, day string, stationID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM daily_summary_tasks
		WHERE day = ? AND station_id = ? AND started_at IS NULL
	`, day, stationID).Scan(&n)
	return n > 0, err
}

// PendingHourlyTaskHours returns up to limit distinct UTC hours that
// still have unstarted hourly tasks, oldest first.
func (s *Store) PendingHourlyTaskHours(ctx context.Context, limit int) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT datetime FROM hourly_summary_tasks
		WHERE started_at IS NULL ORDER BY datetime LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hours []time.Time
	for rows.Next() {
		var dt int64
		if err := rows.Scan(&dt); err != nil {
			return nil, err
		}
		hours = append(hours, time.Unix(dt, 0).UTC())
	}
	return hours, rows.Err()
}

func (s *Store) PendingDailyTaskDays(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT day FROM daily_summary_tasks
		WHERE started_at IS NULL ORDER BY day LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

// ClaimHourlyTasks marks every unstarted hourly task for the given hour
// as started and returns the claimed task ids plus the distinct station
// ids they cover.
func (s *Store) ClaimHourlyTasks(ctx context.Context, hour time.Time) (ids []int64, stationIDs []int64, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		ids, stationIDs, err = claimTasks(ctx, tx, `
			SELECT id, station_id FROM hourly_summary_tasks
			WHERE datetime = ? AND started_at IS NULL
		`, `hourly_summary_tasks`, hour.UTC().Unix())
		return err
	})
	return ids, stationIDs, err
}

func (s *Store) ClaimDailyTasks(ctx context.Context, day string) (ids []int64, stationIDs []int64, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		ids, stationIDs, err = claimTasks(ctx, tx, `
			SELECT id, station_id FROM daily_summary_tasks
			WHERE day = ? AND started_at IS NULL
		`, `daily_summary_tasks`, day)
		return err
	})
	return ids, stationIDs, err
}

func claimTasks(ctx context.Context, tx *sql.Tx, selectQuery, table string, key any) ([]int64, []int64, error) {
	rows, err := tx.QueryContext(ctx, selectQuery, key)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var ids []int64
	seen := make(map[int64]bool)
	var stationIDs []int64
	for rows.Next() {
		var id, stationID int64
		if err := rows.Scan(&id, &stationID); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		if !seen[stationID] {
			seen[stationID] = true
			stationIDs = append(stationIDs, stationID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}

	now := time.Now().UTC().Unix()
	query := "UPDATE " + table + " SET started_at = ?, updated_at = ? WHERE id IN (" + placeholders(len(ids)) + ")"
	args := append([]any{now, now}, int64Args(ids)...)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, nil, err
	}
	return ids, stationIDs, nil
}

func (s *Store) FinishHourlyTasks(ctx context.Context, ids []int64) error {
	return s.markTasks(ctx, "hourly_summary_tasks", "finished_at", ids)
}

func (s *Store) FinishDailyTasks(ctx context.Context, ids []int64) error {
	return s.markTasks(ctx, "daily_summary_tasks", "finished_at", ids)
}

// ReleaseHourlyTasks clears the claim on a failed batch so the next
// scheduler pass picks it up again.
func (s *Store) ReleaseHourlyTasks(ctx context.Context, ids []int64) error {
	return s.clearClaim(ctx, "hourly_summary_tasks", ids)
}

func (s *Store) ReleaseDailyTasks(ctx context.Context, ids []int64) error {
	return s.clearClaim(ctx, "daily_summary_tasks", ids)
}

func (s *Store) markTasks(ctx context.Context, table, column string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC().Unix()
	query := "UPDATE " + table + " SET " + column + " = ?, updated_at = ? WHERE id IN (" + placeholders(len(ids)) + ")"
	args := append([]any{now, now}, int64Args(ids)...)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) clearClaim(ctx context.Context, table string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC().Unix()
	query := "UPDATE " + table + " SET started_at = NULL, updated_at = ? WHERE id IN (" + placeholders(len(ids)) + ") AND finished_at IS NULL"
	args := append([]any{now}, int64Args(ids)...)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// PendingHFSummaryTasks returns up to limit unstarted HF tasks, oldest
// first.
func (s *Store) PendingHFSummaryTasks(ctx context.Context, limit int) ([]models.HFSummaryTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, station_id, variable_id, start_datetime, end_datetime
		FROM hf_summary_tasks WHERE started_at IS NULL
		ORDER BY start_datetime LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.HFSummaryTask
	for rows.Next() {
		var t models.HFSummaryTask
		var start, end int64
		if err := rows.Scan(&t.ID, &t.StationID, &t.VariableID, &start, &end); err != nil {
			return nil, err
		}
		t.StartDatetime = time.Unix(start, 0).UTC()
		t.EndDatetime = time.Unix(end, 0).UTC()
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) ClaimHFSummaryTasks(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC().Unix()
	query := "UPDATE hf_summary_tasks SET started_at = ?, updated_at = ? WHERE id IN (" + placeholders(len(ids)) + ") AND started_at IS NULL"
	args := append([]any{now, now}, int64Args(ids)...)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) FinishHFSummaryTasks(ctx context.Context, ids []int64) error {
	return s.markTasks(ctx, "hf_summary_tasks", "finished_at", ids)
}

func (s *Store) ReleaseHFSummaryTasks(ctx context.Context, ids []int64) error {
	return s.clearClaim(ctx, "hf_summary_tasks", ids)
}

// PendingTaskCounts reports queue depth per task table, for metrics.
func (s *Store) PendingTaskCounts(ctx context.Context) (hourly, daily, hf int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hourly_summary_tasks WHERE started_at IS NULL`).Scan(&hourly); err != nil {
		return
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM daily_summary_tasks WHERE started_at IS NULL`).Scan(&daily); err != nil {
		return
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hf_summary_tasks WHERE started_at IS NULL`).Scan(&hf)
	return
}
