package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Timestamps are stored as INTEGER unix seconds (UTC) so range scans and
// window arithmetic compare correctly. Daily keys are station-local
// calendar dates stored as TEXT 'YYYY-MM-DD'.
var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS stations (
    id INTEGER PRIMARY KEY,
    name TEXT,
    utc_offset_minutes INTEGER NOT NULL DEFAULT 0,
    is_automatic BOOLEAN NOT NULL DEFAULT FALSE,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    reference_station_id INTEGER
);

CREATE TABLE IF NOT EXISTS variables (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    symbol TEXT,
    persistence REAL,
    persistence_hourly REAL,
    persistence_window INTEGER,
    persistence_window_hourly INTEGER
);

CREATE TABLE IF NOT EXISTS raw_data (
    station_id INTEGER NOT NULL,
    variable_id INTEGER NOT NULL,
    datetime INTEGER NOT NULL,
    measured REAL,
    code TEXT,
    consisted REAL,
    is_daily BOOLEAN NOT NULL DEFAULT FALSE,
    manual_flag INTEGER,
    quality_flag INTEGER NOT NULL DEFAULT 0,
    qc_range_quality_flag INTEGER,
    qc_step_quality_flag INTEGER,
    qc_persist_quality_flag INTEGER,
    qc_persist_description TEXT,
    ml_flag INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE(station_id, variable_id, datetime)
);

CREATE INDEX IF NOT EXISTS idx_raw_data_time ON raw_data(datetime);

CREATE TABLE IF NOT EXISTS hourly_summary (
    datetime INTEGER NOT NULL,
    station_id INTEGER NOT NULL,
    variable_id INTEGER NOT NULL,
    min_value REAL,
    max_value REAL,
    avg_value REAL,
    sum_value REAL,
    num_records INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE(datetime, station_id, variable_id)
);

CREATE TABLE IF NOT EXISTS daily_summary (
    day TEXT NOT NULL,
    station_id INTEGER NOT NULL,
    variable_id INTEGER NOT NULL,
    min_value REAL,
    max_value REAL,
    avg_value REAL,
    sum_value REAL,
    num_records INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE(day, station_id, variable_id)
);

CREATE TABLE IF NOT EXISTS last24h_summary (
    datetime INTEGER NOT NULL,
    station_id INTEGER NOT NULL,
    variable_id INTEGER NOT NULL,
    min_value REAL,
    max_value REAL,
    avg_value REAL,
    sum_value REAL,
    num_records INTEGER NOT NULL,
    latest_value REAL,
    UNIQUE(station_id, variable_id)
);

CREATE TABLE IF NOT EXISTS hourly_summary_tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    datetime INTEGER NOT NULL,
    station_id INTEGER NOT NULL,
    started_at INTEGER,
    finished_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_hourly_tasks_pending ON hourly_summary_tasks(datetime) WHERE started_at IS NULL;

CREATE TABLE IF NOT EXISTS daily_summary_tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    day TEXT NOT NULL,
    station_id INTEGER NOT NULL,
    started_at INTEGER,
    finished_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_daily_tasks_pending ON daily_summary_tasks(day) WHERE started_at IS NULL;

CREATE TABLE IF NOT EXISTS hf_summary_tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    station_id INTEGER NOT NULL,
    variable_id INTEGER NOT NULL,
    start_datetime INTEGER NOT NULL,
    end_datetime INTEGER NOT NULL,
    started_at INTEGER,
    finished_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS hf_data (
    station_id INTEGER NOT NULL,
    variable_id INTEGER NOT NULL,
    datetime INTEGER NOT NULL,
    measured REAL NOT NULL,
    UNIQUE(station_id, variable_id, datetime)
);

CREATE TABLE IF NOT EXISTS qc_persist_thresholds (
    station_id INTEGER NOT NULL,
    variable_id INTEGER NOT NULL,
    interval INTEGER,
    window INTEGER NOT NULL,
    minimum_variance REAL NOT NULL,
    UNIQUE(station_id, variable_id, interval, window)
);
`,
	},
	{
		Version:     2,
		Description: "Add per-day minimum interval tracking",
		SQL: `
CREATE TABLE IF NOT EXISTS station_data_min_intervals (
    day TEXT NOT NULL,
    station_id INTEGER NOT NULL,
    variable_id INTEGER NOT NULL,
    minimum_interval INTEGER NOT NULL,
    record_count INTEGER NOT NULL,
    ideal_record_count REAL NOT NULL,
    record_count_percentage REAL NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE(day, station_id, variable_id)
);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC().Unix(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at INTEGER
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
