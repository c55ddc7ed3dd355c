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

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS sites (
    site_id TEXT PRIMARY KEY,
    name TEXT,
    river TEXT,
    latitude REAL,
    longitude REAL,
    data_url TEXT,
    active BOOLEAN DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    site_id TEXT NOT NULL,
    sampled_at TEXT NOT NULL,
    parameter TEXT NOT NULL,
    value REAL,
    source TEXT NOT NULL DEFAULT 'observed',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(site_id, sampled_at, parameter, source)
);

CREATE INDEX IF NOT EXISTS idx_samples_site_source ON samples(site_id, source, sampled_at);

CREATE TABLE IF NOT EXISTS wqi_results (
    site_id TEXT NOT NULL,
    year INTEGER NOT NULL,
    season TEXT NOT NULL,
    label TEXT NOT NULL,
    parameters INTEGER NOT NULL,
    tests INTEGER NOT NULL,
    scope_failures INTEGER NOT NULL,
    frequency_failures INTEGER NOT NULL,
    excursion_sum REAL NOT NULL,
    f1 REAL,
    f2 REAL,
    f3 REAL,
    wqi REAL,
    rating TEXT,
    has_forecast BOOLEAN DEFAULT FALSE,
    computed_at DATETIME NOT NULL,
    PRIMARY KEY (site_id, year, season)
);
`,
	},
	{
		Version:     2,
		Description: "Add runs table for import and pipeline auditing",
		SQL: `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    site_id TEXT NOT NULL,
    source TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    records_parsed INTEGER,
    records_stored INTEGER,
    parse_errors INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_site_started ON runs(site_id, started_at);

ALTER TABLE samples ADD COLUMN run_id INTEGER REFERENCES runs(id);
ALTER TABLE samples ADD COLUMN qc_flags TEXT;
ALTER TABLE wqi_results ADD COLUMN run_id INTEGER REFERENCES runs(id);
`,
	},
	{
		Version:     3,
		Description: "Add raw_datasets for fetched source files",
		SQL: `
CREATE TABLE IF NOT EXISTS raw_datasets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER REFERENCES runs(id),
    site_id TEXT NOT NULL,
    fetched_at DATETIME NOT NULL,
    source TEXT NOT NULL,
    format TEXT NOT NULL,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    UNIQUE(site_id, payload_hash)
);

CREATE INDEX IF NOT EXISTS idx_raw_datasets_site ON raw_datasets(site_id, fetched_at);
`,
	},
	{
		Version:     4,
		Description: "Add forecast_fits for per-parameter model diagnostics",
		SQL: `
CREATE TABLE IF NOT EXISTS forecast_fits (
    run_id INTEGER NOT NULL REFERENCES runs(id),
    site_id TEXT NOT NULL,
    parameter TEXT NOT NULL,
    method TEXT NOT NULL,
    model_order TEXT,
    aic REAL,
    variance REAL,
    confidence REAL,
    interval_width REAL,
    duration_ms INTEGER,
    PRIMARY KEY (run_id, parameter)
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
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
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
