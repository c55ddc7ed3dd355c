package store

import (
	"database/sql"
	"time"
)

const (
	RunImport   = "import"
	RunPipeline = "pipeline"
)

// Run is an audit record for one import or pipeline execution.
type Run struct {
	ID            int64
	Kind          string
	SiteID        string
	Source        sql.NullString // file path or URL for imports
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	RecordsParsed sql.NullInt64
	RecordsStored sql.NullInt64
	ParseErrors   sql.NullInt64
	Success       bool
	ErrorMessage  sql.NullString
}

// StartRun creates a new run record and returns it.
func (s *Store) StartRun(kind, siteID, source string) (*Run, error) {
	run := &Run{
		Kind:      kind,
		SiteID:    siteID,
		StartedAt: time.Now().UTC(),
	}
	if source != "" {
		run.Source = sql.NullString{String: source, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO runs (kind, site_id, source, started_at, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.Kind, run.SiteID, run.Source, run.StartedAt)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteRun records the outcome of run. A non-nil runErr marks it failed.
func (s *Store) CompleteRun(run *Run, runErr error) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	run.Success = runErr == nil
	if runErr != nil {
		run.ErrorMessage = sql.NullString{String: runErr.Error(), Valid: true}
	}

	_, err := s.db.Exec(`
		UPDATE runs SET
			finished_at = ?,
			records_parsed = ?,
			records_stored = ?,
			parse_errors = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.RecordsParsed, run.RecordsStored, run.ParseErrors,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetRecentRuns returns the latest runs for a site, newest first.
func (s *Store) GetRecentRuns(siteID string, limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, site_id, source, started_at, finished_at,
		       records_parsed, records_stored, parse_errors, success, error_message
		FROM runs
		WHERE site_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Kind, &r.SiteID, &r.Source, &r.StartedAt, &r.FinishedAt,
			&r.RecordsParsed, &r.RecordsStored, &r.ParseErrors, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
