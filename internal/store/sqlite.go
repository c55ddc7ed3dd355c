package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/wqiforecast/internal/models"
)

const dateLayout = "2006-01-02"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) UpsertSite(st models.Site) error {
	_, err := s.db.Exec(`
		INSERT INTO sites (site_id, name, river, latitude, longitude, data_url, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_id) DO UPDATE SET
			name = excluded.name,
			river = excluded.river,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			data_url = excluded.data_url,
			active = excluded.active
	`, st.SiteID, st.Name, st.River, st.Latitude, st.Longitude, st.DataURL, st.Active)
	return err
}

const siteColumns = `site_id, COALESCE(name, ''), COALESCE(river, ''), COALESCE(latitude, 0), COALESCE(longitude, 0), COALESCE(data_url, ''), active`

func scanSite(sc interface{ Scan(...any) error }) (models.Site, error) {
	var st models.Site
	err := sc.Scan(&st.SiteID, &st.Name, &st.River, &st.Latitude, &st.Longitude, &st.DataURL, &st.Active)
	return st, err
}

func (s *Store) GetActiveSites() ([]models.Site, error) {
	rows, err := s.db.Query(`SELECT ` + siteColumns + ` FROM sites WHERE active = TRUE ORDER BY site_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []models.Site
	for rows.Next() {
		st, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, st)
	}
	return sites, rows.Err()
}

// GetSite returns nil, nil when the site does not exist.
func (s *Store) GetSite(siteID string) (*models.Site, error) {
	st, err := scanSite(s.db.QueryRow(`SELECT `+siteColumns+` FROM sites WHERE site_id = ?`, siteID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// InsertSamples writes samples in a single transaction. A sample that
// already exists for the same site, date, parameter and source is replaced.
func (s *Store) InsertSamples(samples []models.Sample) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	n, err := insertSamples(tx, samples)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit samples: %w", err)
	}
	return n, nil
}

func insertSamples(tx *sql.Tx, samples []models.Sample) (int, error) {
	stmt, err := tx.Prepare(`
		INSERT INTO samples (site_id, sampled_at, parameter, value, source, run_id, qc_flags)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_id, sampled_at, parameter, source) DO UPDATE SET
			value = excluded.value,
			run_id = excluded.run_id,
			qc_flags = excluded.qc_flags
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, sm := range samples {
		source := sm.Source
		if source == "" {
			source = models.SourceObserved
		}
		if _, err := stmt.Exec(sm.SiteID, sm.SampledAt.Format(dateLayout), sm.Parameter, sm.Value, source, sm.RunID, sm.QCFlags); err != nil {
			return i, fmt.Errorf("insert sample %s/%s: %w", sm.Parameter, sm.SampledAt.Format(dateLayout), err)
		}
	}
	return len(samples), nil
}

// ReplaceForecasts swaps the stored forecast samples of a site for the given
// ones.
func (s *Store) ReplaceForecasts(siteID string, samples []models.Sample) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM samples WHERE site_id = ? AND source = ?`, siteID, models.SourceForecast); err != nil {
		return 0, fmt.Errorf("clear forecasts: %w", err)
	}
	for i := range samples {
		samples[i].SiteID = siteID
		samples[i].Source = models.SourceForecast
	}
	n, err := insertSamples(tx, samples)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit forecasts: %w", err)
	}
	return n, nil
}

// GetSamples returns samples of one source in date order. A non-positive
// limit returns everything.
func (s *Store) GetSamples(siteID, source string, limit int) ([]models.Sample, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, site_id, sampled_at, parameter, value, source, run_id, qc_flags, created_at
		FROM samples
		WHERE site_id = ? AND source = ?
		ORDER BY sampled_at, id
		LIMIT ?
	`, siteID, source, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []models.Sample
	for rows.Next() {
		var sm models.Sample
		var sampledAt string
		if err := rows.Scan(&sm.ID, &sm.SiteID, &sampledAt, &sm.Parameter, &sm.Value, &sm.Source, &sm.RunID, &sm.QCFlags, &sm.CreatedAt); err != nil {
			return nil, err
		}
		if sm.SampledAt, err = time.Parse(dateLayout, sampledAt); err != nil {
			return nil, fmt.Errorf("parse sampled_at %q: %w", sampledAt, err)
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

// GetTable pivots the samples of one source into a wide table: one row per
// date, one column per parameter in first-seen order.
func (s *Store) GetTable(siteID, source string) (models.Table, error) {
	samples, err := s.GetSamples(siteID, source, 0)
	if err != nil {
		return models.Table{}, err
	}
	return Pivot(samples), nil
}

// Pivot turns long-format samples into a table. Samples must be ordered by
// date.
func Pivot(samples []models.Sample) models.Table {
	var t models.Table
	seen := make(map[string]bool)
	for _, sm := range samples {
		if !seen[sm.Parameter] {
			seen[sm.Parameter] = true
			t.Columns = append(t.Columns, sm.Parameter)
		}
		n := len(t.Rows)
		if n == 0 || !t.Rows[n-1].Date.Equal(sm.SampledAt) {
			t.Rows = append(t.Rows, models.Row{Date: sm.SampledAt, Source: sm.Source, Values: map[string]sql.NullFloat64{}})
			n++
		}
		t.Rows[n-1].Values[sm.Parameter] = sm.Value
	}
	return t
}

// Unpivot is the inverse of Pivot. Cells absent from a row's map are
// skipped; present but invalid cells are stored as NULL.
func Unpivot(siteID string, t models.Table) []models.Sample {
	samples := make([]models.Sample, 0, t.Len()*len(t.Columns))
	for _, r := range t.Rows {
		for _, c := range t.Columns {
			v, ok := r.Values[c]
			if !ok {
				continue
			}
			samples = append(samples, models.Sample{
				SiteID:    siteID,
				SampledAt: r.Date,
				Parameter: c,
				Value:     v,
				Source:    r.Source,
			})
		}
	}
	return samples
}

// GetSampleRange returns the first and last observed sample dates of a
// site. ok is false when there are none.
func (s *Store) GetSampleRange(siteID string) (first, last time.Time, ok bool, err error) {
	var lo, hi sql.NullString
	err = s.db.QueryRow(`
		SELECT MIN(sampled_at), MAX(sampled_at) FROM samples WHERE site_id = ? AND source = ?
	`, siteID, models.SourceObserved).Scan(&lo, &hi)
	if err != nil || !lo.Valid {
		return time.Time{}, time.Time{}, false, err
	}
	if first, err = time.Parse(dateLayout, lo.String); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if last, err = time.Parse(dateLayout, hi.String); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return first, last, true, nil
}
