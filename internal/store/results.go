package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/wqiforecast/internal/models"
)

// ReplaceWQIResults stores a freshly computed series for a site, dropping
// periods that are no longer part of it.
func (s *Store) ReplaceWQIResults(siteID string, results []models.WQIResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM wqi_results WHERE site_id = ?`, siteID); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}
	for _, r := range results {
		r.SiteID = siteID
		if _, err := tx.Exec(`
			INSERT INTO wqi_results (site_id, run_id, year, season, label, parameters, tests,
				scope_failures, frequency_failures, excursion_sum, f1, f2, f3, wqi, rating,
				has_forecast, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.SiteID, r.RunID, r.Year, r.Season, r.Label, r.Parameters, r.Tests,
			r.ScopeFailures, r.FrequencyFailures, r.ExcursionSum, r.F1, r.F2, r.F3, r.WQI, r.Rating,
			r.HasForecast, r.ComputedAt); err != nil {
			return fmt.Errorf("insert result %s: %w", r.Label, err)
		}
	}
	return tx.Commit()
}

// GetWQIResults returns the stored series of a site in period order.
func (s *Store) GetWQIResults(siteID string) ([]models.WQIResult, error) {
	rows, err := s.db.Query(`
		SELECT site_id, run_id, year, season, label, parameters, tests, scope_failures,
		       frequency_failures, excursion_sum, COALESCE(f1, 0), COALESCE(f2, 0), COALESCE(f3, 0),
		       wqi, COALESCE(rating, ''), has_forecast, computed_at
		FROM wqi_results
		WHERE site_id = ?
		ORDER BY year,
			CASE season
				WHEN 'Winter' THEN 0
				WHEN 'Pre-Monsoon' THEN 1
				WHEN 'Monsoon' THEN 2
				WHEN 'Post-Monsoon' THEN 3
			END
	`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.WQIResult
	for rows.Next() {
		var r models.WQIResult
		if err := rows.Scan(&r.SiteID, &r.RunID, &r.Year, &r.Season, &r.Label, &r.Parameters, &r.Tests,
			&r.ScopeFailures, &r.FrequencyFailures, &r.ExcursionSum, &r.F1, &r.F2, &r.F3,
			&r.WQI, &r.Rating, &r.HasForecast, &r.ComputedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ForecastFit is the stored diagnostic of one parameter's model.
type ForecastFit struct {
	RunID     int64
	SiteID    string
	Parameter string
	Method    string
	Order     string
	AIC       sql.NullFloat64
	Variance  sql.NullFloat64
	// IntervalWidth is the half width of the prediction interval at the
	// last forecast step.
	Confidence    sql.NullFloat64
	IntervalWidth sql.NullFloat64
	Duration      time.Duration
}

func (s *Store) InsertForecastFits(fits []ForecastFit) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, f := range fits {
		if _, err := tx.Exec(`
			INSERT INTO forecast_fits (run_id, site_id, parameter, method, model_order, aic, variance,
				confidence, interval_width, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, f.RunID, f.SiteID, f.Parameter, f.Method, f.Order, f.AIC, f.Variance,
			f.Confidence, f.IntervalWidth, f.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("insert fit %s: %w", f.Parameter, err)
		}
	}
	return tx.Commit()
}

// GetLatestForecastFits returns the fits of the most recent run that
// recorded any for the site.
func (s *Store) GetLatestForecastFits(siteID string) ([]ForecastFit, error) {
	rows, err := s.db.Query(`
		SELECT run_id, site_id, parameter, method, COALESCE(model_order, ''), aic, variance,
			confidence, interval_width, COALESCE(duration_ms, 0)
		FROM forecast_fits
		WHERE site_id = ? AND run_id = (SELECT MAX(run_id) FROM forecast_fits WHERE site_id = ?)
		ORDER BY parameter
	`, siteID, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fits []ForecastFit
	for rows.Next() {
		var f ForecastFit
		var ms int64
		if err := rows.Scan(&f.RunID, &f.SiteID, &f.Parameter, &f.Method, &f.Order, &f.AIC, &f.Variance, &f.Confidence, &f.IntervalWidth, &ms); err != nil {
			return nil, err
		}
		f.Duration = time.Duration(ms) * time.Millisecond
		fits = append(fits, f)
	}
	return fits, rows.Err()
}
