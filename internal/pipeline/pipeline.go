// Package pipeline runs the full seasonal index computation for a site:
// load history, forecast every reference parameter, merge, group by season, score
// each group, and persist the series.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lox/wqiforecast/internal/config"
	"github.com/lox/wqiforecast/internal/forecast"
	"github.com/lox/wqiforecast/internal/metrics"
	"github.com/lox/wqiforecast/internal/models"
	"github.com/lox/wqiforecast/internal/season"
	"github.com/lox/wqiforecast/internal/store"
	"github.com/lox/wqiforecast/internal/wqi"
)

var ErrNoObservations = errors.New("site has no observations")

type Pipeline struct {
	store      *store.Store
	cfg        *config.Config
	ref        wqi.Reference
	forecaster *forecast.Forecaster
	tracer     trace.Tracer
}

func New(s *store.Store, cfg *config.Config) (*Pipeline, error) {
	ref, err := cfg.Reference()
	if err != nil {
		return nil, fmt.Errorf("resolve thresholds: %w", err)
	}
	fc := forecast.NewForecaster(cfg.Forecast.SARIMAOrder(), cfg.Forecast.Steps)
	fc.Confidence = cfg.Forecast.Confidence
	fc.Concurrency = cfg.Forecast.Concurrency
	return &Pipeline{
		store:      s,
		cfg:        cfg,
		ref:        ref,
		forecaster: fc,
		tracer:     otel.Tracer("github.com/lox/wqiforecast/internal/pipeline"),
	}, nil
}

// Reference returns the thresholds groups are scored against.
func (p *Pipeline) Reference() wqi.Reference {
	return p.ref
}

// Result is the outcome of one run.
type Result struct {
	SiteID   string
	RunID    int64
	Points   []wqi.Point
	Skipped  []wqi.GroupError
	Fits     []forecast.Fit
	Forecast models.Table
	// Forecasted marks periods that include at least one forecast row.
	Forecasted map[season.Period]bool
}

// RunSite runs the pipeline and discards the result.
func (p *Pipeline) RunSite(ctx context.Context, siteID string) error {
	_, err := p.Run(ctx, siteID)
	return err
}

func (p *Pipeline) Run(ctx context.Context, siteID string) (res *Result, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(attribute.String("site", siteID)))
	defer span.End()

	run, err := p.store.StartRun(store.RunPipeline, siteID, "")
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.PipelineRuns.WithLabelValues(siteID, status).Inc()
		if cerr := p.store.CompleteRun(run, err); cerr != nil {
			log.Printf("pipeline: complete run %d: %v", run.ID, cerr)
		}
	}()

	history, err := p.store.GetTable(siteID, models.SourceObserved)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if history.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoObservations, siteID)
	}
	run.RecordsParsed = sql.NullInt64{Int64: int64(history.Len()), Valid: true}

	filled := forecast.ImputeMean(history)
	// columns outside the reference never reach the index
	fc, fits, err := p.forecast(ctx, siteID, run.ID, filled.Select(p.ref.Parameters()...))
	if err != nil {
		return nil, err
	}

	scored := history
	if p.cfg.Forecast.ImputeMean {
		scored = filled
	}
	merged := forecast.Merge(scored, fc)
	warnDegenerate(siteID, merged, p.ref)

	groups := season.GroupTable(merged)
	points, skipped, err := p.score(ctx, groups)
	if err != nil {
		return nil, err
	}
	for _, g := range skipped {
		log.Printf("pipeline: %s: skipped %v", siteID, g)
		metrics.SkippedGroups.WithLabelValues(siteID).Inc()
	}

	forecasted := make(map[season.Period]bool, len(groups))
	for _, g := range groups {
		if g.HasSource(models.SourceForecast) {
			forecasted[g.Period] = true
		}
	}

	if err := p.persist(ctx, siteID, run.ID, points, forecasted); err != nil {
		return nil, err
	}
	run.RecordsStored = sql.NullInt64{Int64: int64(len(points)), Valid: true}
	log.Printf("pipeline: %s: %d periods scored, %d skipped, %d forecast rows", siteID, len(points), len(skipped), fc.Len())

	return &Result{
		SiteID:     siteID,
		RunID:      run.ID,
		Points:     points,
		Skipped:    skipped,
		Fits:       fits,
		Forecast:   fc,
		Forecasted: forecasted,
	}, nil
}

func (p *Pipeline) forecast(ctx context.Context, siteID string, runID int64, filled models.Table) (models.Table, []forecast.Fit, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.forecast")
	defer span.End()

	fc, fits, err := p.forecaster.Forecast(ctx, filled)
	if err != nil {
		return models.Table{}, nil, fmt.Errorf("forecast: %w", err)
	}
	span.SetAttributes(
		attribute.Int("parameters", len(fits)),
		attribute.Int("steps", fc.Len()),
	)

	samples := store.Unpivot(siteID, fc)
	for i := range samples {
		samples[i].RunID = sql.NullInt64{Int64: runID, Valid: true}
	}
	if _, err := p.store.ReplaceForecasts(siteID, samples); err != nil {
		return models.Table{}, nil, fmt.Errorf("store forecasts: %w", err)
	}

	stored := make([]store.ForecastFit, len(fits))
	for i, f := range fits {
		sarima := f.Method == forecast.MethodSARIMA
		stored[i] = store.ForecastFit{
			RunID:      runID,
			SiteID:     siteID,
			Parameter:  f.Parameter,
			Method:     f.Method,
			Order:      f.Order.String(),
			AIC:        nullFloat(f.AIC, sarima),
			Variance:   nullFloat(f.Variance, sarima),
			Confidence: nullFloat(f.Confidence, sarima),
			Duration:   f.Duration,
		}
		// half width of the interval at the end of the horizon
		if n := len(f.Upper); sarima && n > 0 {
			stored[i].IntervalWidth = nullFloat((f.Upper[n-1]-f.Lower[n-1])/2, true)
		}
	}
	if err := p.store.InsertForecastFits(stored); err != nil {
		return models.Table{}, nil, fmt.Errorf("store fits: %w", err)
	}
	return fc, fits, nil
}

func (p *Pipeline) score(ctx context.Context, groups []season.Group) ([]wqi.Point, []wqi.GroupError, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.score", trace.WithAttributes(attribute.Int("groups", len(groups))))
	defer span.End()

	points, skipped, err := wqi.ComputeSeries(ctx, groups, p.ref, wqi.SeriesOptions{
		SkipInvalid: p.cfg.WQI.SkipInvalid,
		Concurrency: p.cfg.WQI.Concurrency,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("compute index: %w", err)
	}
	return points, skipped, nil
}

func (p *Pipeline) persist(ctx context.Context, siteID string, runID int64, points []wqi.Point, forecasted map[season.Period]bool) error {
	_, span := p.tracer.Start(ctx, "pipeline.persist")
	defer span.End()

	now := time.Now().UTC()
	results := make([]models.WQIResult, len(points))
	for i, pt := range points {
		results[i] = ToModel(siteID, runID, pt, forecasted[pt.Period], now)
	}
	if err := p.store.ReplaceWQIResults(siteID, results); err != nil {
		return fmt.Errorf("store results: %w", err)
	}

	for _, r := range results {
		if !r.WQI.Valid {
			continue
		}
		source := models.SourceObserved
		if r.HasForecast {
			source = models.SourceForecast
		}
		metrics.LatestWQI.WithLabelValues(siteID, source).Set(r.WQI.Float64)
	}
	return nil
}

// ToModel converts a scored period into its storage row.
func ToModel(siteID string, runID int64, pt wqi.Point, hasForecast bool, at time.Time) models.WQIResult {
	r := pt.Result
	out := models.WQIResult{
		SiteID:            siteID,
		Year:              pt.Period.Year,
		Season:            pt.Period.Season.String(),
		Label:             pt.Period.Label(),
		Parameters:        r.Parameters,
		Tests:             r.Tests,
		ScopeFailures:     r.ScopeFailures,
		FrequencyFailures: r.FrequencyFailures,
		ExcursionSum:      r.ExcursionSum,
		F1:                r.F1,
		F2:                r.F2,
		F3:                r.F3,
		WQI:               nullFloat(r.WQI, r.Defined()),
		Rating:            string(r.Rating),
		HasForecast:       hasForecast,
		ComputedAt:        at,
	}
	if runID > 0 {
		out.RunID = sql.NullInt64{Int64: runID, Valid: true}
	}
	return out
}

func nullFloat(v float64, ok bool) sql.NullFloat64 {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// warnDegenerate logs violating values whose excursion divides by almost
// nothing.
func warnDegenerate(siteID string, t models.Table, ref wqi.Reference) {
	for _, r := range t.Rows {
		for _, th := range ref {
			v := r.Value(th.Parameter)
			if !v.Valid || !wqi.IsDegenerate(v.Float64) {
				continue
			}
			if _, _, violated := th.Bound.Check(v.Float64); violated {
				log.Printf("pipeline: %s: %s=%g on %s is near the excursion singularity", siteID, th.Parameter, v.Float64, r.Date.Format("2006-01-02"))
			}
		}
	}
}
