// Package forecast projects every parameter of an observation table forward
// with a seasonal ARIMA model and merges the projection with history.
package forecast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/wqiforecast/internal/metrics"
	"github.com/lox/wqiforecast/internal/models"
	"github.com/lox/wqiforecast/internal/sarima"
)

const (
	MethodSARIMA        = "sarima"
	MethodSeasonalNaive = "seasonal_naive"
	MethodSkipped       = "skipped"

	DefaultSteps      = 24
	DefaultConfidence = 0.95
)

var ErrEmptyHistory = errors.New("no observations to forecast from")

var errBlankColumn = errors.New("column has no values")

// Fit describes how one parameter was projected.
type Fit struct {
	Parameter string
	Method    string
	Order     sarima.Order
	AIC       float64
	Variance  float64
	Duration  time.Duration
	// Lower and Upper bound the projection at Confidence. They are nil for
	// the seasonal naive method.
	Confidence float64
	Lower      []float64
	Upper      []float64
}

type Forecaster struct {
	Order       sarima.Order
	Steps       int
	Confidence  float64
	Concurrency int
}

func NewForecaster(order sarima.Order, steps int) *Forecaster {
	if steps <= 0 {
		steps = DefaultSteps
	}
	return &Forecaster{Order: order, Steps: steps, Confidence: DefaultConfidence}
}

// Forecast fits one model per column of history and returns the projected
// rows, one per month after the last observation. history must be free of
// missing values; run it through ImputeMean first. A column with no values
// at all is projected as missing and reported with MethodSkipped.
func (f *Forecaster) Forecast(ctx context.Context, history models.Table) (models.Table, []Fit, error) {
	if history.Len() == 0 {
		return models.Table{}, nil, ErrEmptyHistory
	}
	sorted := history.Sorted()
	dates := MonthStarts(sorted.LastDate(), f.Steps)

	limit := f.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	var mu sync.Mutex
	projected := make(map[string][]float64, len(sorted.Columns))
	fits := make([]Fit, len(sorted.Columns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, col := range sorted.Columns {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			y, err := series(sorted, col)
			if errors.Is(err, errBlankColumn) {
				log.Printf("forecast: %s: no values, skipping", col)
				metrics.ForecastFits.WithLabelValues(col, MethodSkipped).Inc()
				mu.Lock()
				projected[col] = blank(len(dates))
				mu.Unlock()
				fits[i] = Fit{Parameter: col, Method: MethodSkipped, Order: f.Order}
				return nil
			}
			if err != nil {
				return err
			}
			values, fit, err := f.project(col, y)
			if err != nil {
				return err
			}
			mu.Lock()
			projected[col] = values
			mu.Unlock()
			fits[i] = fit
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Table{}, nil, err
	}

	out := models.Table{Columns: append([]string(nil), sorted.Columns...), Rows: make([]models.Row, len(dates))}
	for h, d := range dates {
		vals := make(map[string]sql.NullFloat64, len(sorted.Columns))
		for _, col := range sorted.Columns {
			v := projected[col][h]
			vals[col] = sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
		}
		out.Rows[h] = models.Row{Date: d, Source: models.SourceForecast, Values: vals}
	}
	return out, fits, nil
}

func (f *Forecaster) project(col string, y []float64) ([]float64, Fit, error) {
	start := time.Now()
	fit := Fit{Parameter: col, Method: MethodSARIMA, Order: f.Order}

	m := sarima.New(f.Order)
	err := m.Fit(y)
	switch {
	case errors.Is(err, sarima.ErrInsufficientData):
		log.Printf("forecast: %s: %v, using seasonal naive", col, err)
		fit.Method = MethodSeasonalNaive
		fit.Duration = time.Since(start)
		metrics.ForecastFits.WithLabelValues(col, fit.Method).Inc()
		return sarima.SeasonalNaive(y, f.Order.M, f.Steps), fit, nil
	case err != nil:
		metrics.ForecastFits.WithLabelValues(col, "error").Inc()
		return nil, fit, fmt.Errorf("fit %s: %w", col, err)
	}

	values, lower, upper, err := m.ForecastInterval(f.Steps, f.Confidence)
	if err != nil {
		return nil, fit, fmt.Errorf("forecast %s: %w", col, err)
	}
	fit.Confidence = f.Confidence
	fit.Lower, fit.Upper = lower, upper
	fit.AIC = m.AIC
	fit.Variance = m.Variance
	fit.Duration = time.Since(start)
	metrics.ForecastFits.WithLabelValues(col, fit.Method).Inc()
	metrics.ForecastFitLatency.WithLabelValues(col).Observe(fit.Duration.Seconds())
	return values, fit, nil
}

func series(t models.Table, col string) ([]float64, error) {
	values := t.Column(col)
	y := make([]float64, len(values))
	valid, missing := 0, -1
	for i, v := range values {
		if !v.Valid {
			if missing < 0 {
				missing = i
			}
			continue
		}
		y[i] = v.Float64
		valid++
	}
	switch {
	case valid == 0:
		return nil, errBlankColumn
	case missing >= 0:
		return nil, fmt.Errorf("forecast %s: missing value at %s", col, t.Rows[missing].Date.Format("2006-01-02"))
	}
	return y, nil
}

func blank(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
