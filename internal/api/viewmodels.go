package api

import (
	"database/sql"
	"time"

	"github.com/lox/wqiforecast/internal/models"
	"github.com/lox/wqiforecast/internal/store"
	"github.com/lox/wqiforecast/internal/wqi"
)

type HealthStatus struct {
	Status string       `json:"status"`
	Sites  []SiteHealth `json:"sites"`
	Errors []string     `json:"errors,omitempty"`
}

type SiteHealth struct {
	SiteID      string     `json:"site_id"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	Kind        string     `json:"kind,omitempty"`
	Success     bool       `json:"success"`
	Error       string     `json:"error,omitempty"`
	FirstSample string     `json:"first_sample,omitempty"`
	LastSample  string     `json:"last_sample,omitempty"`
}

type SiteView struct {
	SiteID    string  `json:"site_id"`
	Name      string  `json:"name"`
	River     string  `json:"river,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	DataURL   string  `json:"data_url,omitempty"`
}

// WQIPoint is one period of the index series. WQI is null when the period
// had no usable values.
type WQIPoint struct {
	Label             string   `json:"label"`
	Year              int      `json:"year"`
	Season            string   `json:"season"`
	WQI               *float64 `json:"wqi"`
	Rating            string   `json:"rating"`
	F1                float64  `json:"f1"`
	F2                float64  `json:"f2"`
	F3                float64  `json:"f3"`
	Tests             int      `json:"tests"`
	ScopeFailures     int      `json:"scope_failures"`
	FrequencyFailures int      `json:"frequency_failures"`
	HasForecast       bool     `json:"has_forecast"`
}

type SampleRow struct {
	Date   string              `json:"date"`
	Source string              `json:"source"`
	Values map[string]*float64 `json:"values"`
}

type ThresholdView struct {
	Parameter string   `json:"parameter"`
	Kind      string   `json:"kind"`
	Lower     *float64 `json:"lower,omitempty"`
	Upper     *float64 `json:"upper,omitempty"`
}

type FitView struct {
	Parameter     string   `json:"parameter"`
	Method        string   `json:"method"`
	Order         string   `json:"order,omitempty"`
	AIC           *float64 `json:"aic"`
	Variance      *float64 `json:"variance"`
	Confidence    *float64 `json:"confidence"`
	IntervalWidth *float64 `json:"interval_width"`
	DurationMS    int64    `json:"duration_ms"`
}

// IndexData is the page model for the index template.
type IndexData struct {
	Sites      []SiteView
	Site       *SiteView
	Points     []WQIPoint
	Thresholds []ThresholdView
	Latest     *WQIPoint
}

func siteView(s models.Site) SiteView {
	return SiteView{
		SiteID:    s.SiteID,
		Name:      s.Name,
		River:     s.River,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		DataURL:   s.DataURL,
	}
}

func wqiPoints(results []models.WQIResult) []WQIPoint {
	out := make([]WQIPoint, len(results))
	for i, r := range results {
		out[i] = WQIPoint{
			Label:             r.Label,
			Year:              r.Year,
			Season:            r.Season,
			WQI:               floatPtr(r.WQI),
			Rating:            r.Rating,
			F1:                r.F1,
			F2:                r.F2,
			F3:                r.F3,
			Tests:             r.Tests,
			ScopeFailures:     r.ScopeFailures,
			FrequencyFailures: r.FrequencyFailures,
			HasForecast:       r.HasForecast,
		}
	}
	return out
}

func sampleRows(t models.Table) []SampleRow {
	out := make([]SampleRow, len(t.Rows))
	for i, r := range t.Rows {
		values := make(map[string]*float64, len(t.Columns))
		for _, c := range t.Columns {
			values[c] = floatPtr(r.Value(c))
		}
		out[i] = SampleRow{Date: r.Date.Format("2006-01-02"), Source: r.Source, Values: values}
	}
	return out
}

func thresholdViews(ref wqi.Reference) []ThresholdView {
	out := make([]ThresholdView, len(ref))
	for i, th := range ref {
		v := ThresholdView{Parameter: th.Parameter, Kind: th.Bound.Kind.String()}
		lo, hi := th.Bound.Lower, th.Bound.Upper
		switch th.Bound.Kind {
		case wqi.KindTwoSided:
			v.Lower, v.Upper = &lo, &hi
		case wqi.KindUpper:
			v.Upper = &hi
		case wqi.KindLower:
			v.Lower = &lo
		}
		out[i] = v
	}
	return out
}

func fitViews(fits []store.ForecastFit) []FitView {
	out := make([]FitView, len(fits))
	for i, f := range fits {
		out[i] = FitView{
			Parameter:     f.Parameter,
			Method:        f.Method,
			Order:         f.Order,
			AIC:           floatPtr(f.AIC),
			Variance:      floatPtr(f.Variance),
			Confidence:    floatPtr(f.Confidence),
			IntervalWidth: floatPtr(f.IntervalWidth),
			DurationMS:    f.Duration.Milliseconds(),
		}
	}
	return out
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
