package forecast

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/wqiforecast/internal/models"
	"github.com/lox/wqiforecast/internal/sarima"
)

func monthly(start time.Time, n int, f func(i int) map[string]float64) models.Table {
	t := models.Table{}
	for i := 0; i < n; i++ {
		vals := f(i)
		if i == 0 {
			for k := range vals {
				t.Columns = append(t.Columns, k)
			}
		}
		row := models.Row{Date: start.AddDate(0, i, 0), Source: models.SourceObserved, Values: map[string]sql.NullFloat64{}}
		for k, v := range vals {
			row.Values[k] = sql.NullFloat64{Float64: v, Valid: true}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

var jan2010 = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)

func TestImputeMean(t *testing.T) {
	tbl := models.Table{
		Columns: []string{"pH", "DO", "Empty"},
		Rows: []models.Row{
			{Date: jan2010, Values: map[string]sql.NullFloat64{"pH": {Float64: 7, Valid: true}, "DO": {Float64: 6, Valid: true}}},
			{Date: jan2010.AddDate(0, 1, 0), Values: map[string]sql.NullFloat64{"pH": {}, "DO": {Float64: 8, Valid: true}}},
			{Date: jan2010.AddDate(0, 2, 0), Values: map[string]sql.NullFloat64{"pH": {Float64: 8, Valid: true}}},
		},
	}

	got := ImputeMean(tbl)
	assert.Equal(t, 7.5, got.Rows[1].Value("pH").Float64)
	assert.True(t, got.Rows[1].Value("pH").Valid)
	assert.Equal(t, 7.0, got.Rows[2].Value("DO").Float64)
	assert.False(t, got.Rows[0].Value("Empty").Valid)

	// the input is untouched
	assert.False(t, tbl.Rows[1].Value("pH").Valid)
}

func TestMonthStarts(t *testing.T) {
	got := MonthStarts(time.Date(2019, 11, 15, 0, 0, 0, 0, time.UTC), 3)
	assert.Equal(t, []time.Time{
		time.Date(2019, 12, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC),
	}, got)
}

func TestMerge(t *testing.T) {
	hist := monthly(jan2010, 3, func(i int) map[string]float64 { return map[string]float64{"pH": 7} })
	fc := monthly(jan2010.AddDate(0, 2, 0), 3, func(i int) map[string]float64 { return map[string]float64{"pH": 9, "DO": 5} })
	for i := range fc.Rows {
		fc.Rows[i].Source = models.SourceForecast
	}

	got := Merge(hist, fc)
	require.Equal(t, 5, got.Len())
	assert.ElementsMatch(t, []string{"pH", "DO"}, got.Columns)
	assert.Equal(t, models.SourceObserved, got.Rows[2].Source)
	assert.Equal(t, 7.0, got.Rows[2].Value("pH").Float64)
	assert.Equal(t, models.SourceForecast, got.Rows[3].Source)
	for i := 1; i < got.Len(); i++ {
		assert.True(t, got.Rows[i-1].Date.Before(got.Rows[i].Date))
	}
}

func TestForecaster_SARIMA(t *testing.T) {
	hist := monthly(jan2010, 120, func(i int) map[string]float64 {
		season := math.Sin(2 * math.Pi * float64(i) / 12)
		return map[string]float64{
			"pH":  7.5 + 0.3*season,
			"TDS": 900 + 0.5*float64(i) + 100*season,
		}
	})

	f := NewForecaster(sarima.DefaultOrder(), 0)
	fc, fits, err := f.Forecast(context.Background(), hist)
	require.NoError(t, err)

	require.Equal(t, DefaultSteps, fc.Len())
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), fc.Rows[0].Date)
	assert.Equal(t, time.Date(2021, 12, 1, 0, 0, 0, 0, time.UTC), fc.Rows[23].Date)
	for _, r := range fc.Rows {
		assert.Equal(t, models.SourceForecast, r.Source)
		assert.True(t, r.Value("pH").Valid)
		assert.InDelta(t, 7.5, r.Value("pH").Float64, 0.5)
	}

	require.Len(t, fits, 2)
	for _, fit := range fits {
		assert.Equal(t, MethodSARIMA, fit.Method)
		assert.Equal(t, DefaultConfidence, fit.Confidence)
		require.Len(t, fit.Lower, DefaultSteps)
		require.Len(t, fit.Upper, DefaultSteps)
		col := fit.Parameter
		for h, r := range fc.Rows {
			v := r.Value(col).Float64
			assert.LessOrEqual(t, fit.Lower[h], v, "%s step %d", col, h)
			assert.GreaterOrEqual(t, fit.Upper[h], v, "%s step %d", col, h)
		}
	}
}

func TestForecaster_ShortHistoryFallsBack(t *testing.T) {
	hist := monthly(jan2010, 18, func(i int) map[string]float64 {
		return map[string]float64{"DO": float64(i % 12)}
	})

	fc, fits, err := NewForecaster(sarima.DefaultOrder(), 6).Forecast(context.Background(), hist)
	require.NoError(t, err)
	require.Len(t, fits, 1)
	assert.Equal(t, MethodSeasonalNaive, fits[0].Method)

	require.Equal(t, 6, fc.Len())
	// last observed season is months 6..17 → values 6..11,0..5
	assert.Equal(t, 6.0, fc.Rows[0].Value("DO").Float64)
	assert.Equal(t, 11.0, fc.Rows[5].Value("DO").Float64)
}

func TestForecaster_MissingValue(t *testing.T) {
	hist := monthly(jan2010, 70, func(i int) map[string]float64 { return map[string]float64{"pH": 7} })
	hist.Rows[10].Values["pH"] = sql.NullFloat64{}

	_, _, err := NewForecaster(sarima.DefaultOrder(), 12).Forecast(context.Background(), hist)
	assert.ErrorContains(t, err, "missing value")
}

func TestForecaster_BlankColumnSkipped(t *testing.T) {
	hist := monthly(jan2010, 18, func(i int) map[string]float64 { return map[string]float64{"DO": 6} })
	hist.Columns = append(hist.Columns, "Remarks")

	fc, fits, err := NewForecaster(sarima.DefaultOrder(), 6).Forecast(context.Background(), hist)
	require.NoError(t, err)
	require.Len(t, fits, 2)
	assert.Equal(t, MethodSeasonalNaive, fits[0].Method)
	assert.Equal(t, "Remarks", fits[1].Parameter)
	assert.Equal(t, MethodSkipped, fits[1].Method)

	require.Equal(t, 6, fc.Len())
	for _, r := range fc.Rows {
		assert.True(t, r.Value("DO").Valid)
		assert.False(t, r.Value("Remarks").Valid)
	}
	assert.Contains(t, fc.Columns, "Remarks")
}

func TestForecaster_Empty(t *testing.T) {
	_, _, err := NewForecaster(sarima.DefaultOrder(), 12).Forecast(context.Background(), models.Table{})
	assert.ErrorIs(t, err, ErrEmptyHistory)
}
