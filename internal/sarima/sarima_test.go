package sarima

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seasonalTrend is a noise-free monthly series with a linear trend and a
// yearly cycle, so seasonally integrated models reproduce it exactly.
func seasonalTrend(n int) []float64 {
	y := make([]float64, n)
	for i := range y {
		y[i] = 100 + 0.5*float64(i) + 20*math.Sin(2*math.Pi*float64(i)/12)
	}
	return y
}

func TestDiff(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 3}, Diff([]float64{1, 2, 4, 7}))
	assert.Nil(t, Diff([]float64{1}))
	assert.Equal(t, []float64{3, 3}, SeasonalDiff([]float64{1, 2, 3, 4, 5}, 3))
	assert.Nil(t, SeasonalDiff([]float64{1, 2}, 3))
}

func TestACF(t *testing.T) {
	acf := ACF(seasonalTrend(120), 12)
	require.Len(t, acf, 13)
	assert.InDelta(t, 1.0, acf[0], 1e-12)
	assert.Nil(t, ACF([]float64{3, 3, 3}, 2))
}

func TestOrderString(t *testing.T) {
	assert.Equal(t, "(1,1,1)x(1,1,1)12", DefaultOrder().String())
	assert.Equal(t, 59, DefaultOrder().MinObservations())
}

func TestFit_InsufficientData(t *testing.T) {
	m := New(DefaultOrder())
	err := m.Fit(seasonalTrend(40))
	require.ErrorIs(t, err, ErrInsufficientData)
	assert.Contains(t, err.Error(), "need 59")
}

func TestFit_RejectsNaN(t *testing.T) {
	y := seasonalTrend(120)
	y[50] = math.NaN()
	assert.Error(t, New(DefaultOrder()).Fit(y))
}

func TestForecast_NotFitted(t *testing.T) {
	_, err := New(DefaultOrder()).Forecast(3)
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestForecast_SeasonalDifferencingReproducesPattern(t *testing.T) {
	tests := []struct {
		name  string
		order Order
	}{
		{"seasonal random walk", Order{SD: 1, M: 12}},
		{"default order", DefaultOrder()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			full := seasonalTrend(144)
			train := full[:120]

			m := New(tt.order)
			require.NoError(t, m.Fit(train))

			fc, err := m.Forecast(24)
			require.NoError(t, err)
			require.Len(t, fc, 24)
			for h, v := range fc {
				assert.InDelta(t, full[120+h], v, 1e-6, "step %d", h)
			}
		})
	}
}

func TestForecastInterval_WidensWithHorizon(t *testing.T) {
	y := seasonalTrend(120)
	for i := range y {
		y[i] += float64(i%5-2) / 2
	}

	m := New(DefaultOrder())
	require.NoError(t, m.Fit(y))
	assert.Greater(t, m.Variance, 0.0)

	fc, lower, upper, err := m.ForecastInterval(24, 0.95)
	require.NoError(t, err)
	for h := range fc {
		assert.LessOrEqual(t, lower[h], fc[h])
		assert.GreaterOrEqual(t, upper[h], fc[h])
		assert.False(t, math.IsNaN(fc[h]))
	}
	assert.Greater(t, upper[23]-lower[23], upper[0]-lower[0])
	for _, c := range append(append(m.AR, m.MA...), append(m.SAR, m.SMA...)...) {
		assert.LessOrEqual(t, math.Abs(c), 0.99)
	}
}

func TestForecast_StepsValidation(t *testing.T) {
	m := New(Order{SD: 1, M: 12})
	require.NoError(t, m.Fit(seasonalTrend(60)))
	_, err := m.Forecast(0)
	assert.Error(t, err)
}

func TestNormalQuantile(t *testing.T) {
	assert.InDelta(t, 1.96, normalQuantile(0.975), 1e-3)
	assert.InDelta(t, -1.96, normalQuantile(0.025), 1e-3)
	assert.Equal(t, 0.0, normalQuantile(1))
}

func TestSeasonalNaive(t *testing.T) {
	y := []float64{1, 2, 3, 4, 5, 6}
	assert.Equal(t, []float64{4, 5, 6, 4, 5}, SeasonalNaive(y, 3, 5))
	assert.Equal(t, []float64{6, 6}, SeasonalNaive(y, 12, 2))

	empty := SeasonalNaive(nil, 12, 2)
	require.Len(t, empty, 2)
	assert.True(t, math.IsNaN(empty[0]))
}
