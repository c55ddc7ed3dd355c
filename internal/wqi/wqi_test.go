package wqi

import (
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/wqiforecast/internal/models"
)

// compliant holds one in-range value for every default reference parameter.
var compliant = map[string]float64{
	"pH": 7.2, "EC": 500, "TA": 100, "Cl": 300, "TDS": 1000,
	"TSS": 50, "DO": 7, "BOD": 3, "COD": 100, "Turb": 5,
}

// violating holds one out-of-range value for every default reference parameter.
var violating = map[string]float64{
	"pH": 9, "EC": 1300, "TA": 200, "Cl": 700, "TDS": 2200,
	"TSS": 200, "DO": 4, "BOD": 7, "COD": 250, "Turb": 20,
}

func row(vals map[string]float64, overrides map[string]float64) models.Row {
	out := make(map[string]sql.NullFloat64, len(vals))
	for k, v := range vals {
		out[k] = sql.NullFloat64{Float64: v, Valid: true}
	}
	for k, v := range overrides {
		out[k] = sql.NullFloat64{Float64: v, Valid: true}
	}
	return models.Row{Date: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Values: out}
}

func table(rows ...models.Row) models.Table {
	return models.Table{Columns: DefaultReference().Parameters(), Rows: rows}
}

func TestExcursion(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		threshold float64
		upper     bool
		want      float64
	}{
		{"upper violation", 9.0, 8.5, true, 9.0/8.5 - 1},
		{"upper at threshold", 8.5, 8.5, true, 0},
		{"lower violation", 4, 5, false, 5.0/4 - 1},
		{"zero value upper", 0, 10, true, 10/0.0001 - 1},
		{"zero value lower", 0, 5, false, 5/0.0001 - 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Excursion(tt.value, tt.threshold, tt.upper), 1e-9)
		})
	}
}

func TestExcursion_UpperSign(t *testing.T) {
	for _, v := range []float64{8.51, 9, 12, 1000} {
		assert.Greater(t, Excursion(v, 8.5, true), 0.0, "value %v", v)
	}
	assert.Equal(t, 0.0, Excursion(8.5, 8.5, true))
}

func TestExcursion_ZeroIsFinite(t *testing.T) {
	got := Excursion(0, 150, true)
	assert.False(t, math.IsInf(got, 0))
	assert.False(t, math.IsNaN(got))
	assert.InDelta(t, 150/0.0001-1, got, 1e-6)
}

func TestExcursion_MonotonicInValue(t *testing.T) {
	prev := Excursion(10.01, 10, true)
	for v := 10.5; v < 100; v += 0.5 {
		cur := Excursion(v, 10, true)
		assert.Greater(t, cur, prev, "value %v", v)
		prev = cur
	}
}

func TestIsDegenerate(t *testing.T) {
	assert.True(t, IsDegenerate(0))
	assert.True(t, IsDegenerate(-Epsilon))
	assert.True(t, IsDegenerate(5e-5))
	assert.False(t, IsDegenerate(0.5))
	assert.False(t, IsDegenerate(-1))
}

func TestBoundCheck(t *testing.T) {
	tests := []struct {
		name          string
		bound         Bound
		value         float64
		wantViolated  bool
		wantThreshold float64
		wantUpper     bool
	}{
		{"two sided above", TwoSided(6.5, 8.5), 9, true, 8.5, true},
		{"two sided below", TwoSided(6.5, 8.5), 6, true, 6.5, false},
		{"two sided inside", TwoSided(6.5, 8.5), 7, false, 0, false},
		{"two sided at edge", TwoSided(6.5, 8.5), 8.5, false, 0, false},
		{"upper above", UpperOnly(10), 11, true, 10, true},
		{"upper below ignores low values", UpperOnly(10), -5, false, 0, false},
		{"lower below", LowerOnly(5), 4, true, 5, false},
		{"lower above ignores high values", LowerOnly(5), 500, false, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th, upper, violated := tt.bound.Check(tt.value)
			assert.Equal(t, tt.wantViolated, violated)
			assert.Equal(t, tt.wantThreshold, th)
			assert.Equal(t, tt.wantUpper, upper)
		})
	}
}

func TestCompute_NoViolations(t *testing.T) {
	res, err := Compute(table(row(compliant, nil), row(compliant, nil)), DefaultReference())
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.F1)
	assert.Equal(t, 0.0, res.F2)
	assert.Equal(t, 0.0, res.F3)
	assert.Equal(t, 100.0, res.WQI)
	assert.Equal(t, 20, res.Tests)
	assert.Equal(t, RatingExcellent, res.Rating)
}

func TestCompute_AllViolations(t *testing.T) {
	res, err := Compute(table(row(violating, nil), row(violating, nil), row(violating, nil)), DefaultReference())
	require.NoError(t, err)

	assert.Equal(t, 100.0, res.F1)
	assert.Equal(t, 100.0, res.F2)
	assert.Equal(t, 10, res.ScopeFailures)
	assert.Equal(t, 30, res.FrequencyFailures)
	assert.Less(t, res.WQI, 45.0)
	assert.Equal(t, RatingPoor, res.Rating)
}

func TestCompute_SinglePHExcursion(t *testing.T) {
	ph := map[string]float64{"pH": 9.0}
	res, err := Compute(table(row(compliant, ph), row(compliant, ph), row(compliant, ph)), DefaultReference())
	require.NoError(t, err)

	assert.Equal(t, 1, res.ScopeFailures)
	assert.Equal(t, 3, res.FrequencyFailures)
	assert.Equal(t, 30, res.Tests)
	assert.Equal(t, 10, res.Parameters)
	assert.InDelta(t, 3*(9.0/8.5-1), res.ExcursionSum, 1e-9)
	assert.InDelta(t, 0.1765, res.ExcursionSum, 1e-4)

	assert.InDelta(t, 10.0, res.F1, 1e-9)
	assert.InDelta(t, 10.0, res.F2, 1e-9)

	nse := 3 * (9.0/8.5 - 1) / 30
	f3 := nse / (0.01*nse + 0.01)
	want := 100 - math.Sqrt(10*10+10*10+f3*f3)/1.732
	assert.InDelta(t, f3, res.F3, 1e-9)
	assert.InDelta(t, want, res.WQI, 1e-6)
	assert.InDelta(t, nse, res.NSE(), 1e-12)
}

func TestCompute_LowerBoundExcursion(t *testing.T) {
	res, err := Compute(table(row(compliant, map[string]float64{"DO": 4})), DefaultReference())
	require.NoError(t, err)

	assert.Equal(t, 1, res.FrequencyFailures)
	assert.InDelta(t, 5.0/4-1, res.ExcursionSum, 1e-12)
}

func TestCompute_OrderIndependent(t *testing.T) {
	ref := DefaultReference()
	reversed := make(Reference, len(ref))
	for i, th := range ref {
		reversed[len(ref)-1-i] = th
	}
	tbl := table(row(compliant, map[string]float64{"pH": 9, "DO": 3}), row(violating, nil))

	a, err := Compute(tbl, ref)
	require.NoError(t, err)
	b, err := Compute(tbl, reversed)
	require.NoError(t, err)
	assert.InDelta(t, a.WQI, b.WQI, 1e-12)
}

func TestCompute_NullValuesAreNotTests(t *testing.T) {
	r := row(compliant, map[string]float64{"pH": 9})
	r.Values["pH"] = sql.NullFloat64{}
	delete(r.Values, "EC")

	res, err := Compute(table(r), DefaultReference())
	require.NoError(t, err)
	assert.Equal(t, 8, res.Tests)
	assert.Equal(t, 0, res.FrequencyFailures)
	assert.Equal(t, 100.0, res.WQI)
}

func TestCompute_MissingColumn(t *testing.T) {
	tbl := table(row(compliant, nil))
	tbl.Columns = tbl.Columns[:len(tbl.Columns)-1]

	_, err := Compute(tbl, DefaultReference())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumn))

	var mc *MissingColumnError
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, "Turb", mc.Parameter)
	assert.Contains(t, err.Error(), `"Turb"`)
}

func TestCompute_EmptyGroup(t *testing.T) {
	res, err := Compute(table(), DefaultReference())
	require.ErrorIs(t, err, ErrNoTests)
	assert.False(t, res.Defined())
	assert.True(t, math.IsNaN(res.WQI))
	assert.Equal(t, RatingUndefined, res.Rating)
}

func TestCompute_EmptyReference(t *testing.T) {
	_, err := Compute(table(row(compliant, nil)), nil)
	assert.ErrorIs(t, err, ErrEmptyReference)
}

func TestRatingOf(t *testing.T) {
	tests := []struct {
		wqi  float64
		want Rating
	}{
		{100, RatingExcellent},
		{95, RatingExcellent},
		{94.9, RatingGood},
		{80, RatingGood},
		{65, RatingFair},
		{45, RatingMarginal},
		{44.99, RatingPoor},
		{-20, RatingPoor},
		{math.NaN(), RatingUndefined},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RatingOf(tt.wqi), "wqi %v", tt.wqi)
	}
}
