// Package wqi computes the CCME Water Quality Index for groups of
// parameter observations.
//
// The index combines three factors measured against a Reference:
//
//	F1 (scope)     share of parameters that failed at least once
//	F2 (frequency) share of individual tests that failed
//	F3 (amplitude) normalised sum of excursions beyond the failed bound
//
// and reports 100 - |(F1, F2, F3)| / 1.732. Everything here is pure; a
// Reference is safe to share between goroutines.
package wqi

import (
	"errors"
	"fmt"
	"math"

	"github.com/lox/wqiforecast/internal/models"
)

// Epsilon is added to a zero value before dividing by it in Excursion.
const Epsilon = 1e-4

var (
	ErrMissingColumn  = errors.New("reference parameter missing from table")
	ErrNoTests        = errors.New("group has no non-null values for any reference parameter")
	ErrEmptyReference = errors.New("reference has no thresholds")
)

// MissingColumnError names the reference parameter a table lacks.
type MissingColumnError struct {
	Parameter string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s: %q", ErrMissingColumn, e.Parameter)
}

func (e *MissingColumnError) Unwrap() error {
	return ErrMissingColumn
}

// Excursion returns how far value lies beyond the violated threshold as a
// fractional excess. A zero value is nudged by Epsilon regardless of the
// bound direction.
func Excursion(value, threshold float64, upper bool) float64 {
	if value == 0 {
		return threshold/(value+Epsilon) - 1
	}
	if upper {
		return value/threshold - 1
	}
	return threshold/value - 1
}

// IsDegenerate reports whether Excursion would divide by (nearly) zero.
// Lower-bound checks on values close to -Epsilon or 0 produce very large
// excursions that dominate F3.
func IsDegenerate(value float64) bool {
	return math.Abs(value) < Epsilon || math.Abs(value+Epsilon) < Epsilon
}

// accumulator holds the running counts of one group. It is combined by
// value so that partial results never alias.
type accumulator struct {
	scopeFailures     int
	frequencyFailures int
	excursionSum      float64
	tests             int
}

func (a accumulator) plus(b accumulator) accumulator {
	return accumulator{
		scopeFailures:     a.scopeFailures + b.scopeFailures,
		frequencyFailures: a.frequencyFailures + b.frequencyFailures,
		excursionSum:      a.excursionSum + b.excursionSum,
		tests:             a.tests + b.tests,
	}
}

// scoreParameter folds the rows of t for a single threshold.
func scoreParameter(t models.Table, th Threshold) accumulator {
	var acc accumulator
	for _, r := range t.Rows {
		v := r.Value(th.Parameter)
		if !v.Valid || math.IsNaN(v.Float64) {
			continue
		}
		acc.tests++
		limit, upper, violated := th.Bound.Check(v.Float64)
		if !violated {
			continue
		}
		acc.frequencyFailures++
		acc.excursionSum += Excursion(v.Float64, limit, upper)
	}
	if acc.frequencyFailures > 0 {
		acc.scopeFailures = 1
	}
	return acc
}

// Result is the index for one group with the counts it was derived from.
type Result struct {
	Parameters        int
	Tests             int
	ScopeFailures     int
	FrequencyFailures int
	ExcursionSum      float64
	F1                float64
	F2                float64
	F3                float64
	WQI               float64
	Rating            Rating
}

// Defined reports whether the index could be computed, i.e. the group had
// at least one test.
func (r Result) Defined() bool {
	return !math.IsNaN(r.WQI)
}

// NSE is the normalised sum of excursions.
func (r Result) NSE() float64 {
	if r.Tests == 0 {
		return math.NaN()
	}
	return r.ExcursionSum / float64(r.Tests)
}

func finish(acc accumulator, parameters int) Result {
	res := Result{
		Parameters:        parameters,
		Tests:             acc.tests,
		ScopeFailures:     acc.scopeFailures,
		FrequencyFailures: acc.frequencyFailures,
		ExcursionSum:      acc.excursionSum,
		F1:                float64(acc.scopeFailures) / float64(parameters) * 100,
	}
	if acc.tests == 0 {
		res.F2, res.F3, res.WQI = math.NaN(), math.NaN(), math.NaN()
		res.Rating = RatingUndefined
		return res
	}
	res.F2 = float64(acc.frequencyFailures) / float64(acc.tests) * 100
	nse := res.NSE()
	res.F3 = nse / (0.01*nse + 0.01)
	res.WQI = 100 - math.Sqrt(res.F1*res.F1+res.F2*res.F2+res.F3*res.F3)/1.732
	res.Rating = RatingOf(res.WQI)
	return res
}

// Compute scores every row of t against ref. Every parameter in ref must be
// a column of t. When no reference parameter has a value the returned
// Result carries a NaN index alongside ErrNoTests.
func Compute(t models.Table, ref Reference) (Result, error) {
	if len(ref) == 0 {
		return Result{WQI: math.NaN(), Rating: RatingUndefined}, ErrEmptyReference
	}
	for _, th := range ref {
		if !t.HasColumn(th.Parameter) {
			return Result{WQI: math.NaN(), Rating: RatingUndefined}, &MissingColumnError{Parameter: th.Parameter}
		}
	}

	var acc accumulator
	for _, th := range ref {
		acc = acc.plus(scoreParameter(t, th))
	}

	res := finish(acc, len(ref))
	if !res.Defined() {
		return res, ErrNoTests
	}
	return res, nil
}
