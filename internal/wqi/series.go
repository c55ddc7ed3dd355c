package wqi

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/lox/wqiforecast/internal/season"
)

// Point is the index of one period.
type Point struct {
	Period season.Period
	Result Result
}

// GroupError records why a period was left out of a series.
type GroupError struct {
	Period season.Period
	Err    error
}

func (e GroupError) Error() string {
	return fmt.Sprintf("%s: %v", e.Period.Label(), e.Err)
}

func (e GroupError) Unwrap() error {
	return e.Err
}

type SeriesOptions struct {
	// SkipInvalid drops groups that fail with ErrNoTests instead of
	// aborting the whole series. Missing columns always abort since every
	// group shares the table's columns.
	SkipInvalid bool
	// Concurrency caps the number of groups scored at once. Zero means
	// GOMAXPROCS.
	Concurrency int
}

// ComputeSeries scores each group against ref. Points come back in group
// order; skipped groups are reported separately.
func ComputeSeries(ctx context.Context, groups []season.Group, ref Reference, opts SeriesOptions) ([]Point, []GroupError, error) {
	results := make([]Result, len(groups))
	errs := make([]error, len(groups))

	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, grp := range groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := Compute(grp.Table, ref)
			results[i] = res
			if err == nil {
				return nil
			}
			if opts.SkipInvalid && errors.Is(err, ErrNoTests) {
				errs[i] = err
				return nil
			}
			return GroupError{Period: grp.Period, Err: err}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	points := make([]Point, 0, len(groups))
	var skipped []GroupError
	for i, grp := range groups {
		if errs[i] != nil {
			skipped = append(skipped, GroupError{Period: grp.Period, Err: errs[i]})
			continue
		}
		points = append(points, Point{Period: grp.Period, Result: results[i]})
	}
	return points, skipped, nil
}
