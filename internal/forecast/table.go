package forecast

import (
	"database/sql"
	"math"
	"sort"
	"time"

	"github.com/lox/wqiforecast/internal/models"
)

// ImputeMean returns a copy of t with each missing value replaced by the
// mean of its column. Columns with no values at all stay missing.
func ImputeMean(t models.Table) models.Table {
	means := make(map[string]sql.NullFloat64, len(t.Columns))
	for _, c := range t.Columns {
		var sum float64
		n := 0
		for _, r := range t.Rows {
			if v := r.Value(c); v.Valid && !math.IsNaN(v.Float64) {
				sum += v.Float64
				n++
			}
		}
		if n > 0 {
			means[c] = sql.NullFloat64{Float64: sum / float64(n), Valid: true}
		}
	}

	out := models.Table{Columns: append([]string(nil), t.Columns...), Rows: make([]models.Row, len(t.Rows))}
	for i, r := range t.Rows {
		vals := make(map[string]sql.NullFloat64, len(t.Columns))
		for _, c := range t.Columns {
			v := r.Value(c)
			if !v.Valid || math.IsNaN(v.Float64) {
				v = means[c]
			}
			vals[c] = v
		}
		out.Rows[i] = models.Row{Date: r.Date, Source: r.Source, Values: vals}
	}
	return out
}

// MonthStarts returns n consecutive month-start dates following after's
// month.
func MonthStarts(after time.Time, n int) []time.Time {
	first := time.Date(after.Year(), after.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = first.AddDate(0, i, 0)
	}
	return out
}

// Merge appends forecast rows to history. The result has the union of both
// column sets and is ordered by date; where both tables have a row for the
// same date the historical row is kept.
func Merge(history, fc models.Table) models.Table {
	cols := append([]string(nil), history.Columns...)
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		seen[c] = true
	}
	for _, c := range fc.Columns {
		if !seen[c] {
			cols = append(cols, c)
			seen[c] = true
		}
	}

	dates := make(map[time.Time]bool, len(history.Rows))
	rows := make([]models.Row, 0, len(history.Rows)+len(fc.Rows))
	for _, r := range history.Rows {
		dates[r.Date] = true
		rows = append(rows, r)
	}
	for _, r := range fc.Rows {
		if dates[r.Date] {
			continue
		}
		rows = append(rows, r)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return models.Table{Columns: cols, Rows: rows}
}
