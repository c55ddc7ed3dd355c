package models

import (
	"database/sql"
	"sort"
	"time"
)

const (
	SourceObserved = "observed"
	SourceForecast = "forecast"
)

type Site struct {
	SiteID    string
	Name      string
	River     string
	Latitude  float64
	Longitude float64
	DataURL   string // optional remote dataset refreshed by the scheduler
	Active    bool
}

// Row is one dated record of parameter values. An invalid NullFloat64 is a
// missing value.
type Row struct {
	Date   time.Time
	Source string
	Values map[string]sql.NullFloat64
}

// Value returns the value of parameter p, treating an absent key as missing.
func (r Row) Value(p string) sql.NullFloat64 {
	return r.Values[p]
}

// Table is an ordered set of rows sharing a column set.
type Table struct {
	Columns []string
	Rows    []Row
}

// HasColumn reports whether p is one of the table's columns.
func (t Table) HasColumn(p string) bool {
	for _, c := range t.Columns {
		if c == p {
			return true
		}
	}
	return false
}

// Len returns the number of rows.
func (t Table) Len() int {
	return len(t.Rows)
}

// Column returns the values of p in row order.
func (t Table) Column(p string) []sql.NullFloat64 {
	out := make([]sql.NullFloat64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Value(p)
	}
	return out
}

// Select returns a table restricted to the named columns that t has, in
// the order given. Rows share their dates and sources with t.
func (t Table) Select(cols ...string) Table {
	out := Table{Rows: make([]Row, len(t.Rows))}
	for _, c := range cols {
		if t.HasColumn(c) {
			out.Columns = append(out.Columns, c)
		}
	}
	for i, r := range t.Rows {
		vals := make(map[string]sql.NullFloat64, len(out.Columns))
		for _, c := range out.Columns {
			if v, ok := r.Values[c]; ok {
				vals[c] = v
			}
		}
		out.Rows[i] = Row{Date: r.Date, Source: r.Source, Values: vals}
	}
	return out
}

// Sorted returns a copy of the table with rows ordered by date.
func (t Table) Sorted() Table {
	rows := make([]Row, len(t.Rows))
	copy(rows, t.Rows)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return Table{Columns: append([]string(nil), t.Columns...), Rows: rows}
}

// LastDate returns the date of the latest row, or the zero time for an
// empty table.
func (t Table) LastDate() time.Time {
	var last time.Time
	for _, r := range t.Rows {
		if r.Date.After(last) {
			last = r.Date
		}
	}
	return last
}

// Sample is the long-format storage shape of a single table cell.
type Sample struct {
	ID        int64
	SiteID    string
	SampledAt time.Time
	Parameter string
	Value     sql.NullFloat64
	Source    string
	RunID     sql.NullInt64
	QCFlags   sql.NullString
	CreatedAt time.Time
}

type WQIResult struct {
	SiteID            string
	RunID             sql.NullInt64
	Year              int
	Season            string
	Label             string
	Parameters        int
	Tests             int
	ScopeFailures     int
	FrequencyFailures int
	ExcursionSum      float64
	F1                float64
	F2                float64
	F3                float64
	WQI               sql.NullFloat64 // invalid when the group had no tests
	Rating            string
	HasForecast       bool
	ComputedAt        time.Time
}
