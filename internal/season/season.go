// Package season labels dated rows with water-year seasons and groups
// tables by those labels.
package season

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lox/wqiforecast/internal/models"
)

type Season int

const (
	Winter Season = iota
	PreMonsoon
	Monsoon
	PostMonsoon
)

var names = [...]string{"Winter", "Pre-Monsoon", "Monsoon", "Post-Monsoon"}

func (s Season) String() string {
	if s < Winter || s > PostMonsoon {
		return fmt.Sprintf("Season(%d)", int(s))
	}
	return names[s]
}

// All returns the seasons in water-year order.
func All() []Season {
	return []Season{Winter, PreMonsoon, Monsoon, PostMonsoon}
}

// Of maps a calendar month to its season.
func Of(m time.Month) Season {
	switch m {
	case time.December, time.January, time.February:
		return Winter
	case time.March, time.April, time.May:
		return PreMonsoon
	case time.June, time.July, time.August, time.September:
		return Monsoon
	default:
		return PostMonsoon
	}
}

// ParseSeason accepts the display names plus the spaced variants used in
// older spreadsheets ("Pre Monsoon").
func ParseSeason(s string) (Season, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "-"))
	for _, cand := range All() {
		if strings.ToLower(cand.String()) == norm {
			return cand, nil
		}
	}
	return 0, fmt.Errorf("unknown season %q", s)
}

// Period is a water-year season bucket.
type Period struct {
	Year   int
	Season Season
}

// PeriodOf labels t. December belongs to the following year's winter so
// that it groups with the January and February after it.
func PeriodOf(t time.Time) Period {
	year := t.Year()
	if t.Month() == time.December {
		year++
	}
	return Period{Year: year, Season: Of(t.Month())}
}

func (p Period) Less(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Season < o.Season
}

// Label renders the period as "2020 - Winter".
func (p Period) Label() string {
	return fmt.Sprintf("%d - %s", p.Year, p.Season)
}

func (p Period) String() string {
	return p.Label()
}

// Parse is the inverse of Label.
func Parse(label string) (Period, error) {
	year, rest, ok := strings.Cut(label, " - ")
	if !ok {
		return Period{}, fmt.Errorf("invalid period label %q", label)
	}
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return Period{}, fmt.Errorf("invalid period year %q: %w", year, err)
	}
	s, err := ParseSeason(rest)
	if err != nil {
		return Period{}, err
	}
	return Period{Year: y, Season: s}, nil
}

// Group is the sub-table of rows sharing a period.
type Group struct {
	Period Period
	Table  models.Table
}

// HasSource reports whether any row in the group came from source.
func (g Group) HasSource(source string) bool {
	for _, r := range g.Table.Rows {
		if r.Source == source {
			return true
		}
	}
	return false
}

// GroupTable splits t into period groups ordered by year then season. Rows
// keep their relative order within a group.
func GroupTable(t models.Table) []Group {
	index := make(map[Period]int)
	var groups []Group
	for _, r := range t.Rows {
		p := PeriodOf(r.Date)
		i, ok := index[p]
		if !ok {
			i = len(groups)
			index[p] = i
			groups = append(groups, Group{
				Period: p,
				Table:  models.Table{Columns: t.Columns},
			})
		}
		groups[i].Table.Rows = append(groups[i].Table.Rows, r)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Period.Less(groups[j].Period) })
	return groups
}
