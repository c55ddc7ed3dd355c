package ingest

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/lox/wqiforecast/internal/models"
)

var (
	ErrNoDateColumn      = errors.New("dataset has no Date column")
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	ErrEmptyDataset      = errors.New("dataset has no rows")
	ErrDuplicateColumn   = errors.New("dataset has a duplicate column")
)

// thousands matches numbers grouped with comma separators, e.g. 1,200.5.
var thousands = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d+)?$`)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var zipMagic = []byte("PK\x03\x04")

// DetectFormat picks a format from the file name, falling back to sniffing
// the zip header that every xlsx file starts with.
func DetectFormat(name string, data []byte) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".csv", ".txt":
		return FormatCSV
	}
	if bytes.HasPrefix(data, zipMagic) {
		return FormatXLSX
	}
	return FormatCSV
}

// Dataset is a parsed source file.
type Dataset struct {
	Table models.Table
	// ParseErrors counts cells and rows that could not be read. Bad cells
	// load as missing values; rows with an unreadable date are dropped.
	ParseErrors int
}

// Load parses data as a wide table with a Date column and one numeric
// column per parameter. Rows are returned in date order as observations.
func Load(data []byte, format Format) (*Dataset, error) {
	var records [][]string
	var err error
	switch format {
	case FormatCSV:
		records, err = readCSV(data)
	case FormatXLSX:
		records, err = readXLSX(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	return buildDataset(records)
}

func readCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyDataset
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func buildDataset(records [][]string) (*Dataset, error) {
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}

	type column struct {
		index int
		name  string
	}

	header := records[0]
	dateCol := -1
	var cols []string
	var params []column
	seen := make(map[string]bool)
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, name)
		}
		seen[key] = true
		if key == "date" {
			dateCol = i
			continue
		}
		cols = append(cols, name)
		params = append(params, column{index: i, name: name})
	}
	if dateCol < 0 {
		return nil, ErrNoDateColumn
	}

	ds := &Dataset{Table: models.Table{Columns: cols}}
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		if dateCol >= len(rec) {
			ds.ParseErrors++
			continue
		}
		d, err := ParseDate(rec[dateCol])
		if err != nil {
			ds.ParseErrors++
			continue
		}

		vals := make(map[string]sql.NullFloat64, len(cols))
		for _, c := range params {
			if c.index >= len(rec) {
				vals[c.name] = sql.NullFloat64{}
				continue
			}
			v, ok := parseValue(rec[c.index])
			if !ok {
				ds.ParseErrors++
			}
			vals[c.name] = v
		}
		ds.Table.Rows = append(ds.Table.Rows, models.Row{Date: d, Source: models.SourceObserved, Values: vals})
	}
	if len(ds.Table.Rows) == 0 {
		return nil, ErrEmptyDataset
	}
	sort.SliceStable(ds.Table.Rows, func(i, j int) bool {
		return ds.Table.Rows[i].Date.Before(ds.Table.Rows[j].Date)
	})
	return ds, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var missingMarkers = map[string]bool{"": true, "na": true, "n/a": true, "nan": true, "-": true, "null": true, "bdl": true}

// parseValue reads a numeric cell. ok is false only for cells that hold
// something other than a number or a recognised missing marker. Commas are
// accepted only as thousands separators, so a decimal comma is an error.
func parseValue(s string) (sql.NullFloat64, bool) {
	s = strings.TrimSpace(s)
	if missingMarkers[strings.ToLower(s)] {
		return sql.NullFloat64{}, true
	}
	if thousands.MatchString(s) {
		s = strings.ReplaceAll(s, ",", "")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}, false
	}
	return sql.NullFloat64{Float64: v, Valid: true}, true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01/02",
	"02-01-2006",
	"02/01/2006",
	"02.01.2006",
	"2006-01",
	"Jan-2006",
	"Jan 2006",
	"January 2006",
	"Jan-06",
}

// ParseDate reads a date cell as a UTC calendar day. Numeric cells are
// Excel serial dates. Slash dates are day first.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("excel date %q: %w", s, err)
		}
		return day(t), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
