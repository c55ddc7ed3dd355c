package ingest

import (
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/lox/wqiforecast/internal/models"
	"github.com/lox/wqiforecast/internal/store"
)

const (
	FlagPHOutOfRange     = "ph_out_of_range"
	FlagNegative         = "negative_value"
	FlagDOUnlikely       = "do_unlikely"
	FlagTurbidityExtreme = "turbidity_extreme"
)

// ValidateSample returns quality flags for one measurement. Missing values
// carry no flags.
func ValidateSample(parameter string, v sql.NullFloat64) []string {
	if !v.Valid {
		return nil
	}
	var flags []string

	switch strings.ToLower(parameter) {
	case "ph":
		if v.Float64 < 0 || v.Float64 > 14 {
			flags = append(flags, FlagPHOutOfRange)
		}
		return flags
	case "do":
		if v.Float64 > 20 {
			flags = append(flags, FlagDOUnlikely)
		}
	case "turb":
		if v.Float64 > 4000 {
			flags = append(flags, FlagTurbidityExtreme)
		}
	}

	if v.Float64 < 0 {
		flags = append(flags, FlagNegative)
	}
	return flags
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}

// Samples flattens t into storable samples tagged with runID and their
// quality flags. flagged counts samples carrying at least one flag.
func Samples(siteID string, runID int64, t models.Table) (samples []models.Sample, flagged int) {
	samples = store.Unpivot(siteID, t)
	for i := range samples {
		if runID > 0 {
			samples[i].RunID = sql.NullInt64{Int64: runID, Valid: true}
		}
		if js := QualityFlagsToJSON(ValidateSample(samples[i].Parameter, samples[i].Value)); js != "" {
			samples[i].QCFlags = sql.NullString{String: js, Valid: true}
			flagged++
		}
	}
	return samples, flagged
}
