package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/lox/wqiforecast/internal/metrics"
	"github.com/lox/wqiforecast/internal/store"
)

// ImportResult summarises one import.
type ImportResult struct {
	RunID       int64
	Rows        int
	Columns     []string
	Stored      int
	Flagged     int
	ParseErrors int
}

type Importer struct {
	store   *store.Store
	fetcher Fetcher
}

func NewImporter(s *store.Store, f Fetcher) *Importer {
	return &Importer{store: s, fetcher: f}
}

// Import fetches the dataset at location and stores it as observed samples
// for siteID. The raw file is kept alongside the parsed samples.
func (im *Importer) Import(ctx context.Context, siteID, location string) (res *ImportResult, err error) {
	run, err := im.store.StartRun(store.RunImport, siteID, location)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	defer func() {
		if cerr := im.store.CompleteRun(run, err); cerr != nil {
			log.Printf("ingest: complete run %d: %v", run.ID, cerr)
		}
	}()

	data, err := im.fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	format := DetectFormat(location, data)
	if _, err := im.store.StoreRawDataset(run.ID, siteID, location, string(format), data); err != nil {
		log.Printf("ingest: store raw dataset for %s: %v", siteID, err)
	}

	res, err = im.load(siteID, run, data, format)
	if err != nil {
		return nil, err
	}
	log.Printf("ingest: %s: %d rows, %d samples stored, %d flagged, %d parse errors",
		siteID, res.Rows, res.Stored, res.Flagged, res.ParseErrors)
	return res, nil
}

// Reload re-imports the most recently fetched dataset of a site without
// contacting the remote.
func (im *Importer) Reload(siteID string) (res *ImportResult, err error) {
	raw, data, err := im.store.GetLatestRawDataset(siteID)
	if err != nil {
		return nil, fmt.Errorf("get raw dataset: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("no stored dataset for site %s", siteID)
	}

	run, err := im.store.StartRun(store.RunImport, siteID, raw.Source)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	defer func() {
		if cerr := im.store.CompleteRun(run, err); cerr != nil {
			log.Printf("ingest: complete run %d: %v", run.ID, cerr)
		}
	}()
	return im.load(siteID, run, data, Format(raw.Format))
}

func (im *Importer) load(siteID string, run *store.Run, data []byte, format Format) (*ImportResult, error) {
	ds, err := Load(data, format)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	samples, flagged := Samples(siteID, run.ID, ds.Table)

	run.RecordsParsed = sql.NullInt64{Int64: int64(len(samples)), Valid: true}
	run.ParseErrors = sql.NullInt64{Int64: int64(ds.ParseErrors), Valid: true}

	stored, err := im.store.InsertSamples(samples)
	if err != nil {
		return nil, fmt.Errorf("store samples: %w", err)
	}
	run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
	metrics.SamplesImported.WithLabelValues(siteID).Add(float64(stored))

	return &ImportResult{
		RunID:       run.ID,
		Rows:        ds.Table.Len(),
		Columns:     ds.Table.Columns,
		Stored:      stored,
		Flagged:     flagged,
		ParseErrors: ds.ParseErrors,
	}, nil
}
