package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// RawDataset is a fetched source file kept so a site can be re-imported
// without going back to the remote.
type RawDataset struct {
	ID          int64
	RunID       sql.NullInt64
	SiteID      string
	FetchedAt   time.Time
	Source      string
	Format      string
	PayloadHash string
	SizeBytes   int64
}

// StoreRawDataset gzips and stores payload. It returns 0 when an identical
// payload is already stored for the site.
func (s *Store) StoreRawDataset(runID int64, siteID, source, format string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)

	var run sql.NullInt64
	if runID > 0 {
		run = sql.NullInt64{Int64: runID, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO raw_datasets
		(run_id, site_id, fetched_at, source, format, payload_compressed, payload_hash, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_id, payload_hash) DO NOTHING
	`, run, siteID, time.Now().UTC(), source, format, buf.Bytes(), hex.EncodeToString(hash[:]), len(payload))
	if err != nil {
		return 0, fmt.Errorf("insert raw dataset: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return 0, err
	}
	return result.LastInsertId()
}

// GetLatestRawDataset returns the newest stored dataset of a site and its
// decompressed payload, or nil when none is stored.
func (s *Store) GetLatestRawDataset(siteID string) (*RawDataset, []byte, error) {
	var d RawDataset
	var compressed []byte
	err := s.db.QueryRow(`
		SELECT id, run_id, site_id, fetched_at, source, format, payload_hash, size_bytes, payload_compressed
		FROM raw_datasets
		WHERE site_id = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`, siteID).Scan(&d.ID, &d.RunID, &d.SiteID, &d.FetchedAt, &d.Source, &d.Format, &d.PayloadHash, &d.SizeBytes, &compressed)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	payload, err := io.ReadAll(gz)
	if err != nil {
		return nil, nil, fmt.Errorf("decompress dataset %d: %w", d.ID, err)
	}
	return &d, payload, nil
}

// CleanupOldRawDatasets deletes datasets fetched more than retentionDays
// ago, always keeping the newest one per site.
func (s *Store) CleanupOldRawDatasets(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM raw_datasets
		WHERE fetched_at < ?
		  AND id NOT IN (SELECT MAX(id) FROM raw_datasets GROUP BY site_id)
	`, time.Now().UTC().AddDate(0, 0, -retentionDays))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
