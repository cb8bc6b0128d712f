package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/track_downloader/internal/storage"
)

type AcquisitionRepository struct {
	db *sql.DB
}

func NewAcquisitionRepository(dbConn *sql.DB) *AcquisitionRepository {
	return &AcquisitionRepository{db: dbConn}
}

// TrackAcquisition inserts the record or replaces the previous attempt for the
// same content id.
func (r *AcquisitionRepository) TrackAcquisition(ctx context.Context, record storage.AcquisitionRecord) error {
	if record.AcquiredAt.IsZero() {
		record.AcquiredAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO acquisitions (content_id, file_path, format, status, error, acquired_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_id) DO UPDATE SET
			file_path = excluded.file_path,
			format = excluded.format,
			status = excluded.status,
			error = excluded.error,
			acquired_at = excluded.acquired_at
	`, int64(record.ContentID), record.FilePath, record.Format, record.Status, record.Error,
		record.AcquiredAt.UTC().Format(time.RFC3339Nano))

	return err
}

func (r *AcquisitionRepository) GetAcquisition(ctx context.Context, contentID uint64) (*storage.AcquisitionRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT content_id, file_path, format, status, error, acquired_at FROM acquisitions WHERE content_id = ?`,
		int64(contentID))

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return record, nil
}

// GetAcquisitions returns the most recent records first. A limit of zero or
// less returns every record.
func (r *AcquisitionRepository) GetAcquisitions(ctx context.Context, limit int) ([]storage.AcquisitionRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT content_id, file_path, format, status, error, acquired_at
		FROM acquisitions
		ORDER BY acquired_at DESC, content_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.AcquisitionRecord

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, *record)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*storage.AcquisitionRecord, error) {
	var (
		record     storage.AcquisitionRecord
		contentID  int64
		acquiredAt string
	)

	if err := s.Scan(&contentID, &record.FilePath, &record.Format, &record.Status, &record.Error, &acquiredAt); err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, acquiredAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse acquired_at: %w", err)
	}

	record.ContentID = uint64(contentID)
	record.AcquiredAt = t

	return &record, nil
}
