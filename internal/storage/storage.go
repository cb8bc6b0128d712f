package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the ledger has no record for a content id.
var ErrNotFound = errors.New("acquisition not found")

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// AcquisitionRecord is one ledger row. A content id has at most one record,
// holding its latest attempt.
type AcquisitionRecord struct {
	ContentID  uint64    `json:"content_id"`
	FilePath   string    `json:"file_path,omitempty"`
	Format     string    `json:"format,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

type AcquisitionReadRepository interface {
	GetAcquisition(ctx context.Context, contentID uint64) (*AcquisitionRecord, error)
	GetAcquisitions(ctx context.Context, limit int) ([]AcquisitionRecord, error)
}

type AcquisitionWriteRepository interface {
	TrackAcquisition(ctx context.Context, record AcquisitionRecord) error
}

type AcquisitionRepository interface {
	AcquisitionReadRepository
	AcquisitionWriteRepository
}
