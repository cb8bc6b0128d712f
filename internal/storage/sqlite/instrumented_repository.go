package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/track_downloader/internal/storage"
	"github.com/italolelis/track_downloader/internal/telemetry"
)

// InstrumentedAcquisitionRepository wraps AcquisitionRepository with telemetry.
type InstrumentedAcquisitionRepository struct {
	repo      *AcquisitionRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedAcquisitionRepository creates a new instrumented acquisition repository.
func NewInstrumentedAcquisitionRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedAcquisitionRepository {
	return &InstrumentedAcquisitionRepository{
		repo:      NewAcquisitionRepository(dbConn),
		telemetry: tel,
	}
}

// TrackAcquisition records an acquisition with telemetry.
func (r *InstrumentedAcquisitionRepository) TrackAcquisition(ctx context.Context, record storage.AcquisitionRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_acquisition", func(ctx context.Context) error {
		return r.repo.TrackAcquisition(ctx, record)
	})
}

// GetAcquisition retrieves one acquisition with telemetry.
func (r *InstrumentedAcquisitionRepository) GetAcquisition(ctx context.Context, contentID uint64) (*storage.AcquisitionRecord, error) {
	var result *storage.AcquisitionRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_acquisition", func(ctx context.Context) error {
		result, err = r.repo.GetAcquisition(ctx, contentID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// GetAcquisitions retrieves acquisitions with telemetry.
func (r *InstrumentedAcquisitionRepository) GetAcquisitions(ctx context.Context, limit int) ([]storage.AcquisitionRecord, error) {
	var result []storage.AcquisitionRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_acquisitions", func(ctx context.Context) error {
		result, err = r.repo.GetAcquisitions(ctx, limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
