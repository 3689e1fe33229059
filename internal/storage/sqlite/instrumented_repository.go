package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/okaera/samplesync/internal/storage"
	"github.com/okaera/samplesync/internal/telemetry"
)

// InstrumentedJournalRepository wraps JournalRepository with telemetry.
type InstrumentedJournalRepository struct {
	repo      *JournalRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedJournalRepository creates a new instrumented journal repository.
func NewInstrumentedJournalRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedJournalRepository {
	return &InstrumentedJournalRepository{
		repo:      NewJournalRepository(dbConn),
		telemetry: tel,
	}
}

// RecordOperation records a settled operation with telemetry.
func (r *InstrumentedJournalRepository) RecordOperation(rec storage.OperationRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "record_operation", func(ctx context.Context) error {
		return r.repo.RecordOperation(rec)
	})
}

// GetRecent retrieves the latest operations with telemetry.
func (r *InstrumentedJournalRepository) GetRecent(limit int) ([]storage.OperationRecord, error) {
	var result []storage.OperationRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_recent", func(ctx context.Context) error {
		result, err = r.repo.GetRecent(limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// PruneOlderThan removes aged records with telemetry.
func (r *InstrumentedJournalRepository) PruneOlderThan(cutoff time.Time) (int64, error) {
	var result int64

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "prune_older_than", func(ctx context.Context) error {
		result, err = r.repo.PruneOlderThan(cutoff)

		return err
	})

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	return result, nil
}
