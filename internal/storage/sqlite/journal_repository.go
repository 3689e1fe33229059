package sqlite

import (
	"database/sql"
	"time"

	"github.com/okaera/samplesync/internal/storage"
)

type JournalRepository struct {
	db *sql.DB
}

func NewJournalRepository(dbConn *sql.DB) *JournalRepository {
	return &JournalRepository{db: dbConn}
}

func (r *JournalRepository) RecordOperation(rec storage.OperationRecord) error {
	_, err := r.db.Exec(
		`INSERT INTO transfers (operation, status, message, duration_ms, started_at) VALUES (?, ?, ?, ?, ?)`,
		rec.Operation, rec.Status, rec.Message, rec.DurationMS, rec.StartedAt,
	)

	return err
}

// GetRecent returns the latest settled operations, newest first.
func (r *JournalRepository) GetRecent(limit int) ([]storage.OperationRecord, error) {
	rows, err := r.db.Query(
		`SELECT
			operation,
			status,
			message,
			duration_ms,
			started_at
		FROM transfers
		ORDER BY id DESC
		LIMIT ?`, limit)

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var records []storage.OperationRecord

	for rows.Next() {
		var record storage.OperationRecord

		var message sql.NullString

		if err := rows.Scan(&record.Operation, &record.Status, &message, &record.DurationMS, &record.StartedAt); err != nil {
			return nil, err
		}

		if message.Valid {
			record.Message = message.String
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

// PruneOlderThan deletes records whose operation started before cutoff.
func (r *JournalRepository) PruneOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM transfers WHERE started_at < ?`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
