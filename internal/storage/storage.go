package storage

import "time"

// OperationRecord represents one settled orchestrator operation.
type OperationRecord struct {
	Operation  string
	Status     string
	Message    string
	DurationMS int64
	StartedAt  string
}

// JournalReadRepository serves the operation history view.
type JournalReadRepository interface {
	GetRecent(limit int) ([]OperationRecord, error)
}

type JournalWriteRepository interface {
	RecordOperation(rec OperationRecord) error
	PruneOlderThan(cutoff time.Time) (int64, error) // retention cleanup, returns rows removed
}

// TransferJournal is the full journal contract the orchestrator and the
// cleanup loop depend on.
type TransferJournal interface {
	JournalReadRepository
	JournalWriteRepository
}
