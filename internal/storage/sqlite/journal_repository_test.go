package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/okaera/samplesync/internal/storage"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *JournalRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewJournalRepository(db)
}

func TestJournalRepository_RecordAndGetRecent(t *testing.T) {
	repo := openTestDB(t)

	records := []storage.OperationRecord{
		{Operation: "probe", Status: "succeeded", DurationMS: 12, StartedAt: "2026-08-20T10:00:00Z"},
		{Operation: "upload", Status: "failed", Message: "failed to upload", DurationMS: 340, StartedAt: "2026-08-20T10:01:00Z"},
		{Operation: "download", Status: "succeeded", DurationMS: 95, StartedAt: "2026-08-20T10:02:00Z"},
	}

	for _, rec := range records {
		require.NoError(t, repo.RecordOperation(rec))
	}

	recent, err := repo.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	// Newest first.
	require.Equal(t, "download", recent[0].Operation)
	require.Equal(t, "upload", recent[1].Operation)
	require.Equal(t, "probe", recent[2].Operation)

	require.Equal(t, "failed to upload", recent[1].Message)
	require.Empty(t, recent[0].Message)
	require.Equal(t, int64(340), recent[1].DurationMS)
}

func TestJournalRepository_GetRecentLimit(t *testing.T) {
	repo := openTestDB(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.RecordOperation(storage.OperationRecord{
			Operation: "probe",
			Status:    "succeeded",
			StartedAt: time.Date(2026, 8, 20, 10, i, 0, 0, time.UTC).Format(time.RFC3339),
		}))
	}

	recent, err := repo.GetRecent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}

func TestJournalRepository_PruneOlderThan(t *testing.T) {
	repo := openTestDB(t)

	old := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	fresh := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordOperation(storage.OperationRecord{
		Operation: "upload", Status: "succeeded", StartedAt: old.Format(time.RFC3339),
	}))
	require.NoError(t, repo.RecordOperation(storage.OperationRecord{
		Operation: "download", Status: "succeeded", StartedAt: fresh.Format(time.RFC3339),
	}))

	removed, err := repo.PruneOlderThan(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	recent, err := repo.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "download", recent[0].Operation)
}
