package cleanup

import (
	"time"

	"context"

	"github.com/okaera/samplesync/internal/logctx"
	"github.com/okaera/samplesync/internal/storage"
)

// PruneJournal removes journal records whose operation started more
// than keepDuration ago.
func PruneJournal(ctx context.Context, journal storage.JournalWriteRepository, keepDuration time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)

	cutoff := time.Now().Add(-keepDuration)

	removed, err := journal.PruneOlderThan(cutoff)
	if err != nil {
		logger.Error("failed to prune journal", "err", err)

		return err
	}

	if removed > 0 {
		logger.Info("pruned journal records", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	}

	return nil
}
