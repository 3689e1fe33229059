package transfer

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/okaera/samplesync/internal/samples"
)

// DefaultPackIDs is the factory inventory seeded onto a device whose
// sample banks have never been written.
var DefaultPackIDs = []string{
	"808 Essentials",
	"Acid Bass",
	"Tape Loops",
	"Vinyl Breaks",
	"Analog Keys",
	"Dub Chords",
	"Field Textures",
	"Modular Blips",
	"Lo-Fi Drums",
	"Vocal Chops",
}

const maxParallelFetches = 4

// BuildDefaultInventory assembles a full collection from up to NumSlots
// pack ids. Blank ids become empty slots, as does the tail beyond the
// input length. Fetches run in parallel; if any of them fails the whole
// build fails, so a partial collection is never returned.
func (o *Orchestrator) BuildDefaultInventory(ctx context.Context, ids []string) (samples.Collection, error) {
	if len(ids) == 0 || len(ids) > samples.NumSlots {
		return nil, fmt.Errorf("pack id list must have between 1 and %d entries, got %d", samples.NumSlots, len(ids))
	}

	collection := make(samples.Collection, samples.NumSlots)

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxParallelFetches)

	for i, id := range ids {
		if id == "" {
			continue
		}

		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			pack, err := o.fetcher.FetchPack(gctx, strings.TrimSpace(id))
			if err != nil {
				return fmt.Errorf("failed to fetch pack %q: %w", id, err)
			}

			collection[i] = pack

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return collection, nil
}
