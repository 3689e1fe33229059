package transfer

import (
	"context"

	"github.com/okaera/samplesync/internal/samples"
)

// SpaceUsage is the device storage report: bytes total and used, plus
// per-slot byte counts in slot order.
type SpaceUsage struct {
	Total int64
	Used  int64
	Packs []int64
}

// DeviceTransport performs the actual exchanges with the physical
// device. Every call is a single fallible operation; download and
// upload report progress as a completion fraction in [0,1]. A nil
// entry in the GetIDs result is a blank slot.
type DeviceTransport interface {
	IsSet(ctx context.Context) (bool, error)
	GetSpaceUsed(ctx context.Context) (SpaceUsage, error)
	GetIDs(ctx context.Context) ([]*string, error)
	DownloadSamples(ctx context.Context, progress func(float64)) (samples.Collection, error)
	UploadSamples(ctx context.Context, collection samples.Collection, progress func(float64)) (bool, error)
}

// PackFetcher retrieves a named pack definition from the remote store.
type PackFetcher interface {
	FetchPack(ctx context.Context, id string) (*samples.Pack, error)
}
