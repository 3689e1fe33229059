// Package sim provides an in-memory device transport for development
// and tests. Fault knobs make the failure paths of the orchestrator
// reachable without hardware.
package sim

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/okaera/samplesync/internal/samples"
	"github.com/okaera/samplesync/internal/transfer"
)

const memoryTotal = 64 << 20

// Device simulates an MX-10 sampler. The zero knobs behave like a
// healthy device with unset banks.
type Device struct {
	mu         sync.Mutex
	collection samples.Collection
	calls      map[string]int

	// Fault knobs. Errors are returned verbatim from the matching
	// transport call.
	FailIsSet        error
	FailGetSpaceUsed error
	FailGetIDs       error
	FailDownload     error
	FailUpload       error

	// RejectUpload makes the device refuse the write without an error.
	RejectUpload bool

	// DropAfterUpload accepts the write but leaves the banks unset.
	DropAfterUpload bool

	// CorruptOnWrite stores a collection that differs from what was
	// submitted.
	CorruptOnWrite bool

	// Gate, when set, blocks DownloadSamples and UploadSamples until it
	// yields. Close it to release every pending call.
	Gate chan struct{}
}

func NewDevice() *Device {
	return &Device{calls: make(map[string]int)}
}

var _ transfer.DeviceTransport = (*Device)(nil)

// Seed presets the device banks, as if a collection had been uploaded
// earlier.
func (d *Device) Seed(collection samples.Collection) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.collection = clone(collection)
}

// CallCount reports how many times the named transport call ran.
func (d *Device) CallCount(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls[method]
}

func (d *Device) IsSet(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["is_set"]++

	if d.FailIsSet != nil {
		return false, d.FailIsSet
	}

	return d.collection != nil, nil
}

func (d *Device) GetSpaceUsed(ctx context.Context) (transfer.SpaceUsage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["get_space_used"]++

	if d.FailGetSpaceUsed != nil {
		return transfer.SpaceUsage{}, d.FailGetSpaceUsed
	}

	usage := transfer.SpaceUsage{Total: memoryTotal}

	for _, pack := range d.collection {
		var size int64

		if pack != nil {
			raw, err := json.Marshal(pack)
			if err == nil {
				size = int64(len(raw))
			}
		}

		usage.Used += size
		usage.Packs = append(usage.Packs, size)
	}

	return usage, nil
}

func (d *Device) GetIDs(ctx context.Context) ([]*string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["get_ids"]++

	if d.FailGetIDs != nil {
		return nil, d.FailGetIDs
	}

	ids := make([]*string, len(d.collection))
	for i, pack := range d.collection {
		ids[i] = slotID(pack)
	}

	return ids, nil
}

func (d *Device) DownloadSamples(ctx context.Context, onProgress func(float64)) (samples.Collection, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["download_samples"]++

	if d.FailDownload != nil {
		return nil, d.FailDownload
	}

	if onProgress != nil {
		onProgress(0.5)
		onProgress(1)
	}

	return clone(d.collection), nil
}

func (d *Device) UploadSamples(ctx context.Context, collection samples.Collection, onProgress func(float64)) (bool, error) {
	if err := d.wait(ctx); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["upload_samples"]++

	if d.FailUpload != nil {
		return false, d.FailUpload
	}

	if d.RejectUpload {
		return false, nil
	}

	if onProgress != nil {
		onProgress(0.5)
		onProgress(1)
	}

	stored := clone(collection)

	switch {
	case d.DropAfterUpload:
		stored = nil
	case d.CorruptOnWrite:
		corrupt(stored)
	}

	d.collection = stored

	return true, nil
}

func (d *Device) wait(ctx context.Context) error {
	if d.Gate == nil {
		return nil
	}

	select {
	case <-d.Gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// slotID derives the 4-character bank code the device shows for a pack.
func slotID(pack *samples.Pack) *string {
	if pack == nil {
		return nil
	}

	id := strings.ToUpper(strings.ReplaceAll(pack.Name, " ", ""))
	if len(id) > 4 {
		id = id[:4]
	}

	for len(id) < 4 {
		id += "X"
	}

	return &id
}

func corrupt(collection samples.Collection) {
	for _, pack := range collection {
		if pack == nil {
			continue
		}

		pack.Loops = append(pack.Loops, json.RawMessage(`{"glitch":true}`))

		return
	}
}

func clone(collection samples.Collection) samples.Collection {
	if collection == nil {
		return nil
	}

	out := make(samples.Collection, len(collection))

	for i, pack := range collection {
		if pack == nil {
			continue
		}

		cp := samples.Pack{Name: pack.Name}

		if pack.Loops != nil {
			cp.Loops = make([]json.RawMessage, len(pack.Loops))
			for j, loop := range pack.Loops {
				cp.Loops[j] = append(json.RawMessage(nil), loop...)
			}
		}

		out[i] = &cp
	}

	return out
}
