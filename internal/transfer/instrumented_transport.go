package transfer

import (
	"context"

	"github.com/okaera/samplesync/internal/samples"
	"github.com/okaera/samplesync/internal/telemetry"
)

// InstrumentedDeviceTransport wraps DeviceTransport with telemetry.
type InstrumentedDeviceTransport struct {
	transport DeviceTransport
	telemetry *telemetry.Telemetry
	driver    string
}

// NewInstrumentedDeviceTransport creates a new instrumented device transport.
func NewInstrumentedDeviceTransport(transport DeviceTransport, tel *telemetry.Telemetry, driver string) *InstrumentedDeviceTransport {
	return &InstrumentedDeviceTransport{
		transport: transport,
		telemetry: tel,
		driver:    driver,
	}
}

// IsSet reports the device's bank state with telemetry.
func (t *InstrumentedDeviceTransport) IsSet(ctx context.Context) (bool, error) {
	var result bool

	var err error

	instrumentedErr := t.telemetry.InstrumentDeviceOperation(ctx, t.driver, "is_set", func(ctx context.Context) error {
		result, err = t.transport.IsSet(ctx)

		return err
	})

	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return result, nil
}

// GetSpaceUsed retrieves storage usage with telemetry.
func (t *InstrumentedDeviceTransport) GetSpaceUsed(ctx context.Context) (SpaceUsage, error) {
	var result SpaceUsage

	var err error

	instrumentedErr := t.telemetry.InstrumentDeviceOperation(ctx, t.driver, "get_space_used", func(ctx context.Context) error {
		result, err = t.transport.GetSpaceUsed(ctx)

		return err
	})

	if instrumentedErr != nil {
		return SpaceUsage{}, instrumentedErr
	}

	return result, nil
}

// GetIDs retrieves slot ids with telemetry.
func (t *InstrumentedDeviceTransport) GetIDs(ctx context.Context) ([]*string, error) {
	var result []*string

	var err error

	instrumentedErr := t.telemetry.InstrumentDeviceOperation(ctx, t.driver, "get_ids", func(ctx context.Context) error {
		result, err = t.transport.GetIDs(ctx)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// DownloadSamples downloads the collection with telemetry.
func (t *InstrumentedDeviceTransport) DownloadSamples(ctx context.Context, progress func(float64)) (samples.Collection, error) {
	var result samples.Collection

	var err error

	instrumentedErr := t.telemetry.InstrumentDeviceOperation(ctx, t.driver, "download_samples", func(ctx context.Context) error {
		result, err = t.transport.DownloadSamples(ctx, progress)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// UploadSamples uploads the collection with telemetry.
func (t *InstrumentedDeviceTransport) UploadSamples(ctx context.Context, collection samples.Collection, progress func(float64)) (bool, error) {
	var result bool

	var err error

	instrumentedErr := t.telemetry.InstrumentDeviceOperation(ctx, t.driver, "upload_samples", func(ctx context.Context) error {
		result, err = t.transport.UploadSamples(ctx, collection, progress)

		return err
	})

	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return result, nil
}
