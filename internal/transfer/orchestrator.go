package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/okaera/samplesync/internal/logctx"
	"github.com/okaera/samplesync/internal/samples"
	"github.com/okaera/samplesync/internal/storage"
	"github.com/okaera/samplesync/internal/telemetry"
)

// waitPollInterval paces WaitForUploadToFinish polling.
const waitPollInterval = 250 * time.Millisecond

const (
	opProbe          = "probe"
	opDownload       = "download"
	opUpload         = "upload"
	opUploadDefaults = "upload_defaults"
	opInitialise     = "initialise"
)

// SupportStatus is the probe result. IsSet mirrors the snapshot's
// tri-state value so an unsupported result can still carry the last
// known set state.
type SupportStatus struct {
	Supported bool  `json:"supported"`
	IsSet     *bool `json:"is_set"`
}

// Event describes a settled public operation, for notifier wiring.
type Event struct {
	Operation string
	Err       error
}

// Orchestrator sequences probe, download and upload operations against
// a single device. It enforces the one-operation-in-flight discipline
// through the store's busy signal and verifies every upload by reading
// the device back.
type Orchestrator struct {
	store     *Store
	transport DeviceTransport
	fetcher   PackFetcher
	journal   storage.TransferJournal
	telemetry *telemetry.Telemetry

	OnTransferFinished chan Event
	OnTransferFailed   chan Event
}

// NewOrchestrator wires the orchestrator. The journal and telemetry may
// be nil; both are optional observability.
func NewOrchestrator(store *Store, transport DeviceTransport, fetcher PackFetcher, journal storage.TransferJournal, tel *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{
		store:     store,
		transport: transport,
		fetcher:   fetcher,
		journal:   journal,
		telemetry: tel,

		OnTransferFinished: make(chan Event, 16),
		OnTransferFailed:   make(chan Event, 16),
	}
}

func (o *Orchestrator) Close() {
	close(o.OnTransferFinished)
	close(o.OnTransferFailed)
}

// Store exposes the state store for read access by callers such as the
// REST layer.
func (o *Orchestrator) Store() *Store {
	return o.store
}

// ResetSnapshot invalidates the cached inventory. Channels keep their
// states; the next probe or download rebuilds the snapshot.
func (o *Orchestrator) ResetSnapshot() {
	o.store.Reset()
}

// CheckDeviceSampleSupport probes the device for sampler support and
// refreshes the inventory snapshot. The busy fast-fail path returns no
// status; every other path does. A transport fault anywhere in the
// probe is a definitive "unsupported" answer rather than a transient
// error, with the fault detail kept out of the result.
func (o *Orchestrator) CheckDeviceSampleSupport(ctx context.Context) (*SupportStatus, error) {
	start := time.Now()

	if err := o.store.Begin(ChannelProbe); err != nil {
		o.finish(ctx, opProbe, start, err)

		return nil, err
	}

	var status *SupportStatus

	probeErr := o.telemetry.InstrumentTransfer(ctx, opProbe, func(ctx context.Context) error {
		var err error
		status, err = o.probe(ctx)

		return err
	})

	o.finish(ctx, opProbe, start, probeErr)

	return status, nil
}

// probe runs with the probe channel already claimed and always releases
// it to Idle. The returned error is the suppressed transport fault,
// kept only for logs and metrics.
func (o *Orchestrator) probe(ctx context.Context) (*SupportStatus, error) {
	logger := logctx.LoggerFromContext(ctx)
	prior := o.store.Snapshot().IsSet

	isSet, err := o.transport.IsSet(ctx)
	if err != nil {
		return o.probeUnsupported(ctx, prior, "is_set", err), err
	}

	if !isSet {
		o.store.UpdateSnapshot(func(s *Snapshot) {
			s.IsSupported = boolPtr(true)
			s.IsSet = boolPtr(false)
		})
		o.store.SetChannel(ChannelProbe, Idle())

		logger.InfoContext(ctx, "device probe finished", "supported", true, "is_set", false)

		return &SupportStatus{Supported: true, IsSet: boolPtr(false)}, nil
	}

	space, err := o.transport.GetSpaceUsed(ctx)
	if err != nil {
		return o.probeUnsupported(ctx, prior, "get_space_used", err), err
	}

	rawIDs, err := o.transport.GetIDs(ctx)
	if err != nil {
		return o.probeUnsupported(ctx, prior, "get_ids", err), err
	}

	ids := displayIDs(rawIDs)

	// Commit everything the probe learned in one step so readers never
	// observe a half-updated snapshot.
	o.store.UpdateSnapshot(func(s *Snapshot) {
		s.IsSupported = boolPtr(true)
		s.IsSet = boolPtr(true)
		s.StorageTotal = int64Ptr(space.Total)
		s.StorageUsed = int64Ptr(space.Used)
		s.PackStorageUsed = space.Packs
		s.IDs = ids
	})
	o.store.SetChannel(ChannelProbe, Idle())

	logger.InfoContext(ctx, "device probe finished",
		"supported", true,
		"is_set", true,
		"storage_used", humanize.Bytes(uint64(space.Used)),
		"storage_total", humanize.Bytes(uint64(space.Total)),
	)

	return &SupportStatus{Supported: true, IsSet: boolPtr(true)}, nil
}

func (o *Orchestrator) probeUnsupported(ctx context.Context, prior *bool, deviceOp string, err error) *SupportStatus {
	logctx.LoggerFromContext(ctx).DebugContext(ctx, "device probe fault treated as unsupported",
		"device_op", deviceOp, "err", err)

	o.store.UpdateSnapshot(func(s *Snapshot) {
		s.IsSupported = boolPtr(false)
	})
	o.store.SetChannel(ChannelProbe, Idle())

	return &SupportStatus{Supported: false, IsSet: prior}
}

// DownloadDeviceSamples reads the full collection off the device and
// stores it in the snapshot.
func (o *Orchestrator) DownloadDeviceSamples(ctx context.Context) (samples.Collection, error) {
	start := time.Now()

	collection, err := o.downloadWorkflow(ctx)
	o.finish(ctx, opDownload, start, err)

	return collection, err
}

func (o *Orchestrator) downloadWorkflow(ctx context.Context) (samples.Collection, error) {
	if err := o.store.Begin(ChannelDownload); err != nil {
		return nil, err
	}

	return o.download(ctx)
}

// download runs with the download channel already claimed and settles
// it on every path.
func (o *Orchestrator) download(ctx context.Context) (samples.Collection, error) {
	snap := o.store.Snapshot()
	if snap.IsSet == nil || !*snap.IsSet {
		err := &PreconditionError{Operation: opDownload, Reason: notSetMessage}
		o.store.SetChannel(ChannelDownload, Failed(err.Error()))

		return nil, err
	}

	var collection samples.Collection

	err := o.telemetry.InstrumentTransfer(ctx, opDownload, func(ctx context.Context) error {
		var err error

		collection, err = o.transport.DownloadSamples(ctx, func(p float64) {
			o.store.SetProgress(ChannelDownload, p)
		})
		if err != nil {
			return err
		}

		if collection == nil {
			return errors.New("transport returned no collection")
		}

		return nil
	})
	if err != nil {
		o.store.SetChannel(ChannelDownload, Failed(downloadFailedMessage))

		return nil, &TransportError{Operation: "download_samples", Reason: downloadFailedMessage, Err: err}
	}

	o.store.UpdateSnapshot(func(s *Snapshot) {
		s.DeviceSamples = collection
	})
	o.store.SetChannel(ChannelDownload, Idle())

	return collection, nil
}

// UploadDeviceSamples writes a full collection to the device and then
// proves the write: the device must report its banks set, and a fresh
// download must compare canonically equal to what was submitted. The
// extra device I/O buys a strong guarantee: a nil return means the
// device now holds exactly this content, not merely that the write
// command was acknowledged.
func (o *Orchestrator) UploadDeviceSamples(ctx context.Context, collection samples.Collection) error {
	start := time.Now()

	err := o.uploadWorkflow(ctx, collection)
	o.finish(ctx, opUpload, start, err)

	return err
}

func (o *Orchestrator) uploadWorkflow(ctx context.Context, collection samples.Collection) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := o.store.Begin(ChannelUpload); err != nil {
		return err
	}

	snap := o.store.Snapshot()
	if snap.IsSupported == nil || !*snap.IsSupported {
		err := &PreconditionError{Operation: opUpload, Reason: notSupportedMessage}
		o.store.SetChannel(ChannelUpload, Failed(err.Error()))

		return err
	}

	if err := collection.Validate(); err != nil {
		logger.DebugContext(ctx, "collection rejected before upload", "err", err)

		perr := &PreconditionError{Operation: opUpload, Reason: wrongSlotCountMessage}
		o.store.SetChannel(ChannelUpload, Failed(perr.Error()))

		return perr
	}

	err := o.telemetry.InstrumentTransfer(ctx, opUpload, func(ctx context.Context) error {
		ok, err := o.transport.UploadSamples(ctx, collection, func(p float64) {
			o.store.SetProgress(ChannelUpload, p)
		})
		if err != nil {
			return err
		}

		if !ok {
			return errors.New("device rejected the upload")
		}

		return nil
	})
	if err != nil {
		o.store.SetChannel(ChannelUpload, Failed(uploadFailedMessage))

		return &TransportError{Operation: "upload_samples", Reason: uploadFailedMessage, Err: err}
	}

	// Readback check, step one: ask the device whether its banks are
	// set. This bypasses the probe workflow's busy gate on purpose; the
	// upload itself is the protected operation here, and the handoff
	// keeps it protected across the channel switch.
	o.store.Handoff(ChannelUpload, ChannelProbe)

	isSet, err := o.transport.IsSet(ctx)
	if err == nil {
		o.store.UpdateSnapshot(func(s *Snapshot) {
			s.IsSet = boolPtr(isSet)
		})
	}

	if err != nil || !isSet {
		// Verdict before release; the upload failure must be on its
		// channel by the time the busy signal drops.
		o.store.Fail(ChannelUpload, uploadNotSetMessage)
		o.store.SetChannel(ChannelProbe, Idle())

		return &TransportError{Operation: "is_set", Reason: uploadNotSetMessage, Err: err}
	}

	// Step two: download everything back and compare canonically.
	o.store.Handoff(ChannelProbe, ChannelDownload)

	verification, err := o.download(ctx)
	if err != nil {
		o.store.Fail(ChannelUpload, redownloadFailedMessage)

		return &TransportError{Operation: "download_samples", Reason: redownloadFailedMessage, Err: err}
	}

	if !samples.CollectionsEqual(collection, verification) {
		verr := &VerificationError{Reason: verificationFailedMessage}
		o.store.Fail(ChannelUpload, verr.Error())

		return verr
	}

	logger.InfoContext(ctx, "upload verified against device readback")

	return nil
}

// UploadDeviceDefaultSamples builds the factory inventory from the
// remote store and uploads it.
func (o *Orchestrator) UploadDeviceDefaultSamples(ctx context.Context) error {
	start := time.Now()

	collection, err := o.BuildDefaultInventory(ctx, DefaultPackIDs)
	if err != nil {
		o.store.Fail(ChannelUpload, defaultsFailedMessage)
		terr := &TransportError{Operation: "build_default_inventory", Reason: defaultsFailedMessage, Err: err}
		o.finish(ctx, opUploadDefaults, start, terr)

		return terr
	}

	err = o.uploadWorkflow(ctx, collection)
	o.finish(ctx, opUploadDefaults, start, err)

	return err
}

// InitialiseDeviceSamples brings a freshly connected device to a known
// state: probe, seed the factory inventory when the banks are unset,
// then download whatever the device holds into the snapshot.
func (o *Orchestrator) InitialiseDeviceSamples(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)
	start := time.Now()

	status, err := o.CheckDeviceSampleSupport(ctx)
	if err != nil {
		// Another operation owns the device; nothing was touched.
		o.finish(ctx, opInitialise, start, err)

		return err
	}

	if !status.Supported {
		logger.InfoContext(ctx, "device does not support sample transfer, skipping initialisation")
		o.finish(ctx, opInitialise, start, nil)

		return nil
	}

	if status.IsSet == nil || !*status.IsSet {
		logger.InfoContext(ctx, "device sample banks unset, seeding factory inventory")

		if err := o.UploadDeviceDefaultSamples(ctx); err != nil {
			o.finish(ctx, opInitialise, start, err)

			return err
		}

		status, err = o.CheckDeviceSampleSupport(ctx)
		if err != nil {
			o.finish(ctx, opInitialise, start, err)

			return err
		}

		if status.IsSet == nil || !*status.IsSet {
			perr := &PreconditionError{Operation: opInitialise, Reason: seededNotSetMessage}
			o.store.Fail(ChannelProbe, perr.Error())
			o.finish(ctx, opInitialise, start, perr)

			return perr
		}
	}

	_, err = o.DownloadDeviceSamples(ctx)
	o.finish(ctx, opInitialise, start, err)

	return err
}

// WaitForUploadToFinish blocks until no channel is in progress, polling
// at a fixed interval. There is no queue admission and no fairness; the
// context only abandons the wait, it never cancels the in-flight
// operation.
func (o *Orchestrator) WaitForUploadToFinish(ctx context.Context) error {
	if !o.store.Busy() {
		return nil
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !o.store.Busy() {
				return nil
			}
		}
	}
}

// finish journals the settled operation and feeds the notifier event
// channels. Failures here never affect the operation result.
func (o *Orchestrator) finish(ctx context.Context, op string, start time.Time, err error) {
	if o.journal != nil {
		status := "succeeded"
		message := ""

		if err != nil {
			status = "failed"
			message = err.Error()
		}

		rec := storage.OperationRecord{
			Operation:  op,
			Status:     status,
			Message:    message,
			DurationMS: time.Since(start).Milliseconds(),
			StartedAt:  start.UTC().Format(time.RFC3339),
		}

		if jerr := o.journal.RecordOperation(rec); jerr != nil {
			logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to journal operation", "operation", op, "err", jerr)
		}
	}

	event := Event{Operation: op, Err: err}
	if err != nil {
		o.emit(o.OnTransferFailed, event)
	} else {
		o.emit(o.OnTransferFinished, event)
	}
}

// emit never blocks; event consumers are best-effort.
func (o *Orchestrator) emit(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
	}
}

// displayIDs turns raw slot ids into their display form: every non-nil
// id gains a dash after its first character and the sequence is rotated
// left by one. The rotation matches the bank order on the device's own
// screen, which shows bank one last.
func displayIDs(raw []*string) []*string {
	if len(raw) == 0 {
		return nil
	}

	out := make([]*string, len(raw))

	for i, id := range raw {
		if id == nil {
			continue
		}

		display := insertSeparator(*id)
		out[i] = &display
	}

	first := out[0]
	copy(out, out[1:])
	out[len(out)-1] = first

	return out
}

func insertSeparator(id string) string {
	if id == "" {
		return id
	}

	return id[:1] + "-" + id[1:]
}

func boolPtr(b bool) *bool {
	return &b
}

func int64Ptr(v int64) *int64 {
	return &v
}
