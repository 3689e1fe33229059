package transfer

// Channel failure messages. The exact strings are part of the
// caller-visible contract: they are what the status endpoint and the
// device UI render, so they never carry dynamic detail.
const (
	busyMessage               = "transfer in progress"
	notSetMessage             = "device samples not set"
	downloadFailedMessage     = "failed to download"
	uploadFailedMessage       = "failed to upload"
	notSupportedMessage       = "device samples not supported"
	wrongSlotCountMessage     = "sample collection must have 10 slots"
	uploadNotSetMessage       = "device samples are not set"
	redownloadFailedMessage   = "failed to re-download after upload"
	verificationFailedMessage = "uploaded and downloaded samples are not identical"
	defaultsFailedMessage     = "failed to build default samples"
	seededNotSetMessage       = "device samples are still not set"
)

// BusyError reports that another operation already owned the device
// when a probe, download or upload tried to start.
type BusyError struct {
	Operation string // the operation that was refused
}

func (e *BusyError) Error() string {
	return busyMessage
}

// PreconditionError reports a capability or payload check that failed
// before the device was contacted, such as an unsupported device or a
// collection with the wrong slot count.
type PreconditionError struct {
	Operation string // the operation whose precondition failed
	Reason    string // matches the message recorded on the channel
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

// TransportError reports a device or store call that failed outright or
// returned a negative result.
type TransportError struct {
	Operation string // the underlying call (is_set, upload_samples, ...)
	Reason    string // matches the message recorded on the channel
	Err       error  // underlying error, if any
}

func (e *TransportError) Error() string {
	return e.Reason
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// VerificationError reports a post-upload readback that did not match
// the submitted collection.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return e.Reason
}
