package transfer

import (
	"encoding/json"
	"sync"

	"github.com/okaera/samplesync/internal/samples"
)

// Channel identifies one of the three operation slots.
type Channel int

const (
	ChannelProbe Channel = iota
	ChannelDownload
	ChannelUpload
)

func (c Channel) String() string {
	switch c {
	case ChannelProbe:
		return "probe"
	case ChannelDownload:
		return "download"
	case ChannelUpload:
		return "upload"
	}

	return "unknown"
}

// Status enumerates the states an operation channel can be in.
type Status int

const (
	StatusIdle Status = iota
	StatusInProgress
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInProgress:
		return "in_progress"
	case StatusFailed:
		return "failed"
	}

	return "unknown"
}

// OperationState is the tagged state of one operation channel. The zero
// value is Idle. A progress value exists only while in progress and a
// message only after a failure; with only the constructors below, no
// other combination is representable.
type OperationState struct {
	status   Status
	progress *float64
	message  string
}

func Idle() OperationState {
	return OperationState{}
}

func InProgress(progress *float64) OperationState {
	return OperationState{status: StatusInProgress, progress: progress}
}

func Failed(message string) OperationState {
	return OperationState{status: StatusFailed, message: message}
}

func (s OperationState) Status() Status {
	return s.status
}

// Progress returns the last reported completion fraction. The second
// return is false while the channel is not in progress or no progress
// has been reported yet.
func (s OperationState) Progress() (float64, bool) {
	if s.status != StatusInProgress || s.progress == nil {
		return 0, false
	}

	return *s.progress, true
}

// Message returns the failure message, empty unless the channel failed.
func (s OperationState) Message() string {
	return s.message
}

func (s OperationState) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status   string   `json:"status"`
		Progress *float64 `json:"progress,omitempty"`
		Message  string   `json:"message,omitempty"`
	}{
		Status:   s.status.String(),
		Progress: s.progress,
		Message:  s.message,
	})
}

// Snapshot is the cached view of the device inventory. Pointer and nil
// slice fields distinguish "unknown" from a real value; the whole
// struct starts all-unknown and returns to it on Reset.
type Snapshot struct {
	IDs             []*string          `json:"ids"`
	DeviceSamples   samples.Collection `json:"device_samples"`
	IsSupported     *bool              `json:"is_supported"`
	IsSet           *bool              `json:"is_set"`
	StorageTotal    *int64             `json:"storage_total"`
	StorageUsed     *int64             `json:"storage_used"`
	PackStorageUsed []int64            `json:"pack_storage_used"`
}

// Store owns the inventory snapshot and the three operation channels.
// It is safe for concurrent use. The busy signal is derived from the
// channels on every read, never cached.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
	channels [3]OperationState
}

func NewStore() *Store {
	return &Store{}
}

// Snapshot returns a copy of the current inventory snapshot. Slice and
// pointer fields are shared with the store; callers treat them as
// read-only.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot
}

// UpdateSnapshot applies fn under the store lock so that related
// snapshot fields always change together.
func (s *Store) UpdateSnapshot(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.snapshot)
}

// Reset replaces the snapshot with the all-unknown default. Operation
// channels are left untouched.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = Snapshot{}
}

// ChannelState returns the current state of one operation channel.
func (s *Store) ChannelState(ch Channel) OperationState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.channels[ch]
}

// SetChannel writes a channel state unconditionally. Workflows own
// their channel while an operation runs; everyone else goes through
// Begin.
func (s *Store) SetChannel(ch Channel, state OperationState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.channels[ch] = state
}

// Handoff releases from and claims to in one critical section. The busy
// signal stays up across the switch, so no Begin can slip in between
// the two writes.
func (s *Store) Handoff(from, to Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.channels[from] = Idle()
	s.channels[to] = InProgress(nil)
}

// Fail records a failure verdict on a channel nothing currently owns. A
// channel another operation has claimed in the meantime is left
// untouched; a late verdict must not knock out a live claim.
func (s *Store) Fail(ch Channel, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channels[ch].status == StatusInProgress {
		return
	}

	s.channels[ch] = Failed(message)
}

// SetProgress updates the progress value of a channel that is currently
// in progress. Late callbacks arriving after the operation settled are
// dropped.
func (s *Store) SetProgress(ch Channel, progress float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channels[ch].status != StatusInProgress {
		return
	}

	p := progress
	s.channels[ch] = OperationState{status: StatusInProgress, progress: &p}
}

// Busy reports whether any of the three channels is in progress.
func (s *Store) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.busyLocked()
}

func (s *Store) busyLocked() bool {
	for _, state := range s.channels {
		if state.status == StatusInProgress {
			return true
		}
	}

	return false
}

// Begin atomically checks the busy signal and, when it is clear, marks
// ch as in progress. When another operation is in flight, the busy
// failure is recorded on ch and a BusyError returned: callers fail fast
// instead of queueing. A channel that is itself the one in progress is
// never rewritten; the running operation still owns it.
func (s *Store) Begin(ch Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busyLocked() {
		if s.channels[ch].status != StatusInProgress {
			s.channels[ch] = Failed(busyMessage)
		}

		return &BusyError{Operation: ch.String()}
	}

	s.channels[ch] = InProgress(nil)

	return nil
}
