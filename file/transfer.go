package file

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrDirectoryTraversal reports a peer-supplied path that tries to escape the destination directory.
var ErrDirectoryTraversal = errors.New("path contains directory traversal")

// ErrChunkTooLarge reports a chunk larger than MaxChunkSize.
var ErrChunkTooLarge = errors.New("chunk size exceeds maximum allowed")

// ErrFileNameTooLong reports an offered file name longer than MaxFileNameLength.
var ErrFileNameTooLong = errors.New("file name too long")

// ErrTransferStalled reports a running transfer that moved no data within the stall timeout.
var ErrTransferStalled = errors.New("transfer stalled: no data moved within timeout period")

// TransferDirection indicates whether a transfer is incoming or outgoing.
type TransferDirection uint8

const (
	// TransferDirectionIncoming represents a file being received.
	TransferDirectionIncoming TransferDirection = iota
	// TransferDirectionOutgoing represents a file being sent.
	TransferDirectionOutgoing
)

// TransferState represents the current state of a file transfer.
type TransferState uint8

const (
	// TransferStatePending indicates the transfer is waiting to start.
	TransferStatePending TransferState = iota
	// TransferStateRunning indicates the transfer is in progress.
	TransferStateRunning
	// TransferStateCompleted indicates the transfer has finished successfully.
	TransferStateCompleted
	// TransferStateCancelled indicates the transfer was cancelled.
	TransferStateCancelled
	// TransferStateFailed indicates the transfer failed due to an error.
	TransferStateFailed
)

// ChunkSize is the plaintext chunk size the transit record stream moves
// per record: every call into ReadChunk during a send asks for exactly
// this much, and the final short chunk marks end of file.
const ChunkSize = 4096

// MaxChunkSize is the maximum chunk either side will buffer, bounding
// memory use regardless of what a misbehaving peer's records claim.
const MaxChunkSize = 65536

// MaxFileNameLength caps the offered file name at typical filesystem
// limits before any path handling happens.
const MaxFileNameLength = 255

// DefaultStallTimeout is how long a running transfer may move no data
// before CheckTimeout reports it stalled.
const DefaultStallTimeout = 30 * time.Second

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// Transfer tracks the one file transfer a wormhole session carries over
// its transit record stream. An outgoing Transfer is drained with
// ReadChunk as each record is sealed; an incoming one is filled with
// WriteChunk as each record is opened. The progress callback receives
// the cumulative byte count; the running speed estimate is read through
// GetSpeed and GetEstimatedTimeRemaining.
type Transfer struct {
	Direction   TransferDirection
	FileName    string
	FileSize    uint64
	State       TransferState
	StartTime   time.Time
	Transferred uint64
	Err         error

	handle *os.File

	progressCallback func(uint64)
	completeCallback func(error)

	mu            sync.Mutex
	lastChunkTime time.Time
	speed         float64 // bytes per second, exponential moving average
	stallTimeout  time.Duration
	timeProvider  TimeProvider
}

// NewTransfer creates a transfer in the pending state. fileName is the
// local path to read (outgoing) or create (incoming); fileSize is the
// size advertised in the offer message.
func NewTransfer(fileName string, fileSize uint64, direction TransferDirection) (*Transfer, error) {
	if len(fileName) > MaxFileNameLength {
		return nil, ErrFileNameTooLong
	}

	tp := defaultTimeProvider
	t := &Transfer{
		Direction:     direction,
		FileName:      fileName,
		FileSize:      fileSize,
		State:         TransferStatePending,
		lastChunkTime: tp.Now(),
		stallTimeout:  DefaultStallTimeout,
		timeProvider:  tp,
	}

	logrus.WithFields(logrus.Fields{
		"package":   "file",
		"file_name": fileName,
		"file_size": fileSize,
		"direction": direction,
	}).Debug("created file transfer")
	return t, nil
}

// SetTimeProvider sets a custom time provider for deterministic testing.
// lastChunkTime is reset to the new provider's current time so stall
// accounting stays consistent across the switch.
func (t *Transfer) SetTimeProvider(tp TimeProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeProvider = tp
	t.lastChunkTime = tp.Now()
}

// ValidatePath rejects paths that escape the destination directory via
// traversal components, returning the cleaned path otherwise. It runs
// on the offered file name before any file handle is opened, since that
// name arrives from the peer.
func ValidatePath(path string) (string, error) {
	cleaned := filepath.Clean(path)
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return "", ErrDirectoryTraversal
		}
	}
	return cleaned, nil
}

// Start validates the path and opens the local file handle: for reading
// on an outgoing transfer, freshly created on an incoming one.
func (t *Transfer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State != TransferStatePending {
		return errors.New("transfer cannot be started in current state")
	}

	safePath, err := ValidatePath(t.FileName)
	if err != nil {
		t.failLocked(err)
		return err
	}
	t.FileName = safePath

	if t.Direction == TransferDirectionOutgoing {
		t.handle, err = os.Open(t.FileName)
	} else {
		t.handle, err = os.Create(t.FileName)
	}
	if err != nil {
		t.failLocked(err)
		return err
	}

	t.State = TransferStateRunning
	t.StartTime = t.timeProvider.Now()

	logrus.WithFields(logrus.Fields{
		"package":   "file",
		"file_name": t.FileName,
		"direction": t.Direction,
	}).Info("file transfer started")
	return nil
}

// Cancel aborts the transfer, closing the file handle. A completed,
// failed, or already-cancelled transfer cannot be cancelled again.
func (t *Transfer) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State == TransferStateCompleted || t.State == TransferStateCancelled || t.State == TransferStateFailed {
		return errors.New("transfer already finished")
	}

	t.closeHandleLocked()
	t.State = TransferStateCancelled

	if t.completeCallback != nil {
		t.completeCallback(errors.New("transfer cancelled"))
	}
	return nil
}

// WriteChunk appends one decrypted record's plaintext to an incoming
// transfer. Reaching the advertised file size completes the transfer
// and closes the handle.
func (t *Transfer) WriteChunk(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(data) > MaxChunkSize {
		return ErrChunkTooLarge
	}
	if t.Direction != TransferDirectionIncoming {
		return errors.New("cannot write to outgoing transfer")
	}
	if t.State != TransferStateRunning {
		return errors.New("transfer is not running")
	}

	if _, err := t.handle.Write(data); err != nil {
		t.failLocked(err)
		return err
	}

	t.advanceLocked(uint64(len(data)))
	if t.Transferred >= t.FileSize {
		t.completeLocked()
	}
	return nil
}

// ReadChunk reads the next plaintext chunk from an outgoing transfer.
// A short chunk is the last one; the transfer completes once the file
// is exhausted, and a zero-length final read returns io.EOF.
func (t *Transfer) ReadChunk(size int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if size > MaxChunkSize {
		return nil, ErrChunkTooLarge
	}
	if t.Direction != TransferDirectionOutgoing {
		return nil, errors.New("cannot read from incoming transfer")
	}
	if t.State == TransferStateCompleted {
		// The final short chunk already went out; the send loop polls
		// once more and must see a clean end of file.
		return nil, io.EOF
	}
	if t.State != TransferStateRunning {
		return nil, errors.New("transfer is not running")
	}

	chunk := make([]byte, size)
	n, err := io.ReadFull(t.handle, chunk)
	switch err {
	case nil:
		t.advanceLocked(uint64(n))
		return chunk[:n], nil
	case io.ErrUnexpectedEOF, io.EOF:
		if n > 0 {
			t.advanceLocked(uint64(n))
		}
		t.completeLocked()
		if n == 0 {
			return nil, io.EOF
		}
		return chunk[:n], nil
	default:
		t.failLocked(err)
		return nil, err
	}
}

// advanceLocked accounts for moved bytes: progress, speed estimate, and
// the stall clock.
func (t *Transfer) advanceLocked(n uint64) {
	t.Transferred += n
	t.updateSpeedLocked(n)
	if t.progressCallback != nil {
		t.progressCallback(t.Transferred)
	}
}

func (t *Transfer) completeLocked() {
	if t.State != TransferStateRunning {
		return
	}
	t.closeHandleLocked()
	t.State = TransferStateCompleted
	if t.completeCallback != nil {
		t.completeCallback(nil)
	}
}

func (t *Transfer) failLocked(err error) {
	t.closeHandleLocked()
	t.Err = err
	t.State = TransferStateFailed
	if t.completeCallback != nil {
		t.completeCallback(err)
	}
}

func (t *Transfer) closeHandleLocked() {
	if t.handle == nil {
		return
	}
	if err := t.handle.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"package":   "file",
			"file_name": t.FileName,
		}).WithError(err).Warn("failed to close transfer file handle")
	}
	t.handle = nil
}

// updateSpeedLocked folds one chunk into the exponential moving average
// with alpha = 0.3, smoothing per-chunk jitter without lagging far
// behind genuine rate changes.
func (t *Transfer) updateSpeedLocked(chunkSize uint64) {
	now := t.timeProvider.Now()
	duration := t.timeProvider.Since(t.lastChunkTime).Seconds()

	if duration > 0 {
		instant := float64(chunkSize) / duration
		if t.speed == 0 {
			t.speed = instant
		} else {
			t.speed = 0.7*t.speed + 0.3*instant
		}
	}
	t.lastChunkTime = now
}

// OnProgress sets the callback invoked with the cumulative byte count
// after each chunk moves.
func (t *Transfer) OnProgress(callback func(uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progressCallback = callback
}

// OnComplete sets the callback invoked once, when the transfer finishes
// (err == nil), fails, or is cancelled.
func (t *Transfer) OnComplete(callback func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completeCallback = callback
}

// GetProgress returns the transfer's progress as a percentage.
func (t *Transfer) GetProgress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FileSize == 0 {
		return 0.0
	}
	return float64(t.Transferred) / float64(t.FileSize) * 100.0
}

// GetSpeed returns the current transfer speed estimate in bytes per second.
func (t *Transfer) GetSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speed
}

// GetEstimatedTimeRemaining extrapolates the remaining bytes at the
// current speed estimate. Zero when the transfer is not running or no
// speed estimate exists yet.
func (t *Transfer) GetEstimatedTimeRemaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State != TransferStateRunning || t.speed <= 0 {
		return 0
	}
	remaining := float64(t.FileSize-t.Transferred) / t.speed
	return time.Duration(remaining * float64(time.Second))
}

// SetStallTimeout configures how long a running transfer may move no
// data before it is considered stalled. Zero disables stall detection.
func (t *Transfer) SetStallTimeout(timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stallTimeout = timeout
}

// GetStallTimeout returns the current stall timeout.
func (t *Transfer) GetStallTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stallTimeout
}

// IsStalled reports whether a running transfer has moved no data within
// the stall timeout. It never mutates state; use CheckTimeout to fail a
// stalled transfer.
func (t *Transfer) IsStalled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stallTimeout == 0 || t.State != TransferStateRunning {
		return false
	}
	return t.timeProvider.Since(t.lastChunkTime) >= t.stallTimeout
}

// CheckTimeout fails the transfer with ErrTransferStalled if it has
// moved no data within the stall timeout. Call it periodically while a
// peer-driven transfer is running so a peer gone dark mid-transfer does
// not hang the session forever.
func (t *Transfer) CheckTimeout() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stallTimeout == 0 || t.State != TransferStateRunning {
		return nil
	}

	since := t.timeProvider.Since(t.lastChunkTime)
	if since < t.stallTimeout {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"package":              "file",
		"file_name":            t.FileName,
		"stall_timeout":        t.stallTimeout,
		"time_since_last_data": since,
		"transferred":          t.Transferred,
		"file_size":            t.FileSize,
	}).Warn("transfer stalled")

	t.failLocked(ErrTransferStalled)
	return ErrTransferStalled
}

// GetTimeSinceLastChunk returns the duration since data last moved,
// for callers that monitor activity without wanting timeout handling.
func (t *Transfer) GetTimeSinceLastChunk() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeProvider.Since(t.lastChunkTime)
}
