package file

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestOutgoingTransferDrainsFileInChunks(t *testing.T) {
	content := bytes.Repeat([]byte("wormhole"), 1024) // 8192 bytes, two full chunks
	path := writeTempFile(t, content)

	transfer, err := NewTransfer(path, uint64(len(content)), TransferDirectionOutgoing)
	require.NoError(t, err)
	require.NoError(t, transfer.Start())

	var drained []byte
	for {
		chunk, err := transfer.ReadChunk(ChunkSize)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		drained = append(drained, chunk...)
	}

	assert.Equal(t, content, drained)
	assert.Equal(t, TransferStateCompleted, transfer.State)
}

func TestOutgoingTransferCompletesOnShortFinalChunk(t *testing.T) {
	content := bytes.Repeat([]byte("x"), ChunkSize+10)
	path := writeTempFile(t, content)

	transfer, err := NewTransfer(path, uint64(len(content)), TransferDirectionOutgoing)
	require.NoError(t, err)
	require.NoError(t, transfer.Start())

	first, err := transfer.ReadChunk(ChunkSize)
	require.NoError(t, err)
	assert.Len(t, first, ChunkSize)
	assert.Equal(t, TransferStateRunning, transfer.State)

	last, err := transfer.ReadChunk(ChunkSize)
	require.NoError(t, err)
	assert.Len(t, last, 10)
	assert.Equal(t, TransferStateCompleted, transfer.State)
}

func TestIncomingTransferWritesAndCompletesAtAdvertisedSize(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "received.bin")
	content := []byte("ten bytes!")

	transfer, err := NewTransfer(dest, uint64(len(content)), TransferDirectionIncoming)
	require.NoError(t, err)
	require.NoError(t, transfer.Start())

	var completed error
	done := false
	transfer.OnComplete(func(err error) { completed, done = err, true })

	require.NoError(t, transfer.WriteChunk(content[:4]))
	assert.False(t, done)
	require.NoError(t, transfer.WriteChunk(content[4:]))

	assert.True(t, done)
	assert.NoError(t, completed)
	assert.Equal(t, TransferStateCompleted, transfer.State)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestProgressCallbackReportsCumulativeBytes(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "received.bin")
	transfer, err := NewTransfer(dest, 8, TransferDirectionIncoming)
	require.NoError(t, err)
	require.NoError(t, transfer.Start())

	var seen []uint64
	transfer.OnProgress(func(n uint64) { seen = append(seen, n) })

	require.NoError(t, transfer.WriteChunk([]byte("abcd")))
	require.NoError(t, transfer.WriteChunk([]byte("efgh")))
	assert.Equal(t, []uint64{4, 8}, seen)
	assert.InDelta(t, 100.0, transfer.GetProgress(), 0.001)
}

func TestWriteChunkRejectsOversizedChunk(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "received.bin")
	transfer, err := NewTransfer(dest, MaxChunkSize*2, TransferDirectionIncoming)
	require.NoError(t, err)
	require.NoError(t, transfer.Start())

	err = transfer.WriteChunk(make([]byte, MaxChunkSize+1))
	assert.ErrorIs(t, err, ErrChunkTooLarge)
}

func TestDirectionMismatchIsRejected(t *testing.T) {
	path := writeTempFile(t, []byte("data"))

	out, err := NewTransfer(path, 4, TransferDirectionOutgoing)
	require.NoError(t, err)
	require.NoError(t, out.Start())
	assert.Error(t, out.WriteChunk([]byte("x")))

	in, err := NewTransfer(filepath.Join(t.TempDir(), "f"), 4, TransferDirectionIncoming)
	require.NoError(t, err)
	require.NoError(t, in.Start())
	_, err = in.ReadChunk(ChunkSize)
	assert.Error(t, err)
}

func TestStartRejectsTraversalPath(t *testing.T) {
	transfer, err := NewTransfer("../../etc/passwd", 4, TransferDirectionIncoming)
	require.NoError(t, err)

	err = transfer.Start()
	assert.ErrorIs(t, err, ErrDirectoryTraversal)
	assert.Equal(t, TransferStateFailed, transfer.State)
}

func TestValidatePath(t *testing.T) {
	_, err := ValidatePath("../secret")
	assert.ErrorIs(t, err, ErrDirectoryTraversal)

	_, err = ValidatePath("nested/../../secret")
	assert.ErrorIs(t, err, ErrDirectoryTraversal)

	cleaned, err := ValidatePath("subdir/./payload.bin")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("subdir", "payload.bin"), cleaned)
}

func TestNewTransferRejectsOverlongName(t *testing.T) {
	long := bytes.Repeat([]byte("a"), MaxFileNameLength+1)
	_, err := NewTransfer(string(long), 4, TransferDirectionIncoming)
	assert.ErrorIs(t, err, ErrFileNameTooLong)
}

func TestCancelClosesRunningTransfer(t *testing.T) {
	path := writeTempFile(t, []byte("data"))
	transfer, err := NewTransfer(path, 4, TransferDirectionOutgoing)
	require.NoError(t, err)
	require.NoError(t, transfer.Start())

	var completed error
	transfer.OnComplete(func(err error) { completed = err })

	require.NoError(t, transfer.Cancel())
	assert.Equal(t, TransferStateCancelled, transfer.State)
	assert.Error(t, completed)

	assert.Error(t, transfer.Cancel(), "a cancelled transfer cannot be cancelled again")
}

func TestStartRejectsNonPendingTransfer(t *testing.T) {
	path := writeTempFile(t, []byte("data"))
	transfer, err := NewTransfer(path, 4, TransferDirectionOutgoing)
	require.NoError(t, err)
	require.NoError(t, transfer.Start())
	assert.Error(t, transfer.Start())
}
