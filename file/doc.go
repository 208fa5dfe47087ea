// Package file tracks the state of the one file transfer a wormhole
// session carries: progress, transfer speed, stall detection, and
// completion. It owns the local file handle; the transit package drives
// it by feeding or draining plaintext chunks as records arrive on or
// leave the wire.
//
// # Overview
//
// A Transfer is created once sender and receiver have agreed on a file
// name and size over the mailbox channel, and is driven entirely by the
// transit record stream:
//
//	transfer, err := file.NewTransfer(fileName, fileSize, file.TransferDirectionOutgoing)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	transfer.OnProgress(func(sent uint64) {
//	    fmt.Printf("Progress: %.2f%%\n", float64(sent)/float64(fileSize)*100)
//	})
//	if err := transfer.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Chunked Transfer
//
// Plaintext moves in chunks sized to match one transit record:
//
//	// The receiving side of the transit stream writes decrypted records:
//	err := transfer.WriteChunk(data)
//
//	// The sending side reads the next plaintext chunk to encrypt and send:
//	chunk, err := transfer.ReadChunk(file.ChunkSize)
//
// A short final chunk marks end of file on the wire; WriteChunk
// completes the incoming side once the advertised size has arrived.
//
// # Security
//
// The offered file name arrives from the peer, so it is checked for
// directory traversal before any file handle is opened, and oversized
// chunks are rejected with ErrChunkTooLarge before they reach the file
// handle, bounding memory use regardless of what a misbehaving peer
// claims over transit.
//
// # Stall Detection
//
// A running transfer that moves no data for StallTimeout (default 30s)
// is considered stalled. CheckTimeout fails it with ErrTransferStalled
// so the caller can abort rather than wait forever on a peer that has
// gone dark mid-transfer:
//
//	transfer.SetStallTimeout(15 * time.Second)
//	if err := transfer.CheckTimeout(); err != nil {
//	    // err == file.ErrTransferStalled
//	}
//
// For reproducible stall scenarios in tests, inject a TimeProvider with
// SetTimeProvider.
//
// # Progress Tracking
//
//	transfer.OnProgress(func(transferred uint64) {
//	    // called after each chunk
//	})
//	transfer.OnComplete(func(err error) {
//	    // called once, on success (err == nil), failure, or cancellation
//	})
//
//	fmt.Printf("%.1f%% at %.0f B/s, eta %s\n",
//	    transfer.GetProgress(), transfer.GetSpeed(), transfer.GetEstimatedTimeRemaining())
//
// # Thread Safety
//
// Transfer methods use a sync.Mutex for concurrent access safety.
// Callbacks are invoked synchronously while that mutex is held; a
// callback must not call back into the Transfer, and long-running work
// belongs in a separate goroutine.
package file
