package transit

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/opd-ai/wormhole-go/crypto"
	"github.com/opd-ai/wormhole-go/file"
	"golang.org/x/crypto/nacl/secretbox"
)

// nonceCounter tracks an explicit little-endian nonce that increments
// by one per record. The record stream uses counter nonces, not the
// random nonces phase messages use; the explicit serialization keeps
// the wire format independent of host endianness.
type nonceCounter struct {
	n uint64
}

func (c *nonceCounter) next() [crypto.NonceSize]byte {
	var nonce [crypto.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[:8], c.n)
	c.n++
	return nonce
}

// encryptRecord seals plaintext under key with the given explicit
// nonce and prepends the nonce to the ciphertext.
func encryptRecord(key [crypto.SecretBoxKeySize]byte, nonce [crypto.NonceSize]byte, plaintext []byte) []byte {
	sealed := secretbox.Seal(nil, plaintext, &nonce, &key)
	out := make([]byte, 0, crypto.NonceSize+len(sealed))
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	return out
}

// decryptRecord splits a record into its leading nonce and ciphertext and
// opens it under key.
func decryptRecord(key [crypto.SecretBoxKeySize]byte, record []byte) ([]byte, error) {
	if len(record) < crypto.NonceSize {
		return nil, fmt.Errorf("transit: record too short")
	}
	var nonce [crypto.NonceSize]byte
	copy(nonce[:], record[:crypto.NonceSize])
	plaintext, ok := secretbox.Open(nil, record[crypto.NonceSize:], &nonce, &key)
	if !ok {
		return nil, crypto.ErrDecryptionFailed
	}
	return plaintext, nil
}

// writeRecord frames one record with its 4-byte big-endian length prefix.
func writeRecord(w io.Writer, record []byte) error {
	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(record)))
	if _, err := w.Write(lengthPrefix[:]); err != nil {
		return fmt.Errorf("transit: write record length: %w", err)
	}
	if _, err := w.Write(record); err != nil {
		return fmt.Errorf("transit: write record body: %w", err)
	}
	return nil
}

// readRecord reads one length-prefixed record.
func readRecord(r io.Reader) ([]byte, error) {
	var lengthPrefix [4]byte
	if err := readExact(r, lengthPrefix[:]); err != nil {
		return nil, fmt.Errorf("transit: read record length: %w", err)
	}
	length := binary.BigEndian.Uint32(lengthPrefix[:])
	record := make([]byte, length)
	if err := readExact(r, record); err != nil {
		return nil, fmt.Errorf("transit: read record body: %w", err)
	}
	return record, nil
}

// sendRecords drains transfer in file.ChunkSize plaintext chunks, sealing
// and framing each one onto w with a monotonically incrementing nonce, and
// returns the SHA-256 of everything sent once the transfer completes.
func sendRecords(w io.Writer, transfer *file.Transfer, senderKey [crypto.SecretBoxKeySize]byte) (string, error) {
	hasher := sha256.New()
	counter := &nonceCounter{}

	for {
		chunk, err := transfer.ReadChunk(file.ChunkSize)
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", fmt.Errorf("transit: read chunk: %w", err)
		}
		if len(chunk) == 0 {
			break
		}

		hasher.Write(chunk)
		record := encryptRecord(senderKey, counter.next(), chunk)
		if err := writeRecord(w, record); err != nil {
			return "", err
		}
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// receiveRecords reads framed records from r until transfer reports its
// full file size has been written, decrypting each one with an
// incrementing nonce and feeding the plaintext to transfer. The file
// data always travels under the sender-direction key; only the
// transit-ack uses the receiver-direction key. It returns the SHA-256
// of everything received.
func receiveRecords(r io.Reader, transfer *file.Transfer, senderKey [crypto.SecretBoxKeySize]byte) (string, error) {
	hasher := sha256.New()
	counter := &nonceCounter{}

	for transfer.Transferred < transfer.FileSize {
		record, err := readRecord(r)
		if err != nil {
			return "", err
		}

		wantNonce := counter.next()
		if len(record) < crypto.NonceSize {
			return "", fmt.Errorf("transit: record too short")
		}
		var gotNonce [crypto.NonceSize]byte
		copy(gotNonce[:], record[:crypto.NonceSize])
		if gotNonce != wantNonce {
			return "", fmt.Errorf("transit: unexpected record nonce")
		}

		plaintext, err := decryptRecord(senderKey, record)
		if err != nil {
			return "", err
		}

		hasher.Write(plaintext)
		if err := transfer.WriteChunk(plaintext); err != nil {
			return "", fmt.Errorf("transit: write chunk: %w", err)
		}
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// sendTransitAck seals a transit-ack record with the all-zero nonce under
// the receiver-direction key, the only record that ever reuses nonce 0:
// it is the sole message sent in that direction and never collides with
// the file data's sender-direction counter.
func sendTransitAck(w io.Writer, receiverKey [crypto.SecretBoxKeySize]byte, sha256Hex string) error {
	body, err := TransitAckMessage{Ack: "ok", SHA256: sha256Hex}.Encode()
	if err != nil {
		return err
	}
	var zeroNonce [crypto.NonceSize]byte
	record := encryptRecord(receiverKey, zeroNonce, body)
	return writeRecord(w, record)
}

// readTransitAck reads and decrypts the receiver-direction transit-ack
// record following a completed send.
func readTransitAck(r io.Reader, receiverKey [crypto.SecretBoxKeySize]byte) (TransitAckMessage, error) {
	record, err := readRecord(r)
	if err != nil {
		return TransitAckMessage{}, err
	}
	plaintext, err := decryptRecord(receiverKey, record)
	if err != nil {
		return TransitAckMessage{}, err
	}
	return DecodeTransitAck(plaintext)
}
