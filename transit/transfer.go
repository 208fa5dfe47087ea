package transit

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wormhole-go/crypto"
	"github.com/opd-ai/wormhole-go/file"
)

// ErrAckMismatch is returned by SendFile when the peer's transit-ack
// carries a SHA-256 that does not match the plaintext we sent. The file
// arrived corrupted or truncated and the transfer has failed. SendFile
// only returns this error: it does not close the rendezvous session or
// record a mood, and nothing in package wormhole acts on it.
var ErrAckMismatch = errors.New("transit: transit-ack sha256 does not match sent file")

// SendFile streams the outgoing transfer over conn as encrypted records,
// then waits for the receiver's transit-ack and verifies its SHA-256
// against the plaintext digest we computed while sending. conn must
// already have completed SenderHandshake.
func SendFile(conn io.ReadWriter, transitKey [crypto.SecretBoxKeySize]byte, transfer *file.Transfer) error {
	senderKey, receiverKey := crypto.RecordKeys(transitKey)

	digest, err := sendRecords(conn, transfer, senderKey)
	if err != nil {
		return err
	}

	ack, err := readTransitAck(conn, receiverKey)
	if err != nil {
		return err
	}
	if ack.Ack != "ok" {
		return fmt.Errorf("transit: peer rejected transfer: ack=%q", ack.Ack)
	}
	if ack.SHA256 != digest {
		logrus.WithFields(logrus.Fields{
			"package":  "transit",
			"sent":     digest,
			"received": ack.SHA256,
		}).Error("transit-ack digest mismatch")
		return ErrAckMismatch
	}

	logrus.WithFields(logrus.Fields{
		"package":   "transit",
		"file_name": transfer.FileName,
		"sha256":    digest,
	}).Info("file sent and acknowledged")
	return nil
}

// ReceiveFile reads encrypted records from conn into the incoming
// transfer until the advertised file size has arrived, then sends the
// transit-ack carrying the SHA-256 of the received plaintext. conn must
// already have completed ReceiverHandshake.
func ReceiveFile(conn io.ReadWriter, transitKey [crypto.SecretBoxKeySize]byte, transfer *file.Transfer) error {
	senderKey, receiverKey := crypto.RecordKeys(transitKey)

	digest, err := receiveRecords(conn, transfer, senderKey)
	if err != nil {
		return err
	}

	if err := sendTransitAck(conn, receiverKey, digest); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"package":   "transit",
		"file_name": transfer.FileName,
		"sha256":    digest,
	}).Info("file received and acknowledged")
	return nil
}
