package transit

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/opd-ai/wormhole-go/crypto"
)

// handshakeSubKey derives the per-connection sub-key mixed into the
// handshake greeting, binding it to the transit key without ever
// putting the transit key itself on the wire.
func handshakeSubKey(transitKey [crypto.SecretBoxKeySize]byte, purpose string) []byte {
	return crypto.DeriveKey(transitKey[:], []byte(purpose), 32)
}

func senderHandshakeLine(transitKey [crypto.SecretBoxKeySize]byte) string {
	sub := handshakeSubKey(transitKey, "transit_sender")
	return fmt.Sprintf("transit sender %s ready\n\n", hex.EncodeToString(sub))
}

func receiverHandshakeLine(transitKey [crypto.SecretBoxKeySize]byte) string {
	sub := handshakeSubKey(transitKey, "transit_receiver")
	return fmt.Sprintf("transit receiver %s ready\n\n", hex.EncodeToString(sub))
}

func relayHandshakeLine(transitKey [crypto.SecretBoxKeySize]byte, side string) string {
	sub := handshakeSubKey(transitKey, "transit_relay_token")
	return fmt.Sprintf("please relay %s for side %s\n", hex.EncodeToString(sub), side)
}

const goLine = "go\n"

// readExact reads exactly len(buf) bytes, returning an error on short read.
func readExact(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// senderHandshake performs the transit handshake as the sending side: send
// our ready line, read the peer's ready line, confirm it matches the
// receiver line we expect, then send "go\n". r and w must share
// the same underlying connection; callers that already wrapped the
// connection in a *bufio.Reader (e.g. after a relay prelude) pass that
// reader through so no buffered bytes are lost.
func senderHandshake(r io.Reader, w io.Writer, transitKey [crypto.SecretBoxKeySize]byte) error {
	want := receiverHandshakeLine(transitKey)
	if _, err := io.WriteString(w, senderHandshakeLine(transitKey)); err != nil {
		return fmt.Errorf("transit: write sender handshake: %w", err)
	}

	got := make([]byte, len(want))
	if err := readExact(r, got); err != nil {
		return fmt.Errorf("transit: read receiver handshake: %w", err)
	}
	if string(got) != want {
		return fmt.Errorf("transit: handshake mismatch")
	}

	if _, err := io.WriteString(w, goLine); err != nil {
		return fmt.Errorf("transit: write go line: %w", err)
	}
	return nil
}

// receiverHandshake performs the transit handshake as the receiving side:
// send our ready line, then read the peer's ready line plus trailing
// "go\n" and confirm both match what we expect.
func receiverHandshake(r io.Reader, w io.Writer, transitKey [crypto.SecretBoxKeySize]byte) error {
	want := senderHandshakeLine(transitKey) + goLine
	if _, err := io.WriteString(w, receiverHandshakeLine(transitKey)); err != nil {
		return fmt.Errorf("transit: write receiver handshake: %w", err)
	}

	got := make([]byte, len(want))
	if err := readExact(r, got); err != nil {
		return fmt.Errorf("transit: read sender handshake: %w", err)
	}
	if string(got) != want {
		return fmt.Errorf("transit: handshake mismatch")
	}
	return nil
}

// relayHandshake speaks the relay prelude: announce the side and token,
// then wait for the relay's "ok\n" acknowledgement before proceeding to
// the regular sender/receiver handshake over the same connection. The
// caller must keep reading through reader afterwards; it may have
// buffered bytes past the ack line.
func relayHandshake(reader *bufio.Reader, w io.Writer, transitKey [crypto.SecretBoxKeySize]byte, side string) error {
	if _, err := io.WriteString(w, relayHandshakeLine(transitKey, side)); err != nil {
		return fmt.Errorf("transit: write relay handshake: %w", err)
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("transit: read relay ack: %w", err)
	}
	if line != "ok\n" {
		return fmt.Errorf("transit: relay refused: %q", line)
	}
	return nil
}
