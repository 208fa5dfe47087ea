package transit

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wormhole-go/crypto"
)

// tcpPair returns both ends of a loopback TCP connection, so handshake
// tests exercise real socket buffering instead of net.Pipe's lockstep
// writes.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-accepted
	t.Cleanup(func() { client.Close(); server.Close() })
	return client, server
}

func TestHandshakeLineFormats(t *testing.T) {
	key := testKey(7)

	sender := senderHandshakeLine(key)
	assert.True(t, strings.HasPrefix(sender, "transit sender "))
	assert.True(t, strings.HasSuffix(sender, " ready\n\n"))

	receiver := receiverHandshakeLine(key)
	assert.True(t, strings.HasPrefix(receiver, "transit receiver "))
	assert.True(t, strings.HasSuffix(receiver, " ready\n\n"))

	// The embedded token is the hex of a 32-byte derivation from the
	// transit key, so both lines carry 64 hex digits.
	senderToken := strings.TrimSuffix(strings.TrimPrefix(sender, "transit sender "), " ready\n\n")
	_, err := hex.DecodeString(senderToken)
	require.NoError(t, err)
	assert.Len(t, senderToken, 64)

	wantToken := hex.EncodeToString(crypto.DeriveKey(key[:], []byte("transit_sender"), 32))
	assert.Equal(t, wantToken, senderToken)
}

func TestRelayHandshakeLineFormat(t *testing.T) {
	key := testKey(7)
	line := relayHandshakeLine(key, "a1b2c3d4e5f60708")

	wantToken := hex.EncodeToString(crypto.DeriveKey(key[:], []byte("transit_relay_token"), 32))
	assert.Equal(t, fmt.Sprintf("please relay %s for side a1b2c3d4e5f60708\n", wantToken), line)
}

func TestSenderAndReceiverHandshakeComplete(t *testing.T) {
	key := testKey(8)
	senderConn, receiverConn := tcpPair(t)

	errs := make(chan error, 2)
	go func() { errs <- senderHandshake(senderConn, senderConn, key) }()
	go func() { errs <- receiverHandshake(receiverConn, receiverConn, key) }()

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
}

func TestHandshakeFailsAcrossMismatchedKeys(t *testing.T) {
	senderConn, receiverConn := tcpPair(t)

	senderErr := make(chan error, 1)
	go func() { senderErr <- senderHandshake(senderConn, senderConn, testKey(9)) }()
	go func() {
		// The receiver derives its line from a different transit key, so
		// the sender must reject the greeting.
		_ = receiverHandshake(receiverConn, receiverConn, testKey(10))
	}()

	assert.Error(t, <-senderErr)
}

func TestRelayHandshakeAcceptsOk(t *testing.T) {
	key := testKey(11)
	var sent bytes.Buffer
	reader := bufio.NewReader(strings.NewReader("ok\n"))

	require.NoError(t, relayHandshake(reader, &sent, key, "0011223344556677"))
	assert.True(t, strings.HasPrefix(sent.String(), "please relay "))
}

func TestRelayHandshakeRejectsRefusal(t *testing.T) {
	key := testKey(11)
	var sent bytes.Buffer
	reader := bufio.NewReader(strings.NewReader("no\n"))

	err := relayHandshake(reader, &sent, key, "0011223344556677")
	assert.Error(t, err)
}
