package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wormhole-go/proto"
)

func TestReconnectReplaysPendingSend(t *testing.T) {
	m := New(proto.Side("myside1"))

	_, err := m.AddMessage("0", []byte("hi"))
	require.NoError(t, err)

	out, err := m.Connected()
	require.NoError(t, err)
	require.Empty(t, out.RC, "nothing to flush before the mailbox id is known")

	_, err = m.Lost()
	require.NoError(t, err)

	out, err = m.GotMailbox("mb1")
	require.NoError(t, err)
	require.Empty(t, out.RC, "disconnected: GotMailbox must not flush yet")

	out, err = m.Connected()
	require.NoError(t, err)
	require.Len(t, out.RC, 2)
	assert.Equal(t, proto.TxOpen{Mailbox: "mb1"}, out.RC[0])
	assert.Equal(t, proto.TxAdd{Phase: "0", Body: []byte("hi")}, out.RC[1])
}

func TestDuplicateInboundSurfacedOnce(t *testing.T) {
	m := New(proto.Side("myside1"))
	_, err := m.GotMailbox("mb1")
	require.NoError(t, err)
	_, err = m.Connected()
	require.NoError(t, err)

	msg := proto.InboundMessage{Side: "theirside", Phase: "1", Body: []byte("payload")}

	out, err := m.RxMessage(msg)
	require.NoError(t, err)
	require.Len(t, out.ToReceive, 1)
	require.Len(t, out.Nameplate, 1)

	out, err = m.RxMessage(msg)
	require.NoError(t, err)
	assert.Empty(t, out.ToReceive, "second delivery of the same phase must not be surfaced again")
	assert.Len(t, out.Nameplate, 1, "release is still emitted for an already-processed phase")
}

func TestOwnEchoRemovesFromOutboundQueue(t *testing.T) {
	m := New(proto.Side("myside1"))
	_, err := m.GotMailbox("mb1")
	require.NoError(t, err)
	_, err = m.Connected()
	require.NoError(t, err)

	_, err = m.AddMessage("0", []byte("hi"))
	require.NoError(t, err)
	assert.Contains(t, m.outbound, proto.Phase("0"))

	out, err := m.RxMessage(proto.InboundMessage{Side: "myside1", Phase: "0", Body: []byte("hi")})
	require.NoError(t, err)
	assert.Empty(t, out.ToReceive)
	assert.NotContains(t, m.outbound, proto.Phase("0"))
}

func TestCloseFromConnectedEmitsTxClose(t *testing.T) {
	m := New(proto.Side("myside1"))
	_, err := m.GotMailbox("mb1")
	require.NoError(t, err)
	_, err = m.Connected()
	require.NoError(t, err)

	out, err := m.Close(proto.MoodHappy)
	require.NoError(t, err)
	require.Len(t, out.RC, 1)
	assert.Equal(t, proto.TxClose{Mood: proto.MoodHappy}, out.RC[0])

	out, err = m.RxClosed()
	require.NoError(t, err)
	assert.True(t, out.MailboxDone)
}

func TestImpossibleEventIsInvariantViolation(t *testing.T) {
	m := New(proto.Side("myside1"))

	_, err := m.Lost()
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestSecondCloseInS3BReaffirmsWithoutOverridingMood(t *testing.T) {
	m := New(proto.Side("myside1"))
	_, err := m.GotMailbox("mb1")
	require.NoError(t, err)
	_, err = m.Connected()
	require.NoError(t, err)

	_, err = m.Close(proto.MoodHappy)
	require.NoError(t, err)

	out, err := m.Close(proto.MoodErrory)
	require.NoError(t, err)
	assert.Empty(t, out.RC)
	assert.Equal(t, proto.MoodHappy, m.mood)
}
