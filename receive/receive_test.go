package receive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wormhole-go/crypto"
	"github.com/opd-ai/wormhole-go/proto"
)

func sealPhase(t *testing.T, side proto.Side, key crypto.Key, phase proto.Phase, plaintext []byte) []byte {
	t.Helper()
	dataKey := crypto.DerivePhaseKey(string(side), key, string(phase))
	_, blob := crypto.EncryptData(dataKey, plaintext)
	return blob
}

func TestGotMessageVerifiesAndSurfacesPlaintext(t *testing.T) {
	var key crypto.Key
	copy(key[:], []byte("shared-session-key"))

	m := New()
	_, err := m.GotKey(key)
	require.NoError(t, err)

	body := sealPhase(t, "theirside", key, proto.PhaseVersion, []byte(`{"app_versions":{}}`))
	out, err := m.GotMessage(proto.InboundMessage{Side: "theirside", Phase: proto.PhaseVersion, Body: body})
	require.NoError(t, err)

	require.NotNil(t, out.GotVerifiedKeyFor)
	assert.True(t, out.Happy)
	require.Len(t, out.API, 2)
	assert.IsType(t, proto.GotVerifier{}, out.API[0])
	assert.Equal(t, proto.GotMessage{Body: []byte(`{"app_versions":{}}`)}, out.API[1])
}

func TestTamperedCiphertextScaresReceiveMachine(t *testing.T) {
	var key crypto.Key
	copy(key[:], []byte("shared-session-key"))

	m := New()
	_, err := m.GotKey(key)
	require.NoError(t, err)

	body := sealPhase(t, "theirside", key, proto.PhaseVersion, []byte(`{"app_versions":{}}`))
	body[len(body)-1] ^= 0xff

	out, err := m.GotMessage(proto.InboundMessage{Side: "theirside", Phase: proto.PhaseVersion, Body: body})
	require.NoError(t, err)
	assert.Empty(t, out.API)
	assert.Equal(t, scared, m.state)

	out, err = m.GotMessage(proto.InboundMessage{Side: "theirside", Phase: "0", Body: []byte("anything")})
	require.NoError(t, err)
	assert.Empty(t, out.API, "messages are silently dropped once scared")
}

func TestSecondPhaseAfterVerificationSurfacesPlaintextOnly(t *testing.T) {
	var key crypto.Key
	copy(key[:], []byte("shared-session-key"))

	m := New()
	_, err := m.GotKey(key)
	require.NoError(t, err)

	versionBody := sealPhase(t, "theirside", key, proto.PhaseVersion, []byte(`{"app_versions":{}}`))
	_, err = m.GotMessage(proto.InboundMessage{Side: "theirside", Phase: proto.PhaseVersion, Body: versionBody})
	require.NoError(t, err)

	appBody := sealPhase(t, "theirside", key, "0", []byte("hi"))
	out, err := m.GotMessage(proto.InboundMessage{Side: "theirside", Phase: "0", Body: appBody})
	require.NoError(t, err)
	require.Len(t, out.API, 1)
	assert.Equal(t, proto.GotMessage{Body: []byte("hi")}, out.API[0])
	assert.Nil(t, out.GotVerifiedKeyFor)
}

func TestGotKeyTwiceIsAnError(t *testing.T) {
	var key crypto.Key
	m := New()
	_, err := m.GotKey(key)
	require.NoError(t, err)

	_, err = m.GotKey(key)
	assert.ErrorIs(t, err, ErrAlreadyKeyed)
}
