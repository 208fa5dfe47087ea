package keymachine

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wormhole-go/proto"
)

func TestExtractPakeMessage(t *testing.T) {
	raw, err := hex.DecodeString("7b2270616b655f7631223a22353337363331646366643064336164386130346234663531643935336131343563386538626663373830646461393834373934656634666136656536306339663665227d")
	require.NoError(t, err)

	got, err := extractPakeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "537631dcfd0d3ad8a04b4f51d953a145c8e8bfc780dda984794ef4fa6ee60c9f6e", got)
}

func TestGotCodeThenGotPakeDerivesSameKeyOnBothSides(t *testing.T) {
	side1, side2 := proto.Side("aaaaaaaa"), proto.Side("bbbbbbbb")
	appID := proto.AppID("test-app")
	code := proto.Code("4-purple-sausages")

	alice := New(appID, side1)
	bob := New(appID, side2)

	aliceOut, err := alice.GotCode(code)
	require.NoError(t, err)
	require.Len(t, aliceOut.AddMessages, 1)
	require.Nil(t, aliceOut.Key)

	bobOut, err := bob.GotCode(code)
	require.NoError(t, err)
	require.Len(t, bobOut.AddMessages, 1)

	aliceFinal, err := alice.GotPake(bobOut.AddMessages[0].Body)
	require.NoError(t, err)
	require.NotNil(t, aliceFinal.Key)

	bobFinal, err := bob.GotPake(aliceOut.AddMessages[0].Body)
	require.NoError(t, err)
	require.NotNil(t, bobFinal.Key)

	assert.Equal(t, *aliceFinal.Key, *bobFinal.Key)
}

func TestGotPakeBeforeGotCode(t *testing.T) {
	side1, side2 := proto.Side("aaaaaaaa"), proto.Side("bbbbbbbb")
	appID := proto.AppID("test-app")
	code := proto.Code("4-purple-sausages")

	alice := New(appID, side1)
	bob := New(appID, side2)

	bobOut, err := bob.GotCode(code)
	require.NoError(t, err)

	out, err := alice.GotPake(bobOut.AddMessages[0].Body)
	require.NoError(t, err)
	assert.Empty(t, out.AddMessages)
	assert.Nil(t, out.Key)

	aliceOut, err := alice.GotCode(code)
	require.NoError(t, err)
	require.Len(t, aliceOut.AddMessages, 2)
	assert.Equal(t, proto.PhasePake, aliceOut.AddMessages[0].Phase)
	assert.Equal(t, proto.PhaseVersion, aliceOut.AddMessages[1].Phase)
	require.NotNil(t, aliceOut.Key)

	bobFinal, err := bob.GotPake(aliceOut.AddMessages[0].Body)
	require.NoError(t, err)
	require.NotNil(t, bobFinal.Key)
	assert.Equal(t, *aliceOut.Key, *bobFinal.Key)
}

func TestGotCodeTwiceIsAnError(t *testing.T) {
	m := New(proto.AppID("app"), proto.Side("side1"))
	_, err := m.GotCode("code")
	require.NoError(t, err)

	_, err = m.GotCode("code")
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}
