package transit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wormhole-go/proto"
)

func TestMessageEncodesAbilitiesAndMixedHints(t *testing.T) {
	msg := Message{
		Abilities: proto.DefaultAbilities(),
		Hints: []proto.Hint{
			{Direct: &proto.DirectTcp{Priority: 0.5, Hostname: "192.168.1.8", Port: 45677}},
			{Relay: &proto.Relay{Hints: []proto.DirectTcp{
				{Hostname: "relay.example.org", Port: 4001},
			}}},
		},
	}

	body, err := msg.Encode()
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &wire))

	abilities := wire["abilities"].([]interface{})
	require.Len(t, abilities, 2)
	assert.Equal(t, "direct-tcp-v1", abilities[0].(map[string]interface{})["type"])
	assert.Equal(t, "relay-v1", abilities[1].(map[string]interface{})["type"])

	hints := wire["hints-v1"].([]interface{})
	require.Len(t, hints, 2)

	direct := hints[0].(map[string]interface{})
	assert.Equal(t, "direct-tcp-v1", direct["type"])
	assert.Equal(t, "192.168.1.8", direct["hostname"])
	assert.Equal(t, float64(45677), direct["port"])
	assert.Equal(t, 0.5, direct["priority"])

	relay := hints[1].(map[string]interface{})
	assert.Equal(t, "relay-v1", relay["type"])
	sub := relay["hints"].([]interface{})
	require.Len(t, sub, 1)
	assert.Equal(t, "relay.example.org", sub[0].(map[string]interface{})["hostname"])
}

func TestDecodeMessageRoundTrip(t *testing.T) {
	orig := Message{
		Abilities: proto.DefaultAbilities(),
		Hints: []proto.Hint{
			{Direct: &proto.DirectTcp{Hostname: "10.0.0.3", Port: 9000}},
			{Relay: &proto.Relay{Hints: []proto.DirectTcp{{Hostname: "relay.test", Port: 4001}}}},
		},
	}
	body, err := orig.Encode()
	require.NoError(t, err)

	got, err := DecodeMessage(body)
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestDecodeMessageRejectsUnknownHintType(t *testing.T) {
	body := []byte(`{"abilities":[{"type":"direct-tcp-v1"}],"hints-v1":[{"type":"carrier-pigeon-v1"}]}`)
	_, err := DecodeMessage(body)
	assert.Error(t, err)
}

func TestOfferWireFormat(t *testing.T) {
	body, err := OfferMessage{Filename: "sausages.txt", Filesize: 10}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"offer":{"file":{"filename":"sausages.txt","filesize":10}}}`, string(body))

	offer, err := DecodeOffer(body)
	require.NoError(t, err)
	assert.Equal(t, OfferMessage{Filename: "sausages.txt", Filesize: 10}, offer)
}

func TestAnswerWireFormat(t *testing.T) {
	body, err := AnswerMessage{FileAck: "ok"}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":{"file_ack":"ok"}}`, string(body))

	answer, err := DecodeAnswer(body)
	require.NoError(t, err)
	assert.Equal(t, "ok", answer.FileAck)
}

func TestCandidateAddrsOrdersDirectBeforeRelay(t *testing.T) {
	peer := Message{Hints: []proto.Hint{
		{Relay: &proto.Relay{Hints: []proto.DirectTcp{{Hostname: "relay.test", Port: 4001}}}},
		{Direct: &proto.DirectTcp{Hostname: "10.0.0.3", Port: 9000}},
		{Direct: &proto.DirectTcp{Hostname: "10.0.0.4", Port: 9001}},
	}}

	addrs := candidateAddrs(peer)
	assert.Equal(t, []string{"10.0.0.3:9000", "10.0.0.4:9001", "relay.test:4001"}, addrs)
}
