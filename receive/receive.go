package receive

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wormhole-go/crypto"
	"github.com/opd-ai/wormhole-go/proto"
)

// ErrAlreadyKeyed is returned when GotKey is delivered to a state that
// already has a key. The key machine emits GotKey at most once per
// session; a second delivery is a host bug.
var ErrAlreadyKeyed = errors.New("receive: key delivered to an already-keyed state")

type kind int

const (
	unknownKey kind = iota
	unverifiedKey
	verifiedKey
	scared
)

// Machine is the receive state machine. Not safe for concurrent
// use; the host runtime must serialize calls.
type Machine struct {
	state kind
	key   crypto.Key
}

// New creates a receive machine in state UnknownKey.
func New() *Machine {
	return &Machine{state: unknownKey}
}

// Output carries what one event produced for the upward API and, once,
// the verified-key notification for the send side.
type Output struct {
	API               []proto.APIAction
	GotVerifiedKeyFor *crypto.Key
	Happy             bool
	// Scared reports a decrypt failure that moved the machine to its
	// terminal Scared state. The orchestration layer that owns this
	// machine is expected to close the session with mood "scary" when
	// it sees this set.
	Scared bool
}

func (o *Output) api(a proto.APIAction) { o.API = append(o.API, a) }

// GotKey delivers the session key once the key machine completes the
// PAKE. It transitions UnknownKey -> UnverifiedKey(K) and surfaces
// GotUnverifiedKey on the API.
func (m *Machine) GotKey(key crypto.Key) (Output, error) {
	var out Output
	if m.state != unknownKey {
		return out, ErrAlreadyKeyed
	}
	m.state = unverifiedKey
	m.key = key
	out.api(proto.GotUnverifiedKey{Key: key})
	return out, nil
}

// GotMessage delivers one inbound phase message for decryption. In
// UnverifiedKey, a successful decrypt promotes the machine to
// VerifiedKey and additionally emits the verified-key, happy-mood, and
// verifier notifications (in that order) ahead of the plaintext; in
// VerifiedKey only the plaintext is surfaced. Any decrypt failure in
// either state is fatal and moves the machine to Scared. In Scared,
// messages are silently dropped.
func (m *Machine) GotMessage(msg proto.InboundMessage) (Output, error) {
	var out Output

	switch m.state {
	case unknownKey:
		return out, errors.New("receive: message delivered before key is known")

	case scared:
		return out, nil

	case unverifiedKey, verifiedKey:
		dataKey := crypto.DerivePhaseKey(string(msg.Side), m.key, string(msg.Phase))
		plaintext, err := crypto.DecryptData(dataKey, msg.Body)
		if err != nil {
			m.state = scared
			out.Scared = true
			logrus.WithFields(logrus.Fields{
				"package": "receive",
				"phase":   msg.Phase,
			}).Warn("phase message failed authentication, session scared")
			return out, nil
		}

		if m.state == unverifiedKey {
			m.state = verifiedKey
			key := m.key
			out.GotVerifiedKeyFor = &key
			out.Happy = true
			out.api(proto.GotVerifier{Verifier: verifierArray(m.key)})
		}
		out.api(proto.GotMessage{Body: plaintext})
		return out, nil
	}

	return out, nil
}

func verifierArray(key crypto.Key) [32]byte {
	var v [32]byte
	copy(v[:], crypto.DeriveVerifier(key))
	return v
}
