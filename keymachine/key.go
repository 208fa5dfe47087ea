package keymachine

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	spake2 "salsa.debian.org/vasudev/gospake2"
	_ "salsa.debian.org/vasudev/gospake2/ed25519group"

	"github.com/opd-ai/wormhole-go/crypto"
	"github.com/opd-ai/wormhole-go/proto"
)

// ErrAlreadyStarted is returned when GotCode or GotPake is delivered to a
// state that has already consumed that event. A re-entrant event here
// means the host runtime fed the machine something it already fed it, or
// the peer sent a duplicate PAKE message, either of which is a protocol
// or local bug, never a recoverable runtime condition.
var ErrAlreadyStarted = errors.New("keymachine: event delivered to an incompatible state")

// pakeEnvelope is the wire format of the "pake" phase message body.
type pakeEnvelope struct {
	PakeV1 string `json:"pake_v1"`
}

type kind int

const (
	knowNothing kind = iota
	knowCode
	knowPake
	knowBoth
	scared
)

// Machine is the SPAKE2 key-agreement state machine. It is not
// safe for concurrent use; the host runtime must serialize calls.
type Machine struct {
	appID proto.AppID
	side  proto.Side

	state     kind
	pake      spake2.SPAKE2
	theirPake []byte
	key       crypto.Key
}

// New creates a key machine in state KnowNothing.
func New(appID proto.AppID, side proto.Side) *Machine {
	return &Machine{appID: appID, side: side, state: knowNothing}
}

// Output carries what the key machine produced for one event: zero or
// more phase messages destined for the mailbox's outbound queue, and,
// at most once per session, the derived session key.
type Output struct {
	AddMessages []proto.PhaseMessage
	Key         *crypto.Key
}

// GotCode delivers the application's code to the machine, starting (or
// completing) the PAKE exchange.
func (m *Machine) GotCode(code proto.Code) (Output, error) {
	switch m.state {
	case knowNothing:
		pake, msg1 := startPake(code, m.appID)
		m.state = knowCode
		m.pake = pake
		return Output{AddMessages: []proto.PhaseMessage{{Phase: proto.PhasePake, Body: msg1}}}, nil

	case knowPake:
		pake, msg1 := startPake(code, m.appID)
		key, err := finishPake(pake, m.theirPake)
		if err != nil {
			m.state = scared
			return Output{}, fmt.Errorf("keymachine: finish pake: %w", err)
		}
		versionMsg := buildVersionMessage(m.side, key)
		m.state = knowBoth
		m.key = key
		logrus.WithFields(logrus.Fields{
			"package":  "keymachine",
			"function": "GotCode",
		}).Info("session key established")
		return Output{
			AddMessages: []proto.PhaseMessage{
				{Phase: proto.PhasePake, Body: msg1},
				{Phase: proto.PhaseVersion, Body: versionMsg},
			},
			Key: &key,
		}, nil

	default:
		return Output{}, ErrAlreadyStarted
	}
}

// GotPake delivers the peer's "pake" phase body to the machine.
func (m *Machine) GotPake(body []byte) (Output, error) {
	switch m.state {
	case knowNothing:
		m.state = knowPake
		m.theirPake = body
		return Output{}, nil

	case knowCode:
		key, err := finishPake(m.pake, body)
		if err != nil {
			m.state = scared
			return Output{}, fmt.Errorf("keymachine: finish pake: %w", err)
		}
		versionMsg := buildVersionMessage(m.side, key)
		m.state = knowBoth
		m.key = key
		logrus.WithFields(logrus.Fields{
			"package":  "keymachine",
			"function": "GotPake",
		}).Info("session key established")
		return Output{
			AddMessages: []proto.PhaseMessage{{Phase: proto.PhaseVersion, Body: versionMsg}},
			Key:         &key,
		}, nil

	default:
		return Output{}, ErrAlreadyStarted
	}
}

func startPake(code proto.Code, appID proto.AppID) (spake2.SPAKE2, []byte) {
	pw := spake2.NewPassword(string(code))
	id := spake2.NewIdentityS(string(appID))
	pake := spake2.SPAKE2Symmetric(pw, id)
	msg1 := pake.Start()

	envelope := pakeEnvelope{PakeV1: hex.EncodeToString(msg1)}
	body, _ := json.Marshal(envelope) // envelope is always marshalable

	logrus.WithFields(logrus.Fields{
		"package": "keymachine",
	}).WithFields(crypto.SecureFieldHash(msg1, "pake_element")).Debug("built outbound pake message")
	return pake, body
}

func finishPake(pake spake2.SPAKE2, peerBody []byte) (crypto.Key, error) {
	hexMsg, err := extractPakeMessage(peerBody)
	if err != nil {
		return crypto.Key{}, err
	}
	raw, err := hex.DecodeString(hexMsg)
	if err != nil {
		return crypto.Key{}, fmt.Errorf("decode peer pake message: %w", err)
	}
	out, err := pake.Finish(raw)
	if err != nil {
		return crypto.Key{}, fmt.Errorf("spake2 finish: %w", err)
	}
	var key crypto.Key
	copy(key[:], out)
	return key, nil
}

// extractPakeMessage parses the "pake" phase body and returns the hex
// PAKE element it carries.
func extractPakeMessage(body []byte) (string, error) {
	var envelope pakeEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("parse pake envelope: %w", err)
	}
	return envelope.PakeV1, nil
}

func buildVersionMessage(side proto.Side, key crypto.Key) []byte {
	dataKey := crypto.DerivePhaseKey(string(side), key, string(proto.PhaseVersion))
	plaintext := []byte(`{"app_versions":{}}`)
	_, encrypted := crypto.EncryptData(dataKey, plaintext)
	return encrypted
}
