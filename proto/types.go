package proto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// AppID is an opaque application identifier bound into the PAKE identity.
type AppID string

// Side is an 8-byte random hex string identifying one participant within
// a session. Equality against an inbound message's side distinguishes a
// peer's traffic from a session's own echoes relayed back by the mailbox.
type Side string

// NewSide generates a fresh random Side.
func NewSide() (Side, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate side: %w", err)
	}
	return Side(hex.EncodeToString(b[:])), nil
}

// Code is the short human-memorable nameplate-and-words string that acts
// as the PAKE password, e.g. "4-purple-sausages".
type Code string

// Phase labels a message category within one mailbox. Known values are
// "pake", "version", and application-chosen phases such as numeric
// strings; a Phase uniquely tags a message within one sender direction.
type Phase string

const (
	// PhasePake carries the SPAKE2 protocol message.
	PhasePake Phase = "pake"
	// PhaseVersion carries the encrypted app_versions announcement.
	PhaseVersion Phase = "version"
)

// PhaseMessage pairs a phase label with its body. Bodies for phases other
// than "pake" are secret-box ciphertexts under a phase-derived sub-key.
type PhaseMessage struct {
	Phase Phase
	Body  []byte
}

// Mood records why a session ended, communicated to the peer at close.
type Mood string

const (
	MoodHappy     Mood = "happy"
	MoodLonely    Mood = "lonely"
	MoodScary     Mood = "scary"
	MoodErrory    Mood = "errory"
	MoodUnwelcome Mood = "unwelcome"
)

// DirectTcp advertises one directly reachable TCP endpoint.
type DirectTcp struct {
	Priority float64
	Hostname string
	Port     uint16
}

// Relay advertises a group of direct hints that reach a relay server;
// connecting to any of them and performing the relay prelude
// reaches the same rendezvous point.
type Relay struct {
	Hints []DirectTcp
}

// Hint is either a DirectTcp or a Relay. Exactly one of the two fields is
// set; callers discriminate with IsDirect/IsRelay.
type Hint struct {
	Direct *DirectTcp
	Relay  *Relay
}

// IsDirect reports whether the hint carries a direct endpoint.
func (h Hint) IsDirect() bool { return h.Direct != nil }

// IsRelay reports whether the hint carries a relay endpoint group.
func (h Hint) IsRelay() bool { return h.Relay != nil }

// TransitAbility names one transit transport the local side supports.
type TransitAbility string

const (
	AbilityDirectTCPv1 TransitAbility = "direct-tcp-v1"
	AbilityRelayV1     TransitAbility = "relay-v1"
)

// DefaultAbilities is the ability set every session advertises; the
// protocol defines no others.
func DefaultAbilities() []TransitAbility {
	return []TransitAbility{AbilityDirectTCPv1, AbilityRelayV1}
}
