package wormhole

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wormhole-go/crypto"
	"github.com/opd-ai/wormhole-go/keymachine"
	"github.com/opd-ai/wormhole-go/mailbox"
	"github.com/opd-ai/wormhole-go/proto"
	"github.com/opd-ai/wormhole-go/receive"
	"github.com/opd-ai/wormhole-go/rendezvous"
)

// AppID re-exports proto.AppID so callers constructing a Session need not
// import package proto for the common case.
type AppID = proto.AppID

// ErrNoSessionKey is returned by Send when the application-phase queue is
// used before the key machine has produced a session key to encrypt under.
var ErrNoSessionKey = errors.New("wormhole: cannot send before the session key is established")

// ErrCodeNotAllocated reports that AllocateCode was called. Nameplate
// allocation belongs to the rendezvous server and whatever host layer
// talks to it; this package only consumes an already-known code via
// SetCode.
var ErrCodeNotAllocated = errors.New("wormhole: code allocation is a nameplate-server concern outside this package; allocate a nameplate externally and call SetCode")

// Session orchestrates one rendezvous session: it owns the key,
// mailbox, and receive state machines, translates the actions they emit
// into calls on a rendezvous.Adapter, and surfaces upward API events
// through registered callbacks. It implements rendezvous.Dispatcher so
// an adapter can drive it directly.
//
// Session is deliberately the only type in this module aware of all the
// machines at once. Every other package only knows its own state
// machine; they communicate solely through the events Session routes.
type Session struct {
	mu sync.Mutex

	appID proto.AppID
	side  proto.Side

	key     *keymachine.Machine
	mailbox *mailbox.Machine
	recv    *receive.Machine

	adapter rendezvous.Adapter

	sessionKey *crypto.Key
	mood       proto.Mood
	closing    bool
	closed     bool
	phaseSeq   uint64

	onWelcome       func(map[string]interface{})
	onCode          func(proto.Code)
	onUnverifiedKey func([32]byte)
	onVerifier      func([32]byte)
	onVersions      func(map[string]interface{})
	onMessage       func([]byte)
	onClosed        func(proto.Mood)
}

// New creates a Session for the given application id, bound to adapter
// for its rendezvous I/O. It generates a fresh random Side.
func New(appID proto.AppID, adapter rendezvous.Adapter) (*Session, error) {
	side, err := proto.NewSide()
	if err != nil {
		return nil, fmt.Errorf("wormhole: generate side: %w", err)
	}
	return newWithSide(appID, side, adapter), nil
}

// newWithSide builds a Session bound to a caller-chosen Side, bypassing
// the random generation in New. Exported tests within this package use it
// to get deterministic sides for scripted peer exchanges.
func newWithSide(appID proto.AppID, side proto.Side, adapter rendezvous.Adapter) *Session {
	return &Session{
		appID:   appID,
		side:    side,
		key:     keymachine.New(appID, side),
		mailbox: mailbox.New(side),
		recv:    receive.New(),
		adapter: adapter,
		mood:    proto.MoodHappy,
	}
}

// Side returns the random side identifier this session generated for
// itself. The mailbox machine compares it with each inbound message's
// side to recognise this session's own echoes. Package transit does not
// use it; its relay prelude uses a separate NewTransitSide token.
func (s *Session) Side() proto.Side { return s.side }

// SessionKey returns the session key once the PAKE has completed, or nil
// before that. The returned value must not be mutated; callers that need
// to derive the transit key should use crypto.DeriveTransitKey directly.
func (s *Session) SessionKey() *crypto.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionKey
}

// OnWelcome registers the callback invoked with the rendezvous server's
// free-form welcome payload. No state machine produces this event;
// adapters that capture a welcome (rendezvous.Client does) feed it back
// in through DeliverWelcome.
func (s *Session) OnWelcome(cb func(map[string]interface{})) { s.onWelcome = cb }

// OnCode registers the callback invoked once a code is in effect.
func (s *Session) OnCode(cb func(proto.Code)) { s.onCode = cb }

// OnUnverifiedKey registers the callback invoked the moment the PAKE
// completes, before any phase message has authenticated the peer.
func (s *Session) OnUnverifiedKey(cb func([32]byte)) { s.onUnverifiedKey = cb }

// OnVerifier registers the callback invoked once the key has been
// confirmed by a successful decrypt, with the human-comparable verifier.
func (s *Session) OnVerifier(cb func([32]byte)) { s.onVerifier = cb }

// OnVersions registers the callback invoked with the decrypted
// app_versions announcement.
func (s *Session) OnVersions(cb func(map[string]interface{})) { s.onVersions = cb }

// OnMessage registers the callback invoked with each decrypted
// application-phase plaintext.
func (s *Session) OnMessage(cb func([]byte)) { s.onMessage = cb }

// OnClosed registers the callback invoked once with the session's
// terminal mood.
func (s *Session) OnClosed(cb func(proto.Mood)) { s.onClosed = cb }

// DeliverWelcome feeds the rendezvous server's welcome payload to the
// registered OnWelcome callback. No state machine here processes the
// welcome; an adapter that observes one on the wire calls this directly.
func (s *Session) DeliverWelcome(welcome map[string]interface{}) {
	if s.onWelcome != nil {
		s.onWelcome(welcome)
	}
}

// Start marks the session as ready to begin. Opening the rendezvous
// connection itself is the adapter's responsibility; this exists for
// symmetry with the rest of the upward API.
func (s *Session) Start() error { return nil }

// AllocateCode always fails: nameplate allocation happens on the
// server. Hosts that need a fresh code must allocate a nameplate
// through their rendezvous adapter and call SetCode with the resulting
// "<nameplate>-<words>" string.
func (s *Session) AllocateCode(numWords int) error { return ErrCodeNotAllocated }

// SetCode delivers the application's code to the key machine, starting
// or completing the PAKE exchange.
func (s *Session) SetCode(code proto.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.key.GotCode(code)
	if err != nil {
		return s.failLocked(err)
	}
	s.dispatchKeyOutputLocked(out)
	if s.onCode != nil {
		s.onCode(code)
	}
	return nil
}

// Send encrypts body under a fresh numeric phase and enqueues it for
// delivery to the peer. The phase sequence is local to this session and
// side; the peer distinguishes our phases from its own by the mailbox's
// Side comparison. Send works as soon as the PAKE has produced the
// session key; it does not wait for an inbound message to verify it.
func (s *Session) Send(body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionKey == nil {
		return ErrNoSessionKey
	}
	phase := proto.Phase(strconv.FormatUint(s.phaseSeq, 10))
	s.phaseSeq++

	dataKey := crypto.DerivePhaseKey(string(s.side), *s.sessionKey, string(phase))
	_, ciphertext := crypto.EncryptData(dataKey, body)
	s.enqueueOutboundLocked(phase, ciphertext)
	return nil
}

// Close requests a graceful, "happy" close of the session. If the
// session already closed (for example, because the receive machine was
// scared) this is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeInternalLocked(proto.MoodHappy)
	return nil
}

// --- rendezvous.Dispatcher ---

// Connected implements rendezvous.Dispatcher.
func (s *Session) Connected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.mailbox.Connected()
	if err != nil {
		s.failLocked(err)
		return
	}
	s.dispatchMailboxOutputLocked(out)
}

// Lost implements rendezvous.Dispatcher.
func (s *Session) Lost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.mailbox.Lost()
	if err != nil {
		s.failLocked(err)
		return
	}
	s.dispatchMailboxOutputLocked(out)
}

// GotMailbox implements rendezvous.Dispatcher.
func (s *Session) GotMailbox(mb string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.mailbox.GotMailbox(mb)
	if err != nil {
		s.failLocked(err)
		return
	}
	s.dispatchMailboxOutputLocked(out)
}

// RxMessage implements rendezvous.Dispatcher.
func (s *Session) RxMessage(side proto.Side, phase proto.Phase, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.mailbox.RxMessage(proto.InboundMessage{Side: side, Phase: phase, Body: body})
	if err != nil {
		s.failLocked(err)
		return
	}
	s.dispatchMailboxOutputLocked(out)
}

// RxClosed implements rendezvous.Dispatcher.
func (s *Session) RxClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.mailbox.RxClosed()
	if err != nil {
		s.failLocked(err)
		return
	}
	s.dispatchMailboxOutputLocked(out)
}

// --- internal dispatch plumbing; all of the following assume s.mu held ---

func (s *Session) dispatchMailboxOutputLocked(out mailbox.Output) {
	for _, rc := range out.RC {
		s.sendRCLocked(rc)
	}
	// Nameplate releases are the adapter's concern; there is nothing
	// for the engine to do with them beyond emitting them, which the
	// mailbox machine already did.
	for _, msg := range out.ToReceive {
		s.routeInboundLocked(msg)
	}
	if out.MailboxDone {
		s.closed = true
		if s.onClosed != nil {
			s.onClosed(s.mood)
		}
		// The session is over; nothing may derive from the key anymore.
		crypto.WipeKey(s.sessionKey)
		s.sessionKey = nil
	}
}

func (s *Session) sendRCLocked(a proto.RendezvousAction) {
	var err error
	switch v := a.(type) {
	case proto.TxOpen:
		err = s.adapter.Open(v.Mailbox)
	case proto.TxAdd:
		err = s.adapter.Add(v.Phase, v.Body)
	case proto.TxClose:
		err = s.adapter.Close(v.Mood)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"package": "wormhole",
			"action":  fmt.Sprintf("%T", a),
		}).WithError(err).Warn("rendezvous adapter call failed")
	}
}

// routeInboundLocked demultiplexes one inbound phase message the
// mailbox surfaced: "pake" bodies drive the key machine directly,
// everything else goes through the receive machine's key-verification
// gate.
func (s *Session) routeInboundLocked(msg proto.InboundMessage) {
	if msg.Phase == proto.PhasePake {
		out, err := s.key.GotPake(msg.Body)
		if err != nil {
			s.failLocked(err)
			return
		}
		s.dispatchKeyOutputLocked(out)
		return
	}

	rout, err := s.recv.GotMessage(msg)
	if err != nil {
		s.failLocked(err)
		return
	}
	s.dispatchReceiveOutputLocked(msg.Phase, rout)
}

func (s *Session) dispatchKeyOutputLocked(out keymachine.Output) {
	for _, m := range out.AddMessages {
		s.enqueueOutboundLocked(m.Phase, m.Body)
	}
	if out.Key != nil {
		s.sessionKey = out.Key
		rout, err := s.recv.GotKey(*out.Key)
		if err != nil {
			s.failLocked(err)
			return
		}
		s.dispatchReceiveOutputLocked("", rout)
	}
}

func (s *Session) enqueueOutboundLocked(phase proto.Phase, body []byte) {
	out, err := s.mailbox.AddMessage(phase, body)
	if err != nil {
		s.failLocked(err)
		return
	}
	s.dispatchMailboxOutputLocked(out)
}

// appVersionsEnvelope mirrors the plaintext body of the "version"
// phase message: {"app_versions":{}}. Today every side sends the empty
// object, but we decode whatever the peer sent rather than assuming it
// stays empty.
type appVersionsEnvelope struct {
	AppVersions map[string]interface{} `json:"app_versions"`
}

func (s *Session) dispatchReceiveOutputLocked(phase proto.Phase, out receive.Output) {
	for _, a := range out.API {
		switch v := a.(type) {
		case proto.GotUnverifiedKey:
			if s.onUnverifiedKey != nil {
				s.onUnverifiedKey(v.Key)
			}
		case proto.GotVerifier:
			if s.onVerifier != nil {
				s.onVerifier(v.Verifier)
			}
		case proto.GotMessage:
			if phase == proto.PhaseVersion {
				var env appVersionsEnvelope
				if err := json.Unmarshal(v.Body, &env); err != nil {
					s.failLocked(fmt.Errorf("wormhole: decode app_versions: %w", err))
					return
				}
				if s.onVersions != nil {
					s.onVersions(env.AppVersions)
				}
			} else if s.onMessage != nil {
				s.onMessage(v.Body)
			}
		}
	}
	if out.Scared {
		s.closeInternalLocked(proto.MoodScary)
	}
}

// failLocked handles a local invariant violation or a peer protocol
// violation: both are fatal and close the session with mood "errory".
func (s *Session) failLocked(err error) error {
	logrus.WithFields(logrus.Fields{"package": "wormhole"}).WithError(err).Error("fatal protocol error")
	s.closeInternalLocked(proto.MoodErrory)
	return err
}

func (s *Session) closeInternalLocked(mood proto.Mood) {
	if s.closed || s.closing {
		// The first close's mood stands; a later one must not change
		// what OnClosed reports.
		return
	}
	s.closing = true
	s.mood = mood
	out, err := s.mailbox.Close(mood)
	if err != nil {
		// Close delivered to a state that cannot accept it; nothing more
		// to do, the mailbox machine already logged via its own path.
		return
	}
	s.dispatchMailboxOutputLocked(out)
}
