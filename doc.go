// Package wormhole implements the client side of a short-authenticated-string
// secure rendezvous protocol: two parties who share only a short
// human-memorable code exchange a small set of application messages and,
// subsequently, a file, over an untrusted network. A central rendezvous
// relay mediates message exchange but is never trusted; confidentiality,
// integrity, and mutual authentication derive entirely from the code via a
// password-authenticated key exchange.
//
// # Getting Started
//
// Construct a Session with an application id and a rendezvous adapter that
// speaks to a live server, register the callbacks for the events an
// application cares about, then drive the key exchange with a code:
//
//	sess, err := wormhole.New(wormhole.AppID("example.org/app"), adapter)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sess.OnMessage(func(body []byte) {
//	    fmt.Printf("peer says: %s\n", body)
//	})
//	sess.OnVerifier(func(v [32]byte) {
//	    fmt.Printf("verify out of band: %x\n", v)
//	})
//	if err := sess.SetCode(proto.Code("4-purple-sausages")); err != nil {
//	    log.Fatal(err)
//	}
//	sess.Send([]byte("hello"))
//
// # Core Types
//
//   - [Session]: orchestrates the key, mailbox, and receive machines and
//     exposes the upward application API
//   - [keymachine.Machine]: drives the SPAKE2 password-authenticated
//     key exchange
//   - [mailbox.Machine]: reconciles the rendezvous connection's up/down
//     state with queued outbound and deduplicated inbound traffic
//   - [receive.Machine]: gates inbound phase messages until the session
//     key has been verified by a successful decrypt
//   - [transit.Negotiator]: races direct and relay-mediated TCP
//     candidates; the caller runs the transit handshake on the winner
//   - [file.Transfer]: tracks the single file transfer a session carries
//     over its transit record stream
//
// # Integration Architecture
//
// This package is the orchestration point that glues together the
// independent state machines described in the design: it is the only part
// of the module that knows about all of them at once.
//
//   - [crypto]: HKDF derivation, secret-box encryption, and the phase-key
//     binding that ties a ciphertext to one (sender, phase) pair
//   - [proto]: the wire-independent vocabulary (Side, Phase, Mood, Hint)
//     shared by every other package
//   - [keymachine]: the SPAKE2 key-agreement state machine
//   - [mailbox]: the mailbox/connection reconciliation state machine
//   - [receive]: the key-verification gate
//   - [rendezvous]: the Adapter/Dispatcher boundary to the rendezvous
//     server, plus the default WebSocket Client that speaks the server's
//     JSON framing
//   - [transit]: hint negotiation, the connection race, the transit
//     handshake, and the encrypted record stream
//   - [file]: the local file handle and transfer progress tracking that
//     package transit drives as records arrive or leave the wire
//
// # Thread Safety
//
// A Session's SetCode, Send, Close, and SessionKey methods and the
// rendezvous.Dispatcher methods it implements all take an internal mutex.
// The OnX setters and DeliverWelcome do not take it, so callbacks are
// registered before events start arriving.
// Callbacks registered with the OnX setters are invoked synchronously from
// whichever goroutine delivered the triggering event; a callback must not
// call back into the Session that invoked it.
package wormhole
