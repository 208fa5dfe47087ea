package rendezvous

import "github.com/opd-ai/wormhole-go/proto"

// Adapter is the contract an I/O implementation fulfils to connect a
// Session to a live rendezvous server. Implementations own the
// WebSocket (or other transport) connection, the server's frame
// encoding, and nameplate allocation; Client is the default, and hosts
// with their own transport substitute anything that honours this
// contract.
//
// Dispatcher is the only inbound direction: the adapter calls the
// methods there as it observes connection and message events. Outbound,
// the Session calls Open/Add/Close on the Adapter as the mailbox
// machine's actions demand.
type Adapter interface {
	// Open announces the use of the given mailbox to the server.
	Open(mailbox string) error
	// Add deposits one phase message into the mailbox.
	Add(phase proto.Phase, body []byte) error
	// Close closes the mailbox, reporting the session's mood.
	Close(mood proto.Mood) error
}

// Dispatcher receives the events an Adapter observes from the server
// and routes them into the protocol engine. A Session implements this
// interface; the adapter is expected to call these methods from
// whatever goroutine owns its network I/O, and must not call them
// concurrently with itself (the state machines are not safe for
// concurrent entry, see package mailbox).
type Dispatcher interface {
	// Connected reports the rendezvous connection is up.
	Connected()
	// Lost reports the rendezvous connection has dropped.
	Lost()
	// GotMailbox delivers the mailbox id allocated for this session.
	GotMailbox(mailbox string)
	// RxMessage delivers one inbound phase message.
	RxMessage(side proto.Side, phase proto.Phase, body []byte)
	// RxClosed reports the server has acknowledged the mailbox close.
	RxClosed()
}
