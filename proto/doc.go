// Package proto defines the value types and wire messages shared by the
// wormhole protocol engine's state machines: identifiers (AppID, Side,
// Code), the phase message envelope, transit hints, and the Action/Event
// vocabulary the key, mailbox, and receive machines use to talk to each
// other and to the host runtime.
//
// None of the types here perform I/O. They are the nouns the state
// machines operate on; the verbs live in the keymachine, mailbox, and
// receive packages.
package proto
