// Package mailbox bridges the intermittent rendezvous connection with
// the session's outbound phase-message queue and inbound deduplication.
//
// State is named along two orthogonal axes folded into one state id:
// connection (A = disconnected, B = connected) and mailbox lifecycle (0
// unknown, 1 known-but-disconnected, 2 known-open, 3 closing, 4 closed).
// The combined states are S0A, S0B, S1A, S2A, S2B, S3A, S3B, S4A, S4B.
//
// Every state/event pair the protocol does not define is a fatal
// invariant violation: it indicates a bug in the host runtime (for
// example, delivering Connected twice in a row), not misbehavior by the
// peer. Each event method reports it as an error rather than silently
// swallowing or panicking, so the host can close the session with the
// errory mood.
package mailbox
