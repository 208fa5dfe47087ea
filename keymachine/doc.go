// Package keymachine drives the SPAKE2 password-authenticated key
// exchange that turns a short shared code into a 32-byte session key.
//
// The machine is a small state machine with two independent starting
// events — GotCode (the application has the code) and GotPake (the
// peer's PAKE message arrived over the mailbox) — that can occur in
// either order. Whichever occurs second completes the exchange and
// emits the outbound phase messages and the derived key.
package keymachine
