// Package receive enforces key-verification ordering on inbound phase
// messages. It is the only place a phase message's plaintext is
// produced, and it refuses to surface any plaintext to the application
// until a decrypt under the session key has actually succeeded once.
//
// States: UnknownKey -> UnverifiedKey(K) -> VerifiedKey(K), with a
// terminal Scared reached from either keyed state on the first
// authentication failure. Once Scared, all further inbound messages are
// silently dropped; the session is already being torn down by the host
// runtime.
package receive
