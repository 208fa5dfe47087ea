// Package crypto implements the cryptographic primitives used to protect a
// wormhole session.
//
// It provides HKDF-SHA256 key derivation, NaCl secretbox authenticated
// encryption of phase messages and transit records, and the phase-key
// binding that ties a ciphertext to exactly one (sender side, phase) pair so
// a replayed message can never be mistaken for a different one.
//
// # Key Derivation
//
// All derived keys come from [DeriveKey], an HKDF-SHA256 expansion with an
// empty salt:
//
//	verifier := crypto.DeriveKey(sessionKey[:], []byte("wormhole:verifier"), 32)
//
// [DerivePhaseKey] specializes this for per-phase message keys, binding in
// SHA-256 digests of both the sender's side and the phase label:
//
//	dataKey := crypto.DerivePhaseKey("abcd1234", sessionKey, "version")
//
// # Authenticated Encryption
//
// [EncryptData] and [DecryptData] wrap golang.org/x/crypto/nacl/secretbox
// with a random 24-byte nonce prepended to the ciphertext, matching the
// wire format expected by the receive state machine:
//
//	nonce, blob := crypto.EncryptData(dataKey, plaintext)
//	recovered, err := crypto.DecryptData(dataKey, blob)
//
// # Secure Memory Handling
//
// Session keys should be wiped once a session ends:
//
//	defer crypto.SecureWipe(sessionKey[:])
//
// [SecureWipe] uses crypto/subtle so the compiler cannot optimize the zeroing
// away.
package crypto
