package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key is a 32-byte symmetric secret produced by a completed PAKE exchange.
// It exists only once the key machine reaches its final state and is
// immutable for the remainder of the session.
type Key [32]byte

// SecretBoxKeySize is the key size expected by golang.org/x/crypto/nacl/secretbox.
const SecretBoxKeySize = 32

// DeriveKey expands secret into length bytes of output material using
// HKDF-SHA256 with an empty salt and info=purpose. This is the sole key
// derivation primitive in the package; every other derived value in this
// package and in package wormhole is expressed in terms of it.
func DeriveKey(secret []byte, purpose []byte, length int) []byte {
	r := hkdf.New(sha256.New, secret, nil, purpose)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		// hkdf.New with sha256 and a length this small never fails to fill
		// the reader; a failure here indicates a corrupted io.Reader
		// implementation, which is a programmer error, not a runtime one.
		panic("crypto: hkdf expansion failed: " + err.Error())
	}
	return out
}

// DerivePhaseKey derives the secretbox key used to protect one phase message
// sent by side in the given phase. The purpose string is
// "wormhole:phase:" || SHA256(side) || SHA256(phase), which binds the
// resulting key to exactly one (side, phase) pair: a ciphertext produced for
// one phase can never be mistaken for, or replayed as, another.
func DerivePhaseKey(side string, key Key, phase string) [SecretBoxKeySize]byte {
	sideDigest := sha256.Sum256([]byte(side))
	phaseDigest := sha256.Sum256([]byte(phase))

	purpose := make([]byte, 0, len("wormhole:phase:")+len(sideDigest)+len(phaseDigest))
	purpose = append(purpose, []byte("wormhole:phase:")...)
	purpose = append(purpose, sideDigest[:]...)
	purpose = append(purpose, phaseDigest[:]...)

	derived := DeriveKey(key[:], purpose, SecretBoxKeySize)
	var out [SecretBoxKeySize]byte
	copy(out[:], derived)
	return out
}

// DeriveVerifier derives the public verifier value for a session key. The
// verifier is safe to display to both parties for an out-of-band human
// comparison; it reveals nothing about the session key itself.
func DeriveVerifier(key Key) []byte {
	return DeriveKey(key[:], []byte("wormhole:verifier"), 32)
}

// DeriveTransitKey derives the key used to protect the transit record
// stream from the session key and the application id.
func DeriveTransitKey(key Key, appID string) [SecretBoxKeySize]byte {
	purpose := append([]byte(appID), []byte("/transit-key")...)
	derived := DeriveKey(key[:], purpose, SecretBoxKeySize)
	var out [SecretBoxKeySize]byte
	copy(out[:], derived)
	return out
}

// RecordKeys derives the sender and receiver secretbox keys used to protect
// the transit record stream from the transit key. The two directions use
// distinct keys so a compromise of one direction's key does not expose the
// other.
func RecordKeys(transitKey [SecretBoxKeySize]byte) (senderKey, receiverKey [SecretBoxKeySize]byte) {
	s := DeriveKey(transitKey[:], []byte("transit_record_sender_key"), SecretBoxKeySize)
	r := DeriveKey(transitKey[:], []byte("transit_record_receiver_key"), SecretBoxKeySize)
	copy(senderKey[:], s)
	copy(receiverKey[:], r)
	return senderKey, receiverKey
}
