package crypto

import (
	"crypto/rand"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/secretbox"
)

// NonceSize is the size in bytes of a secretbox nonce.
const NonceSize = 24

// ErrDecryptionFailed is returned by DecryptData when the MAC check fails,
// meaning either the key is wrong or the ciphertext was tampered with.
var ErrDecryptionFailed = errors.New("crypto: message authentication failed")

// EncryptData seals plaintext under key using a freshly generated random
// nonce and returns both the nonce and the wire blob (nonce prepended to the
// ciphertext). Phase messages use a random nonce; the transit record stream
// uses an explicit counter instead, see package transit.
func EncryptData(key [SecretBoxKeySize]byte, plaintext []byte) (nonce [NonceSize]byte, blob []byte) {
	if _, err := rand.Read(nonce[:]); err != nil {
		// crypto/rand failing to fill 24 bytes indicates the OS entropy
		// source is broken; there is no safe way to proceed.
		panic("crypto: failed to read random nonce: " + err.Error())
	}

	sealed := secretbox.Seal(nil, plaintext, &nonce, &key)

	out := make([]byte, 0, NonceSize+len(sealed))
	out = append(out, nonce[:]...)
	out = append(out, sealed...)

	logrus.WithFields(logrus.Fields{
		"package":       "crypto",
		"function":      "EncryptData",
		"plaintext_len": len(plaintext),
	}).Debug("sealed phase message")

	return nonce, out
}

// DecryptData splits blob into a 24-byte nonce and ciphertext, and opens the
// ciphertext under key. It returns ErrDecryptionFailed on any MAC mismatch,
// never distinguishing a wrong key from a tampered message — timing and
// error-message side channels must not reveal which occurred.
func DecryptData(key [SecretBoxKeySize]byte, blob []byte) ([]byte, error) {
	if len(blob) < NonceSize {
		return nil, ErrDecryptionFailed
	}

	var nonce [NonceSize]byte
	copy(nonce[:], blob[:NonceSize])
	ciphertext := blob[NonceSize:]

	plaintext, ok := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"package":  "crypto",
			"function": "DecryptData",
		}).Warn("phase message failed authentication")
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
