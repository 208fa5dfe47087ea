package crypto

import (
	"crypto/subtle"
	"errors"
	"runtime"
)

// SecureWipe zeroes a byte slice holding sensitive material. It uses
// subtle.XORBytes (x XOR x = 0), which the compiler will not optimize
// away the way it may a plain loop over a slice about to go out of
// scope.
func SecureWipe(data []byte) error {
	if data == nil {
		return errors.New("cannot wipe nil data")
	}
	subtle.XORBytes(data, data, data)
	runtime.KeepAlive(data)
	return nil
}

// WipeKey erases a session key in place. Call it once the session it
// belongs to has closed; every value derived from the key (phase keys,
// transit key, record keys) should already be out of use by then.
func WipeKey(k *Key) {
	if k == nil {
		return
	}
	subtle.XORBytes(k[:], k[:], k[:])
	runtime.KeepAlive(k)
}
