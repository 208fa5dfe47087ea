package crypto

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// SecureFieldHash builds log fields that describe sensitive or bulky
// byte data without putting it in the log whole: a hex preview of the
// first 8 bytes plus the total size. Use it for anything that crosses
// the wire; full ciphertexts and key material never belong in a log
// line.
func SecureFieldHash(data []byte, name string) logrus.Fields {
	preview := "nil"
	if len(data) > 0 {
		previewLen := 8
		if len(data) < previewLen {
			previewLen = len(data)
		}
		preview = fmt.Sprintf("%x", data[:previewLen])
		if len(data) > previewLen {
			preview += "..."
		}
	}

	return logrus.Fields{
		name + "_preview": preview,
		name + "_size":    len(data),
	}
}
