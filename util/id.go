package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a short random identifier, e.g. for a correlation id when
// a caller did not supply one.
func NewID() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
