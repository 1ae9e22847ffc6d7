package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier with a short type prefix, e.g. lst_ for
// listings, ofr_ for offers, shw_ for showings, dss_ for disclosure sessions,
// pay_ for payments, usr_ for users.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
