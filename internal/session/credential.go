package session

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

const credentialBytes = 32

// newCredential returns 32 random bytes hex encoded (64 characters).
func newCredential() string {
	buf := make([]byte, credentialBytes)
	// crypto/rand.Read does not fail on supported platforms.
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Fingerprint is a short digest of a credential that is safe to log.
func Fingerprint(credential string) string {
	if credential == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:6])
}
