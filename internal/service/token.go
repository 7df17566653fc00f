package service

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

// Link tokens become the first DNS label of the rendezvous hostname, so the
// alphabet is restricted to lowercase base32 (a-z, 2-7). 16 random bytes
// encode to 26 characters and carry the full 128 bits of entropy.
var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return strings.ToLower(tokenEncoding.EncodeToString(b)), nil
}
