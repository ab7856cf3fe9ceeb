package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters for PIN stretching.
const (
	pinTime    = 3
	pinMemory  = 64 * 1024 // KiB
	pinThreads = 2
	pinKeyLen  = 32

	// SaltSize is the length of salts produced by GenerateSalt.
	SaltSize = 16
)

// StretchPIN derives 32 bytes of key material from a short PIN using Argon2id.
func StretchPIN(pin string, salt []byte) ([]byte, error) {
	if pin == "" {
		return nil, fmt.Errorf("empty pin")
	}
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("salt too short: %d bytes (need %d)", len(salt), SaltSize)
	}
	return argon2.IDKey([]byte(pin), salt, pinTime, pinMemory, pinThreads, pinKeyLen), nil
}

// GenerateSalt returns SaltSize random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
