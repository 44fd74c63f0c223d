package cryptoutil

import (
	"fmt"

	"golang.org/x/crypto/argon2"
)

// SaltSize is the byte length of a brain's KDF salt.
const SaltSize = 16

// KeySize is the byte length of a derived AEAD key.
const KeySize = 32

// Argon2id tuning. These are conservative interactive-use parameters; the
// brain store derives a key only when it creates, opens or reseals a
// brain's state, never per proxy request.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// DeriveKey runs Argon2id over (secret, salt) and returns a 32-byte key.
// The only derivation fault is a malformed salt, which callers treat as
// fatal.
func DeriveKey(secret, salt []byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	if len(salt) != SaltSize {
		return key, fmt.Errorf("cryptoutil: salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	derived := argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, KeySize)
	copy(key[:], derived)
	return key, nil
}
