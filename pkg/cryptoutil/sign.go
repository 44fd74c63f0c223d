package cryptoutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

// SigningSeedSize is the byte length of an Ed25519 private seed, which is
// what the brain store persists (encrypted) rather than the expanded
// 64-byte private key.
const SigningSeedSize = ed25519.SeedSize

// PublicKeySize is the byte length of an Ed25519 public key.
const PublicKeySize = ed25519.PublicKeySize

// ErrInvalidSigningKey is returned when a signing seed cannot be decoded
// to a valid Ed25519 key.
var ErrInvalidSigningKey = errors.New("cryptoutil: invalid signing key bytes")

// ErrInvalidPublicKey is returned when a public key cannot be decoded.
var ErrInvalidPublicKey = errors.New("cryptoutil: invalid public key bytes")

// ErrSignatureMismatch is returned when a signature fails verification.
var ErrSignatureMismatch = errors.New("cryptoutil: signature verification failed")

// GenerateSigningSeed produces a new random Ed25519 seed.
func GenerateSigningSeed() ([SigningSeedSize]byte, error) {
	var seed [SigningSeedSize]byte
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return seed, fmt.Errorf("cryptoutil: key generation failed: %w", err)
	}
	copy(seed[:], priv.Seed())
	return seed, nil
}

// PublicKeyFromSeed derives the public key for a signing seed.
func PublicKeyFromSeed(seed [SigningSeedSize]byte) []byte {
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub, _ := priv.Public().(ed25519.PublicKey)
	return []byte(pub)
}

// Sign produces a detached Ed25519 signature over message.
func Sign(seed [SigningSeedSize]byte, message []byte) []byte {
	priv := ed25519.NewKeyFromSeed(seed[:])
	return ed25519.Sign(priv, message)
}

// Verify checks a detached Ed25519 signature over message. It returns
// ErrInvalidPublicKey / ErrSignatureMismatch rather than a bare bool so
// callers can distinguish a malformed key from a bad signature, matching
// the Brain Manifest's fatal-on-any-failure contract.
func Verify(pubKey, message, signature []byte) error {
	if len(pubKey) != PublicKeySize {
		return ErrInvalidPublicKey
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), message, signature) {
		return ErrSignatureMismatch
	}
	return nil
}

// SeedFromBytes validates and copies raw bytes into a signing seed.
func SeedFromBytes(b []byte) ([SigningSeedSize]byte, error) {
	var seed [SigningSeedSize]byte
	if len(b) != SigningSeedSize {
		return seed, ErrInvalidSigningKey
	}
	copy(seed[:], b)
	return seed, nil
}
