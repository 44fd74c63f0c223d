package cryptoutil

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the byte length of an XChaCha20-Poly1305 nonce.
const NonceSize = chacha20poly1305.NonceSizeX

// ErrSealFailed is returned when encryption fails for reasons other than
// caller error (should not happen with a valid key).
var ErrSealFailed = errors.New("cryptoutil: seal failed")

// ErrOpenFailed is the single opaque error surfaced for any decryption
// failure; wrong key, wrong associated data, and corrupted ciphertext
// are indistinguishable to the caller.
var ErrOpenFailed = errors.New("cryptoutil: open failed")

// EncryptedBlob is the wire representation of an AEAD-sealed payload.
type EncryptedBlob struct {
	NonceB64      string `json:"nonce_b64"`
	CiphertextB64 string `json:"ciphertext_b64"`
}

// SealBytes encrypts plain under key with a fresh random nonce, binding aad
// as associated data.
func SealBytes(key [KeySize]byte, aad, plain []byte) (EncryptedBlob, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return EncryptedBlob{}, fmt.Errorf("%w: %v", ErrSealFailed, err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedBlob{}, fmt.Errorf("%w: %v", ErrSealFailed, err)
	}
	ciphertext := aead.Seal(nil, nonce, plain, aad)
	return EncryptedBlob{
		NonceB64:      base64.StdEncoding.EncodeToString(nonce),
		CiphertextB64: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// OpenBytes decrypts blob under key, verifying aad. Any failure collapses
// to ErrOpenFailed.
func OpenBytes(key [KeySize]byte, aad []byte, blob EncryptedBlob) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(blob.NonceB64)
	if err != nil {
		return nil, ErrOpenFailed
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.CiphertextB64)
	if err != nil {
		return nil, ErrOpenFailed
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, ErrOpenFailed
	}
	plain, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plain, nil
}
