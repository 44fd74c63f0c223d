package brain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cortexbrain/cortex/pkg/cryptoutil"
)

// manifestSigningPayload reproduces the exact bytes that get signed: the
// manifest with signature_b64 cleared, marshaled with the struct's
// declared field order. Brain manifests carry no caller-controlled maps,
// so Go's deterministic struct-field marshaling reproduces the same
// payload byte for byte on every host without canonicalization.
func manifestSigningPayload(m BrainManifest) ([]byte, error) {
	unsigned := m
	unsigned.SignatureB64 = ""
	data, err := json.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("brain: marshal signing payload: %w", err)
	}
	return data, nil
}

// signManifest computes SignatureB64 over the manifest's signing payload
// using the unsealed signing seed, mutating m in place.
func signManifest(m *BrainManifest, seed [cryptoutil.SigningSeedSize]byte) error {
	payload, err := manifestSigningPayload(*m)
	if err != nil {
		return err
	}
	sig := cryptoutil.Sign(seed, payload)
	m.SignatureB64 = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// verifyManifest checks a loaded manifest's signature against its own
// published public key, and that its applied-migrations list is ordered.
func verifyManifest(m BrainManifest) error {
	if err := validateSchemaMigrations(m.SchemaMigrations); err != nil {
		return err
	}
	pub, err := base64.StdEncoding.DecodeString(m.SigningPublicKeyB64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	sig, err := base64.StdEncoding.DecodeString(m.SignatureB64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	payload, err := manifestSigningPayload(m)
	if err != nil {
		return err
	}
	if err := cryptoutil.Verify(pub, payload, sig); err != nil {
		return ErrSignatureInvalid
	}
	return nil
}

// sealSigningKey encrypts a fresh or existing Ed25519 seed under key,
// bound to brainID as associated data so a ciphertext produced for one
// brain id cannot be opened under another's.
func sealSigningKey(key [cryptoutil.KeySize]byte, brainID string, seed [cryptoutil.SigningSeedSize]byte) (EncryptedBlob, error) {
	blob, err := cryptoutil.SealBytes(key, []byte(brainID), seed[:])
	if err != nil {
		return EncryptedBlob{}, err
	}
	return EncryptedBlob(blob), nil
}

// openSigningKey decrypts a brain's Ed25519 seed, surfacing
// ErrInvalidSecret rather than the opaque cryptoutil error so callers can
// distinguish a wrong owner secret from other failures.
func openSigningKey(key [cryptoutil.KeySize]byte, brainID string, blob EncryptedBlob) ([cryptoutil.SigningSeedSize]byte, error) {
	var seed [cryptoutil.SigningSeedSize]byte
	plain, err := cryptoutil.OpenBytes(key, []byte(brainID), cryptoutil.EncryptedBlob(blob))
	if err != nil {
		return seed, ErrInvalidSecret
	}
	seed, err = cryptoutil.SeedFromBytes(plain)
	if err != nil {
		return seed, ErrInvalidSecret
	}
	return seed, nil
}

// sealStateBytes encrypts already-serialized state bytes under key, bound
// to brainID, and returns both the blob and the manifest's state_sha256
// (the hash of the JSON encoding of the EncryptedBlob itself, not of the
// plaintext — this certifies which ciphertext the manifest was signed
// over).
func sealStateBytes(key [cryptoutil.KeySize]byte, brainID string, plain []byte) (EncryptedBlob, string, error) {
	blob, err := cryptoutil.SealBytes(key, []byte(brainID), plain)
	if err != nil {
		return EncryptedBlob{}, "", err
	}
	sum, err := stateChecksum(blob)
	if err != nil {
		return EncryptedBlob{}, "", err
	}
	return EncryptedBlob(blob), sum, nil
}

// sealState marshals state to JSON and seals it; see sealStateBytes.
func sealState(key [cryptoutil.KeySize]byte, brainID string, state BrainState) (EncryptedBlob, string, error) {
	plain, err := json.Marshal(state)
	if err != nil {
		return EncryptedBlob{}, "", fmt.Errorf("brain: marshal state: %w", err)
	}
	return sealStateBytes(key, brainID, plain)
}

// stateChecksum hashes the JSON encoding of an encrypted state blob,
// matching BrainManifest.StateSha256's semantics: it certifies which
// ciphertext the manifest was signed over, not the plaintext it decrypts
// to.
func stateChecksum(blob EncryptedBlob) (string, error) {
	data, err := json.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("brain: marshal state blob for checksum: %w", err)
	}
	return cryptoutil.SHA256Hex(data), nil
}

// openStateBytes decrypts a brain's state blob against the manifest's
// recorded checksum and returns the still-serialized plaintext.
func openStateBytes(key [cryptoutil.KeySize]byte, brainID string, stateSha256 string, blob EncryptedBlob) ([]byte, error) {
	sum, err := stateChecksum(blob)
	if err != nil {
		return nil, err
	}
	if sum != stateSha256 {
		return nil, ErrStateChecksumMismatch
	}
	plain, err := cryptoutil.OpenBytes(key, []byte(brainID), cryptoutil.EncryptedBlob(blob))
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return plain, nil
}

// openState decrypts and verifies a brain's state blob against the
// manifest's recorded checksum, then parses it.
func openState(key [cryptoutil.KeySize]byte, brainID string, m BrainManifest, blob EncryptedBlob) (BrainState, error) {
	plain, err := openStateBytes(key, brainID, m.StateSha256, blob)
	if err != nil {
		return BrainState{}, err
	}
	var state BrainState
	if err := json.Unmarshal(plain, &state); err != nil {
		return BrainState{}, fmt.Errorf("brain: unmarshal state: %w", err)
	}
	return state, nil
}
