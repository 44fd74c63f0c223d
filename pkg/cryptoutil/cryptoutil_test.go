package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := make([]byte, SaltSize)
	for i := range salt {
		salt[i] = byte(i)
	}
	k1, err := DeriveKey([]byte("hunter2"), salt)
	require.NoError(t, err)
	k2, err := DeriveKey([]byte("hunter2"), salt)
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := DeriveKey([]byte("different"), salt)
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}

func TestSealOpenRoundtrip(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	blob, err := SealBytes(key, []byte("brain-1"), []byte("secret payload"))
	require.NoError(t, err)

	plain, err := OpenBytes(key, []byte("brain-1"), blob)
	require.NoError(t, err)
	require.Equal(t, "secret payload", string(plain))
}

func TestOpenFailsOnWrongAAD(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	blob, err := SealBytes(key, []byte("brain-1"), []byte("secret payload"))
	require.NoError(t, err)

	_, err = OpenBytes(key, []byte("brain-2"), blob)
	require.ErrorIs(t, err, ErrOpenFailed)
}

func TestSignVerifyRoundtrip(t *testing.T) {
	seed, err := GenerateSigningSeed()
	require.NoError(t, err)
	pub := PublicKeyFromSeed(seed)

	msg := []byte("manifest bytes")
	sig := Sign(seed, msg)
	require.NoError(t, Verify(pub, msg, sig))

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xFF
	require.ErrorIs(t, Verify(pub, tampered, sig), ErrSignatureMismatch)
}
