package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKeyA = "0xe1a1d5436c93a1866e0b13c7c2fd04d09627cba4b647d818425c030eded803dd"
	testKeyB = "0x209588af7a6850f16ee846b3099ef2823e18d04a2edb33c0be9a714af7af39f3"
)

// TestEncryptDecryptRoundTripIsIdentity matches the data-model invariant:
// decrypt(encrypt(key)) is identity on any valid 0x-prefixed hex key.
func TestEncryptDecryptRoundTripIsIdentity(t *testing.T) {
	key := MasterKeyFromSecret("0xabc123")
	for _, pt := range []string{testKeyA, testKeyB} {
		ciphertext, err := Encrypt(key[:], pt)
		require.NoError(t, err)
		assert.NotEqual(t, pt, ciphertext)

		got, err := Decrypt(key[:], ciphertext)
		require.NoError(t, err)
		assert.Equal(t, pt, got)
	}
}

func TestEncryptProducesDistinctCiphertextsPerCall(t *testing.T) {
	key := MasterKeyFromSecret("0xabc123")

	c1, err := Encrypt(key[:], testKeyA)
	require.NoError(t, err)
	c2, err := Encrypt(key[:], testKeyA)
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2) // random nonce per call
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	key := MasterKeyFromSecret("0xabc123")
	ciphertext, err := Encrypt(key[:], testKeyA)
	require.NoError(t, err)

	// Replace the first base64 character with a different one so the
	// nonce is always altered.
	first := "A"
	if ciphertext[0] == 'A' {
		first = "B"
	}
	tampered := first + ciphertext[1:]
	_, err = Decrypt(key[:], tampered)
	assert.Error(t, err)
}

func TestEncryptImportedKeyDecryptImportedKeyRoundTrip(t *testing.T) {
	masterSecret := testKeyB

	blob, err := EncryptImportedKey(masterSecret, testKeyA)
	require.NoError(t, err)

	got, err := DecryptImportedKey(masterSecret, blob)
	require.NoError(t, err)
	assert.Equal(t, testKeyA, got)
}

func TestDecryptImportedKeyRejectsMalformedPlaintext(t *testing.T) {
	masterSecret := testKeyB
	key := MasterKeyFromSecret(masterSecret)
	blob, err := Encrypt(key[:], "not-a-key")
	require.NoError(t, err)

	_, err = DecryptImportedKey(masterSecret, blob)
	assert.Error(t, err)
}

func TestMasterKeyFromSecretIsCaseInsensitive(t *testing.T) {
	k1 := MasterKeyFromSecret("0xABCDEF")
	k2 := MasterKeyFromSecret("0xabcdef")
	assert.Equal(t, k1, k2)
}

func TestValidateHexPrivateKey(t *testing.T) {
	assert.NoError(t, ValidateHexPrivateKey(testKeyA))
	assert.Error(t, ValidateHexPrivateKey(testKeyA[2:])) // missing 0x
	assert.Error(t, ValidateHexPrivateKey("0x1234"))     // too short
	assert.Error(t, ValidateHexPrivateKey("0xzz"+testKeyA[4:])) // not hex
}
