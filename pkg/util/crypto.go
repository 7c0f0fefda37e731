package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Decrypt reverses Encrypt: key is used directly as the AES-256 key (it
// must be 32 bytes, e.g. the output of sha256.Sum256), and ciphertextB64
// is the base64 blob Encrypt produced (nonce prefix + ciphertext+tag).
// This mirrors the teacher's cmd/main.go bootstrap, which decrypts the
// keeper's own master key with a passphrase-derived key before anything
// else starts.
func Decrypt(key []byte, ciphertextB64 string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to init gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(blob) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := blob[:nonceSize], blob[nonceSize:]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}

// Encrypt seals plaintext under key (must be 32 bytes) using AES-256-GCM
// with a random nonce, returning a base64 blob of nonce||ciphertext||tag.
func Encrypt(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to init gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// MasterKeyFromSecret derives the AES-256 key used to encrypt imported
// sub-wallet private keys: the SHA-256 digest of the master secret, per
// the ImportedWallet invariant in the data model.
func MasterKeyFromSecret(masterSecretHex string) [32]byte {
	return sha256.Sum256([]byte(strings.ToLower(masterSecretHex)))
}

// EncryptImportedKey encrypts a hex private key for ImportedWallet
// storage. The returned blob is IV||ciphertext||tag, base64-encoded, so
// decrypt only ever needs the master-secret-derived key.
func EncryptImportedKey(masterSecretHex, privateKeyHex string) (string, error) {
	key := MasterKeyFromSecret(masterSecretHex)
	return Encrypt(key[:], privateKeyHex)
}

// DecryptImportedKey decrypts a blob produced by EncryptImportedKey and
// validates that the result is syntactically a private key.
func DecryptImportedKey(masterSecretHex, blob string) (string, error) {
	key := MasterKeyFromSecret(masterSecretHex)
	plain, err := Decrypt(key[:], blob)
	if err != nil {
		return "", err
	}
	if err := ValidateHexPrivateKey(plain); err != nil {
		return "", fmt.Errorf("decrypted key is malformed: %w", err)
	}
	return plain, nil
}

// ValidateHexPrivateKey enforces the 0x-prefixed 66-char hex shape used
// for both the master secret (KEEPER_PRIVATE_KEY) and imported wallet
// keys.
func ValidateHexPrivateKey(s string) error {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return fmt.Errorf("expected 0x-prefixed 64-hex-char key, got length %d", len(s))
	}
	if _, err := hex.DecodeString(s[2:]); err != nil {
		return fmt.Errorf("not valid hex: %w", err)
	}
	return nil
}
