package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// App passwords stored at rest in account.json are sealed with AES-GCM under
// the key from MAILDECK_ENCRYPTION_KEY_BASE64. The sealed form is
// base64(nonce || ciphertext) so it fits the encrypted_password JSON string
// field; GCM authentication means a wrong key fails to open instead of
// yielding garbage.

// ErrBadEncryptionKey marks an unusable MAILDECK_ENCRYPTION_KEY_BASE64 value.
var ErrBadEncryptionKey = errors.New("invalid encryption key")

// encryptionKeyBytes is the required decoded key length (AES-256).
const encryptionKeyBytes = 32

// SealPassword encrypts an app password for the encrypted_password field of
// account.json. Each call draws a fresh nonce, so sealing the same password
// twice yields different outputs.
func SealPassword(keyB64, password string) (string, error) {
	aead, err := passwordAEAD(keyB64)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to draw nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(password), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenPassword reverses SealPassword. A truncated field, a corrupt field, or
// a key other than the one that sealed it all return errors.
func OpenPassword(keyB64, sealed string) (string, error) {
	aead, err := passwordAEAD(keyB64)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("encrypted_password is not valid base64: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("encrypted_password is truncated")
	}

	password, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("failed to open encrypted_password: %w", err)
	}
	return string(password), nil
}

// passwordAEAD builds the GCM sealer from the base64 key the environment
// supplies.
func passwordAEAD(keyB64 string) (cipher.AEAD, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid base64", ErrBadEncryptionKey)
	}
	if len(key) != encryptionKeyBytes {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrBadEncryptionKey, encryptionKeyBytes, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncryptionKey, err)
	}
	return cipher.NewGCM(block)
}
