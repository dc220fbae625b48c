// Package crypto seals database passwords stored in connection files.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"hps-conditions/internal/domain"
)

// EncryptedPasswordKey is the connection-file property holding a sealed
// password. It takes precedence over a plain "password" property.
const EncryptedPasswordKey = "password.enc"

// Cipher seals and opens secrets with AES-256-GCM. Sealed values are
// hex-encoded with the nonce prepended.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher creates a Cipher from a hex-encoded 32-byte key.
func NewCipher(hexKey string) (*Cipher, error) {
	if hexKey == "" {
		return nil, domain.ErrConfiguration("no secret key configured (CONDITIONS_SECRET_KEY)")
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, domain.ErrConfiguration("decode secret key: %v", err)
	}
	if len(key) != 32 {
		return nil, domain.ErrConfiguration("secret key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// Seal encrypts a secret.
func (c *Cipher) Seal(secret string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(c.gcm.Seal(nonce, nonce, []byte(secret), nil)), nil
}

// Open decrypts a value produced by Seal.
func (c *Cipher) Open(sealed string) (string, error) {
	raw, err := hex.DecodeString(sealed)
	if err != nil {
		return "", domain.ErrConfiguration("decode sealed password: %v", err)
	}
	n := c.gcm.NonceSize()
	if len(raw) < n {
		return "", domain.ErrConfiguration("sealed password is too short")
	}
	plain, err := c.gcm.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", domain.ErrConfiguration("open sealed password: wrong key or corrupted value")
	}
	return string(plain), nil
}

// RevealPassword replaces a sealed password in connection properties by its
// plaintext. Properties without a sealed password are left untouched and
// need no key.
func RevealPassword(props map[string]string, hexKey string) error {
	sealed, ok := props[EncryptedPasswordKey]
	if !ok {
		return nil
	}
	c, err := NewCipher(hexKey)
	if err != nil {
		return err
	}
	plain, err := c.Open(sealed)
	if err != nil {
		return err
	}
	props["password"] = plain
	delete(props, EncryptedPasswordKey)
	return nil
}
