package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultSalt is the hex salt used when none is configured.
	DefaultSalt = "deadbeef"

	pbkdf2Iterations = 1024
	aesKeySize       = 32
)

// AESTextEncryptor is a symmetric encryptor keyed by a passphrase. The AES-256
// key is derived with PBKDF2-HMAC-SHA1; values are sealed with AES-GCM and
// encoded as hex(nonce || ciphertext).
type AESTextEncryptor struct {
	aead cipher.AEAD
}

// NewAESTextEncryptor derives a key from passphrase and the hex-encoded salt.
func NewAESTextEncryptor(passphrase, saltHex string) (*AESTextEncryptor, error) {
	if passphrase == "" {
		return nil, errors.New("aes: empty passphrase")
	}
	if saltHex == "" {
		saltHex = DefaultSalt
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("aes: salt must be hex: %w", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, aesKeySize, sha1.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESTextEncryptor{aead: aead}, nil
}

func (e *AESTextEncryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("aes: failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(e.aead.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (e *AESTextEncryptor) Decrypt(ciphertext string) (string, error) {
	data, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("aes: ciphertext must be hex: %w", err)
	}
	if len(data) < e.aead.NonceSize() {
		return "", errors.New("aes: ciphertext too short")
	}
	nonce, sealed := data[:e.aead.NonceSize()], data[e.aead.NonceSize():]
	out, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("aes: %w", err)
	}
	return string(out), nil
}
