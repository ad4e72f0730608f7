package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

const gcmNonceSize = 12

// GenerateKeyPair creates a P-256 key pair and returns it PEM-encoded, the private
// key as "EC PRIVATE KEY" and the public key as "PUBLIC KEY".
func GenerateKeyPair() (privateKeyPEM, publicKeyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}
	privDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privDER}),
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
		nil
}

// EncryptWithPublicKey encrypts data using ECIES with the given public key PEM.
// A fresh ephemeral key is agreed with the recipient key via ECDH, hashed with
// SHA-256 into an AES-256-GCM key.
//
// Output format: [ephemeral key length (2 bytes)][ephemeral key][nonce (12 bytes)][ciphertext]
func EncryptWithPublicKey(publicKeyPEM []byte, data []byte) ([]byte, error) {
	recipient, err := parseECDHPublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	ephemeral, err := recipient.Curve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	shared, err := ephemeral.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	aead, err := newGCM(shared)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ephemeralBytes := ephemeral.PublicKey().Bytes()
	out := make([]byte, 2, 2+len(ephemeralBytes)+gcmNonceSize+len(data)+aead.Overhead())
	binary.BigEndian.PutUint16(out, uint16(len(ephemeralBytes)))
	out = append(out, ephemeralBytes...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, data, nil), nil
}

// DecryptWithPrivateKey decrypts data produced by EncryptWithPublicKey.
func DecryptWithPrivateKey(privateKeyPEM []byte, encryptedData []byte) ([]byte, error) {
	key, err := parseECDHPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}

	if len(encryptedData) < 2 {
		return nil, errors.New("encrypted data too short")
	}
	keyLen := int(binary.BigEndian.Uint16(encryptedData[:2]))
	if len(encryptedData) < 2+keyLen+gcmNonceSize {
		return nil, errors.New("encrypted data has invalid format")
	}

	ephemeral, err := key.Curve().NewPublicKey(encryptedData[2 : 2+keyLen])
	if err != nil {
		return nil, fmt.Errorf("failed to parse ephemeral public key: %w", err)
	}
	shared, err := key.ECDH(ephemeral)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	aead, err := newGCM(shared)
	if err != nil {
		return nil, err
	}
	nonce := encryptedData[2+keyLen : 2+keyLen+gcmNonceSize]
	plaintext, err := aead.Open(nil, nonce, encryptedData[2+keyLen+gcmNonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(shared []byte) (cipher.AEAD, error) {
	key := sha256.Sum256(shared)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func parseECDHPublicKey(publicKeyPEM []byte) (*ecdh.PublicKey, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	ecdsaKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA public key")
	}
	return ecdsaKey.ECDH()
}

func parseECDHPrivateKey(privateKeyPEM []byte) (*ecdh.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key.ECDH()
}

// ECIESTextEncryptor encrypts property values to a public key. Ciphertexts are
// base64 encoded. Decryption needs the private key; an encryptor holding only
// the public key can encrypt but not decrypt.
type ECIESTextEncryptor struct {
	publicKeyPEM  []byte
	privateKeyPEM []byte
}

// NewECIESTextEncryptor creates an encryptor. Either key may be nil, but not both.
func NewECIESTextEncryptor(publicKeyPEM, privateKeyPEM []byte) (*ECIESTextEncryptor, error) {
	if publicKeyPEM == nil && privateKeyPEM == nil {
		return nil, errors.New("ecies: no key given")
	}
	if publicKeyPEM == nil {
		key, err := parseECDHPrivateKey(privateKeyPEM)
		if err != nil {
			return nil, err
		}
		ecdsaPub, err := x509.MarshalPKIXPublicKey(key.PublicKey())
		if err != nil {
			return nil, err
		}
		publicKeyPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: ecdsaPub})
	}
	return &ECIESTextEncryptor{publicKeyPEM: publicKeyPEM, privateKeyPEM: privateKeyPEM}, nil
}

func (e *ECIESTextEncryptor) Encrypt(plaintext string) (string, error) {
	out, err := EncryptWithPublicKey(e.publicKeyPEM, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func (e *ECIESTextEncryptor) Decrypt(ciphertext string) (string, error) {
	if e.privateKeyPEM == nil {
		return "", errors.New("ecies: encryptor has no private key")
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("ecies: %w", err)
	}
	out, err := DecryptWithPrivateKey(e.privateKeyPEM, data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// PublicKeyPEM returns the public key values are encrypted to.
func (e *ECIESTextEncryptor) PublicKeyPEM() []byte {
	return e.publicKeyPEM
}
