package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptionDecryption(t *testing.T) {
	privateKeyPEM, publicKeyPEM, err := GenerateKeyPair()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "Empty data", data: []byte{}},
		{name: "Short data", data: []byte("hello")},
		{name: "Long data", data: make([]byte, 4096)},
		{name: "Binary data", data: []byte{0x00, 0x01, 0xfe, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := EncryptWithPublicKey(publicKeyPEM, tt.data)
			require.NoError(t, err)

			decrypted, err := DecryptWithPrivateKey(privateKeyPEM, encrypted)
			require.NoError(t, err)
			require.Equal(t, len(tt.data), len(decrypted))
			if len(tt.data) > 0 {
				require.Equal(t, tt.data, decrypted)
			}
		})
	}
}

func TestDecryptionWithWrongKey(t *testing.T) {
	_, publicKeyPEM, err := GenerateKeyPair()
	require.NoError(t, err)
	otherPrivateKeyPEM, _, err := GenerateKeyPair()
	require.NoError(t, err)

	encryptedData, err := EncryptWithPublicKey(publicKeyPEM, []byte("Top secret data"))
	require.NoError(t, err)

	_, err = DecryptWithPrivateKey(otherPrivateKeyPEM, encryptedData)
	require.Error(t, err)
}

func TestInvalidKeyFormats(t *testing.T) {
	_, err := EncryptWithPublicKey([]byte("not a valid PEM"), []byte("test"))
	require.Error(t, err)

	_, err = DecryptWithPrivateKey([]byte("not a valid PEM"), []byte("test"))
	require.Error(t, err)

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
	require.NoError(t, err)
	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: privateKeyBytes,
	})

	_, err = DecryptWithPrivateKey(privateKeyPEM, []byte{0x01})
	require.Error(t, err)

	_, err = DecryptWithPrivateKey(privateKeyPEM, make([]byte, 100))
	require.Error(t, err)
}

func TestECIESTextEncryptor(t *testing.T) {
	privateKeyPEM, publicKeyPEM, err := GenerateKeyPair()
	require.NoError(t, err)

	full, err := NewECIESTextEncryptor(nil, privateKeyPEM)
	require.NoError(t, err)
	require.Equal(t, publicKeyPEM, full.PublicKeyPEM())

	ciphertext, err := full.Encrypt("s3cr3t")
	require.NoError(t, err)
	require.NotEqual(t, "s3cr3t", ciphertext)

	plaintext, err := full.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", plaintext)

	publicOnly, err := NewECIESTextEncryptor(publicKeyPEM, nil)
	require.NoError(t, err)
	ciphertext, err = publicOnly.Encrypt("other")
	require.NoError(t, err)

	_, err = publicOnly.Decrypt(ciphertext)
	require.Error(t, err)

	plaintext, err = full.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "other", plaintext)

	_, err = full.Decrypt("%%%not base64")
	require.Error(t, err)

	_, err = NewECIESTextEncryptor(nil, nil)
	require.Error(t, err)
}
