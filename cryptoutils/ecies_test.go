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

func testKeyPairPEM(t *testing.T) ([]byte, []byte) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
	require.NoError(t, err)
	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: privateKeyBytes,
	})

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	require.NoError(t, err)
	publicKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicKeyBytes,
	})

	return privateKeyPEM, publicKeyPEM
}

// TestEncryptionDecryption tests the EncryptWithPublicKey and DecryptWithPrivateKey functions
func TestEncryptionDecryption(t *testing.T) {
	privateKeyPEM, publicKeyPEM := testKeyPairPEM(t)

	testCases := []struct {
		name string
		data []byte
	}{
		{
			name: "Simple string",
			data: []byte("This is a secret message"),
		},
		{
			name: "Escrow share",
			data: []byte{0x01, 0x8f, 0x33, 0xa2, 0x00, 0xff, 0x10, 0x42},
		},
		{
			name: "JSON data",
			data: []byte(`{"share_index":1,"share":"AQIDBA=="}`),
		},
		{
			name: "Long data",
			data: make([]byte, 1024), // 1KB of zeros
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encryptedData, err := EncryptWithPublicKey(publicKeyPEM, tc.data)
			require.NoError(t, err)

			// Encrypted data should be longer than original
			require.Greater(t, len(encryptedData), len(tc.data))

			decryptedData, err := DecryptWithPrivateKey(privateKeyPEM, encryptedData)
			require.NoError(t, err)

			require.Equal(t, tc.data, decryptedData)
		})
	}
}

// TestDecryptionWithWrongKey tests that decryption fails with the wrong key
func TestDecryptionWithWrongKey(t *testing.T) {
	_, publicKeyPEM := testKeyPairPEM(t)
	otherPrivateKeyPEM, _ := testKeyPairPEM(t)

	data := []byte("Top secret data")
	encryptedData, err := EncryptWithPublicKey(publicKeyPEM, data)
	require.NoError(t, err)

	// Try to decrypt with wrong private key - should fail
	_, err = DecryptWithPrivateKey(otherPrivateKeyPEM, encryptedData)
	require.Error(t, err)
}

// TestInvalidKeyFormats tests error handling for invalid key formats
func TestInvalidKeyFormats(t *testing.T) {
	// Test invalid public key
	_, err := EncryptWithPublicKey([]byte("not a valid PEM"), []byte("test"))
	require.Error(t, err)

	// Test invalid private key
	_, err = DecryptWithPrivateKey([]byte("not a valid PEM"), []byte("test"))
	require.Error(t, err)

	privateKeyPEM, _ := testKeyPairPEM(t)

	// Test with too short data
	_, err = DecryptWithPrivateKey(privateKeyPEM, []byte{0x01})
	require.Error(t, err)

	// Test with invalid format
	_, err = DecryptWithPrivateKey(privateKeyPEM, make([]byte, 100))
	require.Error(t, err)
}
