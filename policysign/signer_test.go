package policysign

import (
	"crypto/rand"
	"testing"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDomain(t *testing.T, name string) interfaces.Domain {
	t.Helper()
	domain, err := interfaces.NewDomain(name)
	require.NoError(t, err)
	return domain
}

func TestSimpleSigner_New(t *testing.T) {
	masterKey := make([]byte, 32)
	_, err := rand.Read(masterKey)
	require.NoError(t, err, "Failed to generate test master key")

	signer, err := NewSimpleSigner(masterKey)
	require.NoError(t, err, "NewSimpleSigner should succeed with a 32-byte key")
	assert.NotNil(t, signer)

	// Test with too short master key
	shortKey := make([]byte, 16)
	_, err = NewSimpleSigner(shortKey)
	assert.Error(t, err, "Should fail with master key < 32 bytes")
}

func TestSimpleSigner_DeterministicKeys(t *testing.T) {
	masterKey := make([]byte, 32)
	_, err := rand.Read(masterKey)
	require.NoError(t, err)

	signer1, err := NewSimpleSigner(masterKey)
	require.NoError(t, err)
	signer2, err := NewSimpleSigner(masterKey)
	require.NoError(t, err)

	domain := testDomain(t, "example.com")

	key1, err := signer1.VerifyingKeyPEM(domain)
	require.NoError(t, err)
	key2, err := signer2.VerifyingKeyPEM(domain)
	require.NoError(t, err)

	// Same master key and domain must derive the same verifying key.
	assert.Equal(t, key1, key2)

	// A different domain must derive a different key.
	otherKey, err := signer1.VerifyingKeyPEM(testDomain(t, "other.org"))
	require.NoError(t, err)
	assert.NotEqual(t, key1, otherKey)

	// A different master key must derive a different key.
	otherMaster := make([]byte, 32)
	_, err = rand.Read(otherMaster)
	require.NoError(t, err)
	otherSigner, err := NewSimpleSigner(otherMaster)
	require.NoError(t, err)
	otherMasterKey, err := otherSigner.VerifyingKeyPEM(domain)
	require.NoError(t, err)
	assert.NotEqual(t, key1, otherMasterKey)
}

func TestSimpleSigner_SignAndVerify(t *testing.T) {
	masterKey := make([]byte, 32)
	_, err := rand.Read(masterKey)
	require.NoError(t, err)

	signer, err := NewSimpleSigner(masterKey)
	require.NoError(t, err)

	domain := testDomain(t, "example.com")
	payload := []byte(`{"policies":{"homepage":"https://intranet.example.com"}}`)

	signature, err := signer.SignPayload(domain, payload)
	require.NoError(t, err, "Should sign payload successfully")
	assert.NotEmpty(t, signature)

	verifyingKey, err := signer.VerifyingKeyPEM(domain)
	require.NoError(t, err)

	assert.NoError(t, Verify(verifyingKey, payload, signature), "Signature should verify")

	// Tampered payload must not verify.
	assert.Error(t, Verify(verifyingKey, []byte("tampered"), signature))

	// Another domain's key must not verify this signature.
	otherKey, err := signer.VerifyingKeyPEM(testDomain(t, "other.org"))
	require.NoError(t, err)
	assert.Error(t, Verify(otherKey, payload, signature))
}

func TestVerify_RejectsBadKey(t *testing.T) {
	err := Verify([]byte("not a pem"), []byte("payload"), []byte("sig"))
	require.Error(t, err)
}
