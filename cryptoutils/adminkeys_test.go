package cryptoutils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAdminKeyPair(t *testing.T) {
	privPEM, pubPEM, err := GenerateAdminKeyPair()
	require.NoError(t, err)

	priv, err := ParsePrivateKey([]byte(privPEM))
	require.NoError(t, err)

	pub, err := ParsePublicKey([]byte(pubPEM))
	require.NoError(t, err)

	// The PEM pair must belong together.
	assert.Equal(t, 0, priv.PublicKey.X.Cmp(pub.X))
	assert.Equal(t, 0, priv.PublicKey.Y.Cmp(pub.Y))
}

func TestComputeFingerprint(t *testing.T) {
	_, pubPEM, err := GenerateAdminKeyPair()
	require.NoError(t, err)

	fp := ComputeFingerprint([]byte(pubPEM))
	assert.Len(t, fp, 64)
	assert.Equal(t, fp, ComputeFingerprint([]byte(pubPEM)))

	_, otherPubPEM, err := GenerateAdminKeyPair()
	require.NoError(t, err)
	assert.NotEqual(t, fp, ComputeFingerprint([]byte(otherPubPEM)))
}

func TestSignAndVerifyAdminRequest(t *testing.T) {
	privPEM, pubPEM, err := GenerateAdminKeyPair()
	require.NoError(t, err)

	priv, err := ParsePrivateKey([]byte(privPEM))
	require.NoError(t, err)

	path := "/api/admin/policies/example.com"
	body := []byte(`{"content_id":"aabbcc"}`)

	sig, err := SignAdminRequest(priv, path, body)
	require.NoError(t, err)

	assert.NoError(t, VerifyAdminSignature([]byte(pubPEM), path, body, sig))

	// Any change to path or body invalidates the signature.
	assert.Error(t, VerifyAdminSignature([]byte(pubPEM), "/api/admin/devices", body, sig))
	assert.Error(t, VerifyAdminSignature([]byte(pubPEM), path, []byte(`{"content_id":"ddeeff"}`), sig))

	// A signature from a different key must not verify.
	_, otherPubPEM, err := GenerateAdminKeyPair()
	require.NoError(t, err)
	assert.Error(t, VerifyAdminSignature([]byte(otherPubPEM), path, body, sig))
}

func TestSignAdminRequestEmptyBody(t *testing.T) {
	privPEM, pubPEM, err := GenerateAdminKeyPair()
	require.NoError(t, err)

	priv, err := ParsePrivateKey([]byte(privPEM))
	require.NoError(t, err)

	sig, err := SignAdminRequest(priv, "/api/admin/devices", nil)
	require.NoError(t, err)

	assert.NoError(t, VerifyAdminSignature([]byte(pubPEM), "/api/admin/devices", nil, sig))
}

func TestLoadAdminKeys(t *testing.T) {
	_, pubPEM1, err := GenerateAdminKeyPair()
	require.NoError(t, err)
	_, pubPEM2, err := GenerateAdminKeyPair()
	require.NoError(t, err)

	keysJSON := `{"admins":[` +
		`{"id":"alice","pubkey":` + jsonString(pubPEM1) + `},` +
		`{"id":"bob","pubkey":` + jsonString(pubPEM2) + `}]}`

	keys, err := LoadAdminKeys(strings.NewReader(keysJSON))
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, []byte(pubPEM1), keys["alice"])
	assert.Equal(t, []byte(pubPEM2), keys["bob"])
}

func TestLoadAdminKeysRejectsBadKey(t *testing.T) {
	keysJSON := `{"admins":[{"id":"mallory","pubkey":"not a pem"}]}`
	_, err := LoadAdminKeys(strings.NewReader(keysJSON))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mallory")
}

func TestRandomCert(t *testing.T) {
	cert, err := RandomCert()
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)
}

func jsonString(s string) string {
	return `"` + strings.ReplaceAll(s, "\n", `\n`) + `"`
}
