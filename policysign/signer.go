package policysign

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	"github.com/cloudenroll/policy-enrollment-backend/cryptoutils"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
)

// SimpleSigner provides deterministic per-domain policy signing.
// It derives signing keys from a master key, so a signer built from the same
// master key always produces the same key pair for a domain.
type SimpleSigner struct {
	masterKey []byte
}

// NewSimpleSigner creates a new instance with the provided master key.
// The master key must be at least 32 bytes long.
func NewSimpleSigner(masterKey []byte) (*SimpleSigner, error) {
	if len(masterKey) < 32 {
		return nil, errors.New("master key must be at least 32 bytes")
	}

	return &SimpleSigner{masterKey: masterKey}, nil
}

// SignPayload signs a policy payload for a domain.
// The signature is ASN.1 encoded ECDSA over the SHA-256 hash of the payload.
func (s *SimpleSigner) SignPayload(domain interfaces.Domain, payload []byte) ([]byte, error) {
	signingKey, err := s.deriveSigningKey(domain)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(payload)

	signature, err := ecdsa.SignASN1(rand.Reader, signingKey, hash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	return signature, nil
}

// VerifyingKeyPEM returns the domain's public verifying key in PKIX PEM format.
// Agents pin this key and check policy signatures against it.
func (s *SimpleSigner) VerifyingKeyPEM(domain interfaces.Domain) ([]byte, error) {
	signingKey, err := s.deriveSigningKey(domain)
	if err != nil {
		return nil, err
	}

	pubKeyBytes, err := x509.MarshalPKIXPublicKey(&signingKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubKeyBytes,
	}), nil
}

// Verify checks a detached policy signature against a verifying key PEM.
func Verify(verifyingKeyPEM []byte, payload []byte, signature []byte) error {
	pubKey, err := cryptoutils.ParsePublicKey(verifyingKeyPEM)
	if err != nil {
		return err
	}

	hash := sha256.Sum256(payload)

	if !ecdsa.VerifyASN1(pubKey, hash[:], signature) {
		return errors.New("policy signature verification failed")
	}

	return nil
}

// deriveSigningKey derives a domain's signing key from the master key.
// Creates deterministic ECDSA key using the P-256 curve.
func (s *SimpleSigner) deriveSigningKey(domain interfaces.Domain) (*ecdsa.PrivateKey, error) {
	// Create deterministic seed
	h := sha256.New()
	h.Write(s.masterKey)
	h.Write([]byte(domain.String()))
	h.Write([]byte("policy-signing"))
	seed := h.Sum(nil)

	curve := elliptic.P256()

	// Reduce the seed into [1, N-1] so the scalar is always a valid key.
	d := new(big.Int).SetBytes(seed)
	d.Mod(d, new(big.Int).Sub(curve.Params().N, big.NewInt(1)))
	d.Add(d, big.NewInt(1))

	privateKey := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: curve,
		},
		D: d,
	}
	privateKey.PublicKey.X, privateKey.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())

	return privateKey, nil
}
