package policysign

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudenroll/policy-enrollment-backend/cryptoutils"
	"github.com/hashicorp/vault/shamir"
)

// Escrow protects the policy signing master key with Shamir Secret Sharing.
// The master key is split into shares and distributed to administrators,
// requiring a threshold number of shares to reconstruct the key.
//
// The master key is never stored in persistent storage. During recovery the
// shares are collected and combined to reconstruct the master key, which is
// then kept only in memory.
type Escrow struct {
	mu             sync.RWMutex
	masterKey      []byte         // The reconstructed master key, stored only in memory
	unlocked       bool           // Whether enough shares have been collected
	threshold      int            // Minimum number of shares required to reconstruct the master key
	receivedShares map[int][]byte // Temporary storage for shares during reconstruction

	adminPubKeys map[string][]byte // Admin public key PEMs by fingerprint
}

// EscrowConfig contains configuration parameters for creating an Escrow instance.
type EscrowConfig struct {
	// Threshold is the minimum number of shares required to reconstruct the master key
	Threshold int
	// AdminPubKeys is the list of authorized administrator public keys in PEM format
	AdminPubKeys [][]byte
}

// NewEscrow creates a new Escrow for initial setup.
// It splits the master key into one share per admin using Shamir's Secret
// Sharing. The shares must be securely distributed to administrators and the
// original master key should be securely erased after this function returns.
func NewEscrow(masterKey []byte, config EscrowConfig) (*Escrow, [][]byte, error) {
	if len(masterKey) < 32 {
		return nil, nil, errors.New("master key must be at least 32 bytes")
	}

	if config.Threshold < 2 {
		return nil, nil, errors.New("threshold must be at least 2")
	}

	if len(config.AdminPubKeys) < config.Threshold {
		return nil, nil, errors.New("total shares must be at least equal to threshold")
	}

	shares, err := shamir.Split(masterKey, len(config.AdminPubKeys), config.Threshold)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to split master key: %w", err)
	}

	escrow := &Escrow{
		masterKey:      masterKey,
		unlocked:       true,
		threshold:      config.Threshold,
		receivedShares: make(map[int][]byte),
		adminPubKeys:   make(map[string][]byte),
	}

	if err := escrow.registerAdmins(config.AdminPubKeys); err != nil {
		return nil, nil, err
	}

	return escrow, shares, nil
}

// NewEscrowRecovery creates a new Escrow in recovery mode.
// This function should be used when starting the signer without a master key.
// The escrow remains locked until enough valid shares are submitted to
// reconstruct the master key.
func NewEscrowRecovery(config EscrowConfig) (*Escrow, error) {
	if config.Threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}

	escrow := &Escrow{
		masterKey:      nil,
		unlocked:       false,
		threshold:      config.Threshold,
		receivedShares: make(map[int][]byte),
		adminPubKeys:   make(map[string][]byte),
	}

	if err := escrow.registerAdmins(config.AdminPubKeys); err != nil {
		return nil, err
	}

	return escrow, nil
}

func (e *Escrow) registerAdmins(pubKeyPEMs [][]byte) error {
	for _, publicKeyPEM := range pubKeyPEMs {
		if _, err := cryptoutils.ParsePublicKey(publicKeyPEM); err != nil {
			return fmt.Errorf("invalid admin pubkey %s: %w", publicKeyPEM, err)
		}
		e.adminPubKeys[cryptoutils.ComputeFingerprint(publicKeyPEM)] = publicKeyPEM
	}
	return nil
}

// SubmitShare submits a key share with cryptographic verification.
// Each share must be signed by the administrator's private key to verify its
// authenticity. When the threshold number of valid shares are received, the
// master key is automatically reconstructed and the escrow unlocks.
func (e *Escrow) SubmitShare(shareIndex int, share, signature, adminPubKeyPEM []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.unlocked {
		return errors.New("escrow is already unlocked")
	}

	// Verify the admin's public key is registered
	fingerprint := cryptoutils.ComputeFingerprint(adminPubKeyPEM)
	pubkeyForFingerprint, found := e.adminPubKeys[fingerprint]
	if !found {
		return errors.New("unregistered admin public key")
	}

	if !bytes.Equal(pubkeyForFingerprint, adminPubKeyPEM) {
		return errors.New("invalid pubkey passed for a matching fingerprint")
	}

	pubKey, err := cryptoutils.ParsePublicKey(adminPubKeyPEM)
	if err != nil {
		return fmt.Errorf("failed to parse admin public key: %w", err)
	}

	hash := sha256.Sum256(share)
	if !ecdsa.VerifyASN1(pubKey, hash[:], signature) {
		return errors.New("invalid signature")
	}

	e.receivedShares[shareIndex] = share

	return e.tryReconstruct()
}

// tryReconstruct attempts to reconstruct the master key from the received
// shares. If enough shares have been received, Shamir's algorithm is used to
// combine them and recover the original master key. After successful
// reconstruction, all shares are wiped from memory.
func (e *Escrow) tryReconstruct() error {
	if len(e.receivedShares) < e.threshold {
		return nil // Not enough shares yet, but this is not an error
	}

	shares := make([][]byte, 0, len(e.receivedShares))
	for _, share := range e.receivedShares {
		shares = append(shares, share)
	}

	masterKey, err := shamir.Combine(shares)
	if err != nil {
		return fmt.Errorf("failed to reconstruct master key: %w", err)
	}

	e.masterKey = masterKey
	e.unlocked = true

	// Clear shares from memory
	for i := range e.receivedShares {
		wipeBytes(e.receivedShares[i])
	}
	e.receivedShares = make(map[int][]byte)

	return nil
}

// IsUnlocked returns whether the escrow holds a reconstructed master key.
func (e *Escrow) IsUnlocked() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.unlocked
}

// Signer returns a SimpleSigner built from the escrowed master key.
// Returns an error while the escrow is locked.
func (e *Escrow) Signer() (*SimpleSigner, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.unlocked {
		return nil, errors.New("escrow is locked - need more shares to unlock")
	}

	return NewSimpleSigner(e.masterKey)
}

// MasterKey returns the reconstructed master key.
// Returns an error while the escrow is locked.
func (e *Escrow) MasterKey() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.unlocked {
		return nil, errors.New("escrow is locked - need more shares to unlock")
	}

	return e.masterKey, nil
}

// SignShare generates a signature for a share using an administrator's
// private key. Administrators use this when submitting their share during
// recovery; the signature proves the share comes from its legitimate holder.
// The signature is ASN.1 encoded ECDSA over the SHA-256 hash of the share.
func SignShare(share []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	hash := sha256.Sum256(share)
	return ecdsa.SignASN1(rand.Reader, privateKey, hash[:])
}

// Securely wipe data from memory
func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
