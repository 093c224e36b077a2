package policysign

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// SignedShare is one escrow share ready for submission: the plaintext share,
// the holder's signature over it, and the holder's public key.
type SignedShare struct {
	Index       int    `json:"index"`
	Share       []byte `json:"share"`
	Signature   []byte `json:"signature"`
	AdminPubKey []byte `json:"admin_pubkey"`
}

// SignedShareBundle is the recovery file format: enough signed shares to
// reconstruct a signing master key. It is produced by the operator tool and
// consumed by the policy server's escrow startup mode.
type SignedShareBundle struct {
	Threshold int           `json:"threshold"`
	Shares    []SignedShare `json:"shares"`
}

// WriteSignedShareBundle serializes a bundle as JSON.
func WriteSignedShareBundle(w io.Writer, bundle SignedShareBundle) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(bundle); err != nil {
		return fmt.Errorf("could not encode share bundle: %w", err)
	}
	return nil
}

// ReadSignedShareBundle parses a bundle written by WriteSignedShareBundle.
func ReadSignedShareBundle(r io.Reader) (SignedShareBundle, error) {
	var bundle SignedShareBundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return SignedShareBundle{}, fmt.Errorf("could not parse share bundle: %w", err)
	}
	if bundle.Threshold < 2 {
		return SignedShareBundle{}, errors.New("share bundle threshold must be at least 2")
	}
	if len(bundle.Shares) < bundle.Threshold {
		return SignedShareBundle{}, fmt.Errorf("share bundle holds %d shares, need at least %d", len(bundle.Shares), bundle.Threshold)
	}
	return bundle, nil
}

// RecoverMasterKey reconstructs a signing master key from a bundle of signed
// shares. Every share's signature is verified against its embedded admin
// public key before it is combined; a single bad signature fails the whole
// recovery.
func RecoverMasterKey(bundle SignedShareBundle) ([]byte, error) {
	pubKeys := make([][]byte, 0, len(bundle.Shares))
	for _, share := range bundle.Shares {
		pubKeys = append(pubKeys, share.AdminPubKey)
	}

	escrow, err := NewEscrowRecovery(EscrowConfig{
		Threshold:    bundle.Threshold,
		AdminPubKeys: pubKeys,
	})
	if err != nil {
		return nil, err
	}

	for _, share := range bundle.Shares {
		if err := escrow.SubmitShare(share.Index, share.Share, share.Signature, share.AdminPubKey); err != nil {
			return nil, fmt.Errorf("share %d rejected: %w", share.Index, err)
		}
		if escrow.IsUnlocked() {
			break
		}
	}

	return escrow.MasterKey()
}
