// Package policysign manages the signing keys for policy payloads.
//
// SimpleSigner derives a per-domain ECDSA P-256 signing key from a single
// master key. Derivation is deterministic, so any holder of the master key
// can reproduce every domain's key pair without persistent key storage. The
// signer produces detached ASN.1 signatures over the SHA-256 hash of the
// payload, and exposes each domain's verifying key as PKIX PEM for agents to
// pin.
//
// Escrow protects the master key with Shamir's Secret Sharing. The master
// key is split into shares and distributed to administrators, requiring a
// threshold number of shares to reconstruct the key. The master key is never
// stored in persistent storage. During recovery each submitted share must be
// signed by a registered administrator's private key; once the threshold is
// reached the key is reconstructed in memory and the collected shares are
// wiped.
package policysign
