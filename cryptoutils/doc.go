// Package cryptoutils provides cryptographic operations shared by the
// enrollment server, the admin CLI, and the device agent.
//
// Three concerns live here:
//
//   - ECIES encryption of signing-key escrow shares, so that each share can
//     only be read by the administrator it was issued to
//   - ECDSA administrator keys used to authenticate requests against the
//     admin API
//   - sealing of the agent's persistent state (device identity and DM token)
//     under a key derived from a local machine secret
//
// # Share Encryption Format
//
// Escrow shares are encrypted with ECIES (ECDH key agreement on the admin
// key's curve, SHA-256 key derivation, AES-GCM). The encrypted data follows
// this binary format:
//
//	[ephemeral key length (2 bytes)][ephemeral key][iv (12 bytes)][ciphertext]
//
// Where:
//   - Ephemeral key length: uint16 in big-endian format
//   - Ephemeral key: Elliptic curve point encoded using elliptic.Marshal()
//   - IV: 12-byte nonce for AES-GCM
//   - Ciphertext: The encrypted data with GCM authentication tag
//
// A fresh ephemeral key is generated for every encryption, so shares
// encrypted to the same admin key never share key material.
//
// # Admin Request Signatures
//
// Admin API requests are signed with the administrator's ECDSA private key
// over SHA-256(request path + request body). Signatures travel base64-encoded
// in the X-Admin-Signature header; the X-Admin-ID header names the key the
// server should verify against.
//
// # State Sealing
//
// The agent stores its DM token encrypted at rest. DeriveStateKey stretches a
// machine-local secret into an AES-256 key with Argon2id, and SealState and
// OpenState wrap AES-GCM with the nonce prepended to the ciphertext.
package cryptoutils
