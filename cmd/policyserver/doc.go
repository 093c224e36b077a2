// Package main (cmd/policyserver) implements the cloud policy server.
//
// The policy server exposes the device-management API agents register against
// (token-validated registration, DM-token-authenticated policy fetch and
// unregistration) and the signature-authenticated admin API operators store
// and assign policy payloads through. Device state lives in a bolt database;
// policy payloads live in content-addressed storage backends, any mix of
// file, S3, Vault, IPFS and GitHub locations.
//
// The per-domain policy signing keys are derived from a single master key.
// The server accepts the master key in one of two ways:
//
//   - directly, as a hex-encoded 32-byte value (--signing-master-key), or
//
//   - by reconstruction from a signed escrow share bundle
//     (--escrow-shares-file) produced by `enrollctl escrow recover`. The
//     bundle carries administrator-signed Shamir shares; the server verifies
//     each signature against the share holder's public key before combining.
//
// The server implements graceful shutdown on termination signals
// (SIGINT/SIGTERM) and serves health checks, Prometheus metrics, and optional
// profiling endpoints.
//
// Example usage:
//
//	policyserver --listen-addr=0.0.0.0:8080 \
//	    --registry-db=/var/lib/policyserver/devices.db \
//	    --storage-location=file:///var/lib/policyserver/policies \
//	    --admin-keys-file=./admins.json \
//	    --access-token-secret=6d792d7369676e696e672d736563726574 \
//	    --signing-master-key=0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef
package main
