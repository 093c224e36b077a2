// Package storage implements content-addressed storage for policy payloads
// and their detached signatures.
//
// Content is identified by the SHA-256 hash of its bytes, so every backend
// can verify what it serves and replicas never diverge. Two content
// namespaces exist: policy payloads and detached signatures
// (interfaces.PolicyContent, interfaces.SignatureContent).
//
// # Backends
//
//   - FileBackend: local file system, one subdirectory per content type
//   - S3Backend: Amazon S3 or compatible object storage, public read with
//     optional authenticated write
//   - VaultBackend: HashiCorp Vault KV v2, authenticated with a TLS client
//     certificate or a Vault token
//   - IPFSBackend: IPFS node or gateway
//   - GitHubBackend: read-only raw-content backend for repositories laid out
//     like FileBackend
//
// MultiStorageBackend aggregates several backends: Store writes to every
// available backend, Fetch returns the first hit. StorageBackendFactory
// builds backends from location URIs:
//
//	file:///var/lib/policies/
//	s3://ACCESS:SECRET@bucket/prefix/?region=us-east-1
//	vault://vault.example.com:8200/secret/policies?token=...
//	ipfs://127.0.0.1:5001/?timeout=30s
//	github://owner/repo?ref=main
//
// The factory's WithTLSAuth option supplies the client certificate for
// Vault backends.
package storage
