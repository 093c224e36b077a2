// Package interfaces defines core interfaces and types for the policy
// enrollment system, separating interface definitions from implementations.
//
// The package provides contracts for the key components of the system:
//
// # Enrollment Interfaces
//
// PolicyClient: The registration sink observed by the enrollment workflow. A
// policy client exposes its registration state, accepts an asynchronous
// registration request, and notifies observers of state changes, errors, and
// policy fetches.
//
// TokenService: Mints scoped access tokens from an identity-provider session
// that already holds a refresh credential (the service-backed acquisition
// strategy).
//
// TokenExchanger: Exchanges a long-lived login refresh token directly for a
// scoped access token (the exchange acquisition strategy).
//
// UserInfoSource: Fetches identity attributes for a bearer token, in
// particular the hosted-domain marker used as the registration gate.
//
// # Server-Side Interfaces
//
// DeviceRegistry: The device-management server's record of registered
// devices, DM token lookups, and per-domain policy assignments.
//
// PolicySigner: Produces detached signatures over policy payloads using
// per-domain signing keys, and exposes the matching verifying keys.
//
// # Storage Interfaces
//
// StorageBackend: Content-addressed storage for policy payloads and their
// detached signatures across multiple backend types (file, S3, IPFS, GitHub,
// Vault).
//
// StorageBackendFactory: Creates storage backends from URI strings and
// aggregates them into multi-backend configurations for redundant storage.
//
// # Type Definitions
//
//   - AccessToken: opaque bearer token; the empty string is the designated
//     sentinel for "acquisition failed" and is never a valid token
//   - DMToken: device-management token minted at registration
//   - DeviceID: UUID identifying a registered device
//   - Domain: hosted (managed) domain name
//   - Credential: tagged union selecting the token acquisition strategy
//   - RegistrationRequest: registration type plus the force-load gate bypass
//   - ContentID: 32-byte SHA-256 hash for content addressing
//   - ContentType: storage namespace (PolicyContent, SignatureContent)
//
// # Error Types
//
// Standard errors returned by registry and storage operations:
//
//   - ErrDeviceNotFound: device is not present in the registry
//   - ErrNoPolicyForDomain: no policy payload assigned to the domain
//   - ErrContentNotFound: content not found in the storage system
//   - ErrBackendUnavailable: storage backend is not accessible
//   - ErrInvalidLocationURI: storage location URI is malformed
//
// Components should depend on these interfaces rather than concrete
// implementations:
//
//	func NewHandler(
//	    registry interfaces.DeviceRegistry,
//	    signer interfaces.PolicySigner,
//	    storageFactory interfaces.StorageBackendFactory,
//	) *Handler {
//	    // ...
//	}
package interfaces
