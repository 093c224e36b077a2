package interfaces

// PolicySigner produces detached signatures over policy payloads. Each domain
// gets its own signing key so that a compromised domain key cannot forge
// policy for another domain.
type PolicySigner interface {
	// SignPayload signs a policy payload with the domain's signing key and
	// returns the detached ASN.1 signature.
	SignPayload(domain Domain, payload []byte) ([]byte, error)

	// VerifyingKeyPEM returns the PEM-encoded public key agents use to
	// verify payloads signed for the domain.
	VerifyingKeyPEM(domain Domain) ([]byte, error)
}
