package interfaces

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// OAuth scopes requested for every registration token, regardless of which
// acquisition strategy produced it.
const (
	// ScopeDeviceManagement authorizes device-management registration calls.
	ScopeDeviceManagement = "devicemanagement"

	// ScopeUserInfo authorizes reading the identity document, including the
	// hosted-domain marker.
	ScopeUserInfo = "userinfo.email"
)

// RegistrationScopes returns the fixed scope set used for registration token
// requests. Both acquisition strategies request exactly this set.
func RegistrationScopes() []string {
	return []string{ScopeDeviceManagement, ScopeUserInfo}
}

// AccessToken is an opaque short-lived bearer token scoped to the
// registration services. The empty string is the designated sentinel for
// "acquisition failed" and is never a valid token value.
type AccessToken string

// Valid reports whether the token carries a value (is not the failure
// sentinel).
func (t AccessToken) Valid() bool {
	return t != ""
}

// LogValue redacts the token for structured logging. Token values must never
// reach logs in cleartext; only presence and a short digest are recorded.
func (t AccessToken) LogValue() slog.Value {
	if t == "" {
		return slog.StringValue("(empty)")
	}
	digest := sha256.Sum256([]byte(t))
	return slog.StringValue(fmt.Sprintf("sha256:%s", hex.EncodeToString(digest[:4])))
}

// DMToken is the device-management token minted by the server at
// registration. It authenticates subsequent policy fetches.
type DMToken string

// Valid reports whether the token carries a value.
func (t DMToken) Valid() bool {
	return t != ""
}

// LogValue redacts the DM token for structured logging.
func (t DMToken) LogValue() slog.Value {
	if t == "" {
		return slog.StringValue("(empty)")
	}
	digest := sha256.Sum256([]byte(t))
	return slog.StringValue(fmt.Sprintf("sha256:%s", hex.EncodeToString(digest[:4])))
}

// DeviceID uniquely identifies a device registration. IDs are UUID strings.
type DeviceID string

// NewDeviceID generates a fresh random device ID.
func NewDeviceID() DeviceID {
	return DeviceID(uuid.Must(uuid.NewRandom()).String())
}

// ParseDeviceID validates and normalizes a device ID string.
func ParseDeviceID(s string) (DeviceID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid device id: %w", err)
	}
	return DeviceID(id.String()), nil
}

// String returns the device ID as a string.
func (id DeviceID) String() string {
	return string(id)
}

// Domain is a hosted (managed) organizational domain name such as
// "example.com". Accounts carrying a hosted-domain marker belong to a managed
// domain and are eligible for policy registration.
type Domain string

var domainRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// NewDomain creates a domain name with validation.
func NewDomain(domain string) (Domain, error) {
	if !domainRegex.MatchString(domain) {
		return Domain(""), errors.New("invalid domain name format")
	}
	return Domain(strings.ToLower(domain)), nil
}

// String returns the domain name as a string.
func (d Domain) String() string {
	return string(d)
}

// Validate checks if the domain name has a valid format.
func (d Domain) Validate() error {
	_, err := NewDomain(string(d))
	return err
}

// RegistrationType selects what kind of policy session a registration
// establishes.
type RegistrationType int

const (
	// RegistrationTypeUser registers a per-user policy session.
	RegistrationTypeUser RegistrationType = iota

	// RegistrationTypeDevice registers a whole-device policy session.
	RegistrationTypeDevice
)

// String returns the wire name of the registration type.
func (rt RegistrationType) String() string {
	switch rt {
	case RegistrationTypeUser:
		return "user"
	case RegistrationTypeDevice:
		return "device"
	default:
		return "unknown"
	}
}

// ParseRegistrationType maps a wire name back to a registration type.
func ParseRegistrationType(s string) (RegistrationType, error) {
	switch s {
	case "user":
		return RegistrationTypeUser, nil
	case "device":
		return RegistrationTypeDevice, nil
	default:
		return 0, fmt.Errorf("unknown registration type %q", s)
	}
}

// RegistrationRequest describes one registration attempt. It is supplied once
// at coordinator construction and is immutable for the life of the attempt.
type RegistrationRequest struct {
	// Type selects the kind of policy session to establish.
	Type RegistrationType

	// ForceLoad bypasses the hosted-domain gate: registration proceeds even
	// when the identity document carries no hosted-domain marker.
	ForceLoad bool
}

// HostedDomainInfo is the result of an identity lookup: whether the account's
// identity document carries a hosted-domain marker, and which domain it
// names. It is transient and discarded once the registration decision is
// made.
type HostedDomainInfo struct {
	Present bool
	Domain  Domain
}

// UserInfo is the identity document returned by the identity-info service.
// The enrollment workflow inspects only the hosted-domain marker; the
// remaining attributes are recorded on the device for operators.
type UserInfo struct {
	Email        string
	HostedDomain string
}

// CredentialKind tags the Credential union.
type CredentialKind int

const (
	// CredentialUsernameHint selects the service-backed acquisition strategy:
	// an identity-provider session issues the token, optionally pinned to a
	// username hint.
	CredentialUsernameHint CredentialKind = iota

	// CredentialRefreshToken selects the exchange strategy: a long-lived
	// login refresh token is exchanged directly for a scoped access token.
	CredentialRefreshToken
)

// String returns the strategy name selected by the tag.
func (k CredentialKind) String() string {
	switch k {
	case CredentialRefreshToken:
		return "refresh-token"
	case CredentialUsernameHint:
		return "username-hint"
	default:
		return "unknown"
	}
}

// Credential is the tagged union selecting which token acquisition strategy a
// registration attempt runs. Exactly one variant is populated.
//
// Invariant for the username-hint variant: an empty hint requires the backing
// identity-service session to already hold a valid refresh credential. The
// invariant is enforced by the acquisition strategy's precondition check, not
// re-verified here.
type Credential struct {
	kind         CredentialKind
	usernameHint string
	refreshToken string
}

// UsernameHintCredential builds the service-backed variant. The hint may be
// empty when the identity-service session already holds a refresh credential.
func UsernameHintCredential(hint string) Credential {
	return Credential{kind: CredentialUsernameHint, usernameHint: hint}
}

// RefreshTokenCredential builds the exchange variant. The refresh token must
// be non-empty.
func RefreshTokenCredential(token string) Credential {
	return Credential{kind: CredentialRefreshToken, refreshToken: token}
}

// Kind returns the populated variant's tag.
func (c Credential) Kind() CredentialKind {
	return c.kind
}

// UsernameHint returns the username hint of the service-backed variant.
func (c Credential) UsernameHint() string {
	return c.usernameHint
}

// RefreshToken returns the refresh token of the exchange variant.
func (c Credential) RefreshToken() string {
	return c.refreshToken
}
