package api

import (
	"fmt"
	"time"
)

// Header names shared by the enrollment services and their clients.
const (
	// AuthorizationHeader carries "Bearer <access token>" on identity and
	// registration requests.
	AuthorizationHeader = "Authorization"

	// DMTokenHeader authenticates device-management requests issued after
	// registration.
	DMTokenHeader = "X-DM-Token"

	// DeviceIDHeader identifies the calling device on device-management
	// requests.
	DeviceIDHeader = "X-Device-ID"

	// AdminIDHeader names the registered admin key that signed an admin
	// request.
	AdminIDHeader = "X-Admin-ID"

	// AdminSignatureHeader carries the base64-encoded ECDSA signature over
	// an admin request path and body.
	AdminSignatureHeader = "X-Admin-Signature"
)

// Token endpoint form parameters (application/x-www-form-urlencoded).
const (
	ParamGrantType    = "grant_type"
	ParamRefreshToken = "refresh_token"
	ParamClientID     = "client_id"
	ParamClientSecret = "client_secret"
	ParamScope        = "scope"
	ParamLoginHint    = "login_hint"

	// GrantRefreshToken is the only grant type the token endpoint serves.
	GrantRefreshToken = "refresh_token"
)

// MaxRequestBodySize bounds request bodies accepted by the services.
const MaxRequestBodySize = 1 << 20

// TokenResponse is the token endpoint's success payload.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// TokenErrorResponse is the token endpoint's failure payload.
type TokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// UserInfoResponse is the identity document served by the userinfo endpoint.
// The hosted-domain marker is present only for accounts in a managed domain.
type UserInfoResponse struct {
	Email        string `json:"email"`
	HostedDomain string `json:"hd,omitempty"`
}

// RegisterDeviceRequest registers a device for policy. The device generates
// its own ID; the server mints the DM token.
type RegisterDeviceRequest struct {
	DeviceID    string `json:"device_id"`
	Type        string `json:"type"`
	MachineName string `json:"machine_name,omitempty"`
}

// RegisterDeviceResponse carries the DM token for a new registration.
type RegisterDeviceResponse struct {
	DMToken string `json:"dm_token"`
}

// UnregisterDeviceRequest removes a device registration.
type UnregisterDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

// PolicyFetchResponse is the signed policy envelope returned to registered
// devices. Small payloads are inlined; larger ones are addressed by content
// ID through the listed storage locations.
type PolicyFetchResponse struct {
	Domain    string   `json:"domain"`
	ContentID string   `json:"content_id"`
	Signature []byte   `json:"signature"`
	Payload   []byte   `json:"payload,omitempty"`
	Locations []string `json:"locations,omitempty"`
}

// StorePolicyResponse reports where an uploaded policy payload was stored.
type StorePolicyResponse struct {
	ContentID string   `json:"content_id"`
	Locations []string `json:"locations"`
}

// AssignPolicyRequest assigns a previously stored payload to a domain.
type AssignPolicyRequest struct {
	Domain    string `json:"domain"`
	ContentID string `json:"content_id"`
}

// AssignPolicyResponse confirms a domain assignment. The detached signature
// is also stored content-addressed under SignatureID for out-of-band
// distribution alongside the payload.
type AssignPolicyResponse struct {
	ContentID   string `json:"content_id"`
	SignatureID string `json:"signature_id"`
	Signature   []byte `json:"signature"`
}

// DeviceRecord is a registry entry in admin listings.
type DeviceRecord struct {
	DeviceID     string    `json:"device_id"`
	Type         string    `json:"type"`
	Domain       string    `json:"domain"`
	Email        string    `json:"email,omitempty"`
	MachineName  string    `json:"machine_name,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ListDevicesResponse carries the registry contents for operators.
type ListDevicesResponse struct {
	Devices []DeviceRecord `json:"devices"`
}

// RequestError wraps an error with the HTTP status a service responded with.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
