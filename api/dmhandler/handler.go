package dmhandler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/api"
	"github.com/cloudenroll/policy-enrollment-backend/api/tokenhandler"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/cloudenroll/policy-enrollment-backend/metrics"
	"github.com/go-chi/chi/v5"
)

// DefaultInlineLimit is the payload size up to which policy fetch responses
// inline the payload instead of referring agents to storage locations.
const DefaultInlineLimit = 64 * 1024

// Config carries the device-management service settings.
type Config struct {
	// AccessTokenSecret is the HS256 secret shared with the identity
	// provider, used to validate access tokens at registration.
	AccessTokenSecret []byte

	// PolicyLocations are the storage location URIs advertised to agents in
	// policy envelopes for payloads too large to inline.
	PolicyLocations []string

	// InlineLimit overrides DefaultInlineLimit when positive.
	InlineLimit int
}

// Handler serves the device-management endpoints.
type Handler struct {
	registry interfaces.DeviceRegistry
	signer   interfaces.PolicySigner
	storage  interfaces.StorageBackend
	config   Config
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewHandler creates a device-management handler.
func NewHandler(registry interfaces.DeviceRegistry, signer interfaces.PolicySigner, storage interfaces.StorageBackend, config Config, m *metrics.Metrics, log *slog.Logger) (*Handler, error) {
	if len(config.AccessTokenSecret) < 16 {
		return nil, errors.New("access token secret must be at least 16 bytes")
	}
	if config.InlineLimit <= 0 {
		config.InlineLimit = DefaultInlineLimit
	}

	return &Handler{
		registry: registry,
		signer:   signer,
		storage:  storage,
		config:   config,
		metrics:  m,
		log:      log,
	}, nil
}

// RegisterRoutes configures the HTTP router with the device-management
// endpoints:
//   - POST /api/dm/register
//   - POST /api/dm/unregister
//   - GET  /api/dm/policy
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/dm/register", h.HandleRegister)
	r.Post("/api/dm/unregister", h.HandleUnregister)
	r.Get("/api/dm/policy", h.HandlePolicyFetch)
}

// HandleRegister processes device registration requests.
//
// The bearer access token must carry the devicemanagement scope and a
// hosted-domain marker. Request body: api.RegisterDeviceRequest. Response:
// api.RegisterDeviceResponse with the minted DM token.
//
// Status codes:
//   - 200 OK: device registered
//   - 400 Bad Request: malformed body, device ID or registration type
//   - 401 Unauthorized: missing or invalid access token
//   - 403 Forbidden: token lacks scope or the account is not managed
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	token, ok := api.BearerToken(r)
	if !ok {
		h.metrics.RegistrationOutcomes.WithLabelValues(metrics.OutcomeRejectedAuth).Inc()
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	claims, err := tokenhandler.VerifyAccessToken(h.config.AccessTokenSecret, token)
	if err != nil {
		h.metrics.RegistrationOutcomes.WithLabelValues(metrics.OutcomeRejectedAuth).Inc()
		h.log.Debug("rejected registration token", "err", err)
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}

	if !claims.HasScope(interfaces.ScopeDeviceManagement) {
		h.metrics.RegistrationOutcomes.WithLabelValues(metrics.OutcomeRejectedScope).Inc()
		http.Error(w, "token lacks the devicemanagement scope", http.StatusForbidden)
		return
	}

	domain, err := interfaces.NewDomain(claims.HostedDomain)
	if err != nil {
		h.metrics.RegistrationOutcomes.WithLabelValues(metrics.OutcomeRejectedDomain).Inc()
		h.log.Info("refused registration for unmanaged account", slog.String("email", claims.Email))
		http.Error(w, "management not supported for this account", http.StatusForbidden)
		return
	}

	var registerReq api.RegisterDeviceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, api.MaxRequestBodySize)).Decode(&registerReq); err != nil {
		h.metrics.RegistrationOutcomes.WithLabelValues(metrics.OutcomeError).Inc()
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	deviceID, err := interfaces.ParseDeviceID(registerReq.DeviceID)
	if err != nil {
		h.metrics.RegistrationOutcomes.WithLabelValues(metrics.OutcomeError).Inc()
		http.Error(w, fmt.Errorf("invalid device id: %w", err).Error(), http.StatusBadRequest)
		return
	}

	registrationType, err := interfaces.ParseRegistrationType(registerReq.Type)
	if err != nil {
		h.metrics.RegistrationOutcomes.WithLabelValues(metrics.OutcomeError).Inc()
		http.Error(w, fmt.Errorf("invalid registration type: %w", err).Error(), http.StatusBadRequest)
		return
	}

	dmToken, err := mintDMToken()
	if err != nil {
		h.metrics.RegistrationOutcomes.WithLabelValues(metrics.OutcomeError).Inc()
		h.log.Error("failed to mint dm token", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	device := interfaces.Device{
		ID:           deviceID,
		DMToken:      dmToken,
		Domain:       domain,
		Type:         registrationType,
		Email:        claims.Email,
		MachineName:  registerReq.MachineName,
		RegisteredAt: time.Now().UTC(),
	}
	if err := h.registry.PutDevice(r.Context(), device); err != nil {
		h.metrics.RegistrationOutcomes.WithLabelValues(metrics.OutcomeError).Inc()
		h.log.Error("failed to persist device", "err", err, slog.String("deviceID", deviceID.String()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.metrics.RegistrationOutcomes.WithLabelValues(metrics.OutcomeRegistered).Inc()
	h.refreshDeviceGauge(r)
	h.log.Info("registered device",
		slog.String("deviceID", deviceID.String()),
		slog.String("domain", domain.String()),
		slog.String("type", registrationType.String()),
		slog.Any("dmToken", dmToken))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(api.RegisterDeviceResponse{DMToken: string(dmToken)}); err != nil {
		h.log.Error("failed to encode response", "err", err)
	}
}

// HandleUnregister removes a device registration.
//
// The X-DM-Token header must name the registration being removed, and the
// body's device ID must match it. Response: 204 No Content.
func (h *Handler) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	dmToken := interfaces.DMToken(r.Header.Get(api.DMTokenHeader))
	if !dmToken.Valid() {
		http.Error(w, "missing dm token", http.StatusUnauthorized)
		return
	}

	device, err := h.registry.DeviceByDMToken(r.Context(), dmToken)
	if errors.Is(err, interfaces.ErrDeviceNotFound) {
		http.Error(w, "unknown dm token", http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.log.Error("registry lookup failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var unregisterReq api.UnregisterDeviceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, api.MaxRequestBodySize)).Decode(&unregisterReq); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if unregisterReq.DeviceID != device.ID.String() {
		http.Error(w, "device id does not match dm token", http.StatusUnauthorized)
		return
	}

	if err := h.registry.RemoveDevice(r.Context(), device.ID); err != nil {
		h.log.Error("failed to remove device", "err", err, slog.String("deviceID", device.ID.String()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.metrics.RegistrationOutcomes.WithLabelValues(metrics.OutcomeUnregistered).Inc()
	h.refreshDeviceGauge(r)
	h.log.Info("unregistered device", slog.String("deviceID", device.ID.String()))

	w.WriteHeader(http.StatusNoContent)
}

// HandlePolicyFetch serves the signed policy envelope for a registered
// device.
//
// Required headers: X-DM-Token and X-Device-ID. The signature is produced
// at fetch time with the domain's signing key, so agents always receive a
// signature over exactly the bytes the envelope references.
//
// Status codes:
//   - 200 OK: envelope served
//   - 401 Unauthorized: unknown DM token or mismatched device ID
//   - 404 Not Found: no policy assigned to the device's domain
func (h *Handler) HandlePolicyFetch(w http.ResponseWriter, r *http.Request) {
	dmToken := interfaces.DMToken(r.Header.Get(api.DMTokenHeader))
	if !dmToken.Valid() {
		h.metrics.PolicyFetches.WithLabelValues(metrics.FetchUnauthorized).Inc()
		http.Error(w, "missing dm token", http.StatusUnauthorized)
		return
	}

	device, err := h.registry.DeviceByDMToken(r.Context(), dmToken)
	if errors.Is(err, interfaces.ErrDeviceNotFound) {
		h.metrics.PolicyFetches.WithLabelValues(metrics.FetchUnauthorized).Inc()
		http.Error(w, "unknown dm token", http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.metrics.PolicyFetches.WithLabelValues(metrics.FetchError).Inc()
		h.log.Error("registry lookup failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if r.Header.Get(api.DeviceIDHeader) != device.ID.String() {
		h.metrics.PolicyFetches.WithLabelValues(metrics.FetchUnauthorized).Inc()
		http.Error(w, "device id does not match dm token", http.StatusUnauthorized)
		return
	}

	contentID, err := h.registry.DomainPolicy(r.Context(), device.Domain)
	if errors.Is(err, interfaces.ErrNoPolicyForDomain) {
		h.metrics.PolicyFetches.WithLabelValues(metrics.FetchNotFound).Inc()
		http.Error(w, "no policy assigned for domain", http.StatusNotFound)
		return
	}
	if err != nil {
		h.metrics.PolicyFetches.WithLabelValues(metrics.FetchError).Inc()
		h.log.Error("policy assignment lookup failed", "err", err, slog.String("domain", device.Domain.String()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	payload, err := h.storage.Fetch(r.Context(), contentID, interfaces.PolicyContent)
	if err != nil {
		h.metrics.PolicyFetches.WithLabelValues(metrics.FetchError).Inc()
		h.log.Error("policy payload fetch failed", "err", err, slog.String("contentID", contentID.String()))
		http.Error(w, "policy payload unavailable", http.StatusInternalServerError)
		return
	}

	signature, err := h.signer.SignPayload(device.Domain, payload)
	if err != nil {
		h.metrics.PolicyFetches.WithLabelValues(metrics.FetchError).Inc()
		h.log.Error("policy signing failed", "err", err, slog.String("domain", device.Domain.String()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	envelope := api.PolicyFetchResponse{
		Domain:    device.Domain.String(),
		ContentID: contentID.String(),
		Signature: signature,
		Locations: h.config.PolicyLocations,
	}
	if len(payload) <= h.config.InlineLimit {
		envelope.Payload = payload
	}

	h.metrics.PolicyFetches.WithLabelValues(metrics.FetchOK).Inc()
	h.log.Debug("served policy envelope",
		slog.String("deviceID", device.ID.String()),
		slog.String("domain", device.Domain.String()),
		slog.String("contentID", contentID.String()),
		slog.Bool("inline", envelope.Payload != nil))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		h.log.Error("failed to encode response", "err", err)
	}
}

func (h *Handler) refreshDeviceGauge(r *http.Request) {
	devices, err := h.registry.ListDevices(r.Context())
	if err != nil {
		h.log.Debug("could not refresh device gauge", "err", err)
		return
	}
	h.metrics.RegisteredDevices.Set(float64(len(devices)))
}

// mintDMToken generates an opaque device-management token.
func mintDMToken() (interfaces.DMToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("could not read randomness: %w", err)
	}
	return interfaces.DMToken(hex.EncodeToString(raw)), nil
}
