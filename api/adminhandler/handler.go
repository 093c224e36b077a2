package adminhandler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cloudenroll/policy-enrollment-backend/api"
	"github.com/cloudenroll/policy-enrollment-backend/cryptoutils"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/go-chi/chi/v5"
)

// Handler serves the admin endpoints.
type Handler struct {
	registry  interfaces.DeviceRegistry
	signer    interfaces.PolicySigner
	storage   interfaces.StorageBackend
	adminKeys map[string][]byte
	locations []string
	log       *slog.Logger
}

// NewHandler creates an admin handler. adminKeys maps admin IDs to their
// PEM-encoded ECDSA public keys; an empty map locks out the whole surface.
func NewHandler(registry interfaces.DeviceRegistry, signer interfaces.PolicySigner, storage interfaces.StorageBackend, adminKeys map[string][]byte, locations []string, log *slog.Logger) *Handler {
	return &Handler{
		registry:  registry,
		signer:    signer,
		storage:   storage,
		adminKeys: adminKeys,
		locations: locations,
		log:       log,
	}
}

// RegisterRoutes configures the HTTP router with the admin endpoints, all
// behind signature authentication:
//   - POST /api/admin/policy
//   - POST /api/admin/assign
//   - GET  /api/admin/devices
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.adminAuth)
		r.Post("/api/admin/policy", h.HandleStorePolicy)
		r.Post("/api/admin/assign", h.HandleAssignPolicy)
		r.Get("/api/admin/devices", h.HandleListDevices)
	})
}

// adminAuth verifies the X-Admin-ID / X-Admin-Signature headers against the
// registered admin keys. The signature covers the request path and body; the
// body is rewound for the wrapped handler.
func (h *Handler) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminID := r.Header.Get(api.AdminIDHeader)
		if adminID == "" {
			http.Error(w, "missing admin id", http.StatusUnauthorized)
			return
		}

		pubKeyPEM, ok := h.adminKeys[adminID]
		if !ok {
			h.log.Info("rejected unknown admin", slog.String("adminID", adminID))
			http.Error(w, "unknown admin id", http.StatusUnauthorized)
			return
		}

		signature, err := base64.StdEncoding.DecodeString(r.Header.Get(api.AdminSignatureHeader))
		if err != nil || len(signature) == 0 {
			http.Error(w, "missing or malformed admin signature", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, api.MaxRequestBodySize))
		if err != nil {
			http.Error(w, "could not read request body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if err := cryptoutils.VerifyAdminSignature(pubKeyPEM, r.URL.Path, body, signature); err != nil {
			h.log.Info("rejected admin signature", slog.String("adminID", adminID), "err", err)
			http.Error(w, "invalid admin signature", http.StatusForbidden)
			return
		}

		h.log.Debug("authenticated admin request",
			slog.String("adminID", adminID),
			slog.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

// HandleStorePolicy stores a raw policy payload content-addressed.
//
// Request body: the payload bytes. Response: api.StorePolicyResponse with
// the payload's content ID and the storage locations it replicates to.
func (h *Handler) HandleStorePolicy(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "could not read request body", http.StatusBadRequest)
		return
	}
	if len(payload) == 0 {
		http.Error(w, "empty policy payload", http.StatusBadRequest)
		return
	}

	id, err := h.storage.Store(r.Context(), payload, interfaces.PolicyContent)
	if err != nil {
		h.log.Error("failed to store policy payload", "err", err)
		http.Error(w, "could not store payload", http.StatusInternalServerError)
		return
	}

	h.log.Info("stored policy payload",
		slog.String("contentID", id.String()),
		slog.Int("size", len(payload)))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(api.StorePolicyResponse{
		ContentID: id.String(),
		Locations: h.locations,
	}); err != nil {
		h.log.Error("failed to encode response", "err", err)
	}
}

// HandleAssignPolicy assigns a stored payload to a domain: the payload is
// signed with the domain's key, the detached signature stored next to it,
// and the domain's registry entry updated.
//
// Request body: api.AssignPolicyRequest. Response: api.AssignPolicyResponse.
func (h *Handler) HandleAssignPolicy(w http.ResponseWriter, r *http.Request) {
	var assignReq api.AssignPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&assignReq); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	domain, err := interfaces.NewDomain(assignReq.Domain)
	if err != nil {
		http.Error(w, fmt.Errorf("invalid domain: %w", err).Error(), http.StatusBadRequest)
		return
	}

	contentID, err := interfaces.NewContentIDFromHex(assignReq.ContentID)
	if err != nil {
		http.Error(w, fmt.Errorf("invalid content id: %w", err).Error(), http.StatusBadRequest)
		return
	}

	payload, err := h.storage.Fetch(r.Context(), contentID, interfaces.PolicyContent)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		http.Error(w, "payload not stored", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("failed to fetch payload for assignment", "err", err, slog.String("contentID", contentID.String()))
		http.Error(w, "could not fetch payload", http.StatusInternalServerError)
		return
	}

	signature, err := h.signer.SignPayload(domain, payload)
	if err != nil {
		h.log.Error("failed to sign payload", "err", err, slog.String("domain", domain.String()))
		http.Error(w, "could not sign payload", http.StatusInternalServerError)
		return
	}

	signatureID, err := h.storage.Store(r.Context(), signature, interfaces.SignatureContent)
	if err != nil {
		h.log.Error("failed to store detached signature", "err", err)
		http.Error(w, "could not store signature", http.StatusInternalServerError)
		return
	}

	if err := h.registry.SetDomainPolicy(r.Context(), domain, contentID); err != nil {
		h.log.Error("failed to assign policy", "err", err, slog.String("domain", domain.String()))
		http.Error(w, "could not assign policy", http.StatusInternalServerError)
		return
	}

	h.log.Info("assigned policy to domain",
		slog.String("domain", domain.String()),
		slog.String("contentID", contentID.String()),
		slog.String("signatureID", signatureID.String()))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(api.AssignPolicyResponse{
		ContentID:   contentID.String(),
		SignatureID: signatureID.String(),
		Signature:   signature,
	}); err != nil {
		h.log.Error("failed to encode response", "err", err)
	}
}

// HandleListDevices serves the full registry contents.
//
// Response: api.ListDevicesResponse.
func (h *Handler) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.registry.ListDevices(r.Context())
	if err != nil {
		h.log.Error("failed to list devices", "err", err)
		http.Error(w, "could not list devices", http.StatusInternalServerError)
		return
	}

	records := make([]api.DeviceRecord, 0, len(devices))
	for _, device := range devices {
		records = append(records, api.DeviceRecord{
			DeviceID:     device.ID.String(),
			Type:         device.Type.String(),
			Domain:       device.Domain.String(),
			Email:        device.Email,
			MachineName:  device.MachineName,
			RegisteredAt: device.RegisteredAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(api.ListDevicesResponse{Devices: records}); err != nil {
		h.log.Error("failed to encode response", "err", err)
	}
}
