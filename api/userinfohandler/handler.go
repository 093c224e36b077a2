package userinfohandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cloudenroll/policy-enrollment-backend/api"
	"github.com/cloudenroll/policy-enrollment-backend/api/tokenhandler"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/go-chi/chi/v5"
)

// Handler serves the userinfo endpoint. It validates bearer access tokens
// with the signing secret shared with the token endpoint and renders the
// identity document from the token's claims.
type Handler struct {
	signingSecret []byte
	log           *slog.Logger
}

// NewHandler creates a userinfo endpoint handler.
func NewHandler(signingSecret []byte, log *slog.Logger) (*Handler, error) {
	if len(signingSecret) < 16 {
		return nil, errors.New("token signing secret must be at least 16 bytes")
	}

	return &Handler{
		signingSecret: signingSecret,
		log:           log,
	}, nil
}

// RegisterRoutes configures the HTTP router with the userinfo endpoint:
//   - GET /oauth2/userinfo
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/oauth2/userinfo", h.HandleUserInfo)
}

// HandleUserInfo serves the identity document for the bearer token.
//
// Response: JSON-encoded api.UserInfoResponse. The hd field is present only
// for accounts in a managed domain.
//
// Status codes:
//   - 200 OK: document served
//   - 401 Unauthorized: missing, malformed or invalid bearer token
//   - 403 Forbidden: token lacks the userinfo scope
func (h *Handler) HandleUserInfo(w http.ResponseWriter, r *http.Request) {
	token, ok := api.BearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	claims, err := tokenhandler.VerifyAccessToken(h.signingSecret, token)
	if err != nil {
		h.log.Debug("rejected userinfo request", "err", err)
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}

	if !claims.HasScope(interfaces.ScopeUserInfo) {
		w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
		http.Error(w, "token lacks the userinfo scope", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(api.UserInfoResponse{
		Email:        claims.Email,
		HostedDomain: claims.HostedDomain,
	}); err != nil {
		h.log.Error("failed to encode response", "err", err)
	}
}
