package tokenhandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/api"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/go-chi/chi/v5"
)

// DefaultTokenTTL is the access token lifetime used when the handler config
// leaves it unset.
const DefaultTokenTTL = time.Hour

// Account is one identity-provider account the token endpoint can issue
// tokens for. Accounts in a managed domain carry a hosted-domain marker.
type Account struct {
	Email        string
	HostedDomain string
}

// Config carries the token endpoint settings.
type Config struct {
	// ClientID and ClientSecret authenticate callers of the endpoint.
	ClientID     string
	ClientSecret string

	// SigningSecret is the HS256 key access tokens are signed with. The
	// userinfo and device-management services validate tokens with the same
	// secret.
	SigningSecret []byte

	// TokenTTL is the access token lifetime, DefaultTokenTTL if zero.
	TokenTTL time.Duration
}

// Handler serves the OAuth2 token endpoint backed by a static account set
// keyed by refresh token.
type Handler struct {
	accounts map[string]Account
	config   Config
	log      *slog.Logger
}

// NewHandler creates a token endpoint handler for the given accounts.
func NewHandler(accounts map[string]Account, config Config, log *slog.Logger) (*Handler, error) {
	if len(config.SigningSecret) < 16 {
		return nil, errors.New("token signing secret must be at least 16 bytes")
	}
	if config.ClientID == "" || config.ClientSecret == "" {
		return nil, errors.New("token endpoint needs a client ID and secret")
	}
	if config.TokenTTL == 0 {
		config.TokenTTL = DefaultTokenTTL
	}

	return &Handler{
		accounts: accounts,
		config:   config,
		log:      log,
	}, nil
}

// RegisterRoutes configures the HTTP router with the token endpoint:
//   - POST /oauth2/token
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/oauth2/token", h.HandleToken)
}

// HandleToken processes refresh-token grant requests.
//
// Form parameters: grant_type (must be refresh_token), refresh_token,
// client_id, client_secret, scope (optional, space-separated), login_hint
// (optional, must match the session account when present).
//
// Response: JSON-encoded api.TokenResponse, or api.TokenErrorResponse with
// the OAuth2 error code on failure.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, api.MaxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		h.tokenError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	if grant := r.PostFormValue(api.ParamGrantType); grant != api.GrantRefreshToken {
		h.tokenError(w, http.StatusBadRequest, "unsupported_grant_type", fmt.Sprintf("grant type %q not supported", grant))
		return
	}

	if r.PostFormValue(api.ParamClientID) != h.config.ClientID ||
		r.PostFormValue(api.ParamClientSecret) != h.config.ClientSecret {
		h.tokenError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	refreshToken := r.PostFormValue(api.ParamRefreshToken)
	account, ok := h.accounts[refreshToken]
	if !ok {
		h.tokenError(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
		return
	}

	if hint := r.PostFormValue(api.ParamLoginHint); hint != "" && hint != account.Email {
		h.log.Debug("login hint does not match session account", slog.String("hint", hint))
		h.tokenError(w, http.StatusBadRequest, "invalid_grant", "login hint does not match the session account")
		return
	}

	granted := filterScopes(r.PostFormValue(api.ParamScope))
	if len(granted) == 0 {
		h.tokenError(w, http.StatusBadRequest, "invalid_scope", "no grantable scope requested")
		return
	}

	token, err := issueAccessToken(h.config.SigningSecret, account, granted, h.config.TokenTTL)
	if err != nil {
		h.log.Error("failed to sign access token", "err", err)
		h.tokenError(w, http.StatusInternalServerError, "server_error", "could not issue token")
		return
	}

	h.log.Info("issued access token",
		slog.String("email", account.Email),
		slog.String("scope", strings.Join(granted, " ")),
		slog.Any("token", token))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(api.TokenResponse{
		AccessToken: string(token),
		TokenType:   "Bearer",
		ExpiresIn:   int(h.config.TokenTTL.Seconds()),
		Scope:       strings.Join(granted, " "),
	}); err != nil {
		h.log.Error("failed to encode response", "err", err)
	}
}

func (h *Handler) tokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(api.TokenErrorResponse{
		Error:            code,
		ErrorDescription: description,
	}); err != nil {
		h.log.Error("failed to encode error response", "err", err)
	}
}

// filterScopes intersects the requested scope string with the scopes this
// provider grants. An empty request grants the full registration set.
func filterScopes(requested string) []string {
	if requested == "" {
		return interfaces.RegistrationScopes()
	}

	granted := make([]string, 0, 2)
	for _, scope := range strings.Fields(requested) {
		switch scope {
		case interfaces.ScopeDeviceManagement, interfaces.ScopeUserInfo:
			granted = append(granted, scope)
		}
	}
	return granted
}

// LoadAccounts parses the account file for the token endpoint. The file is
// a JSON document of the form:
//
//	{
//	  "accounts": [
//	    {"email": "alice@corp.example.com", "hosted_domain": "corp.example.com", "refresh_token": "rt-alice"}
//	  ]
//	}
//
// Consumer accounts simply omit hosted_domain. Refresh tokens must be
// unique; the returned map is keyed by them.
func LoadAccounts(r io.Reader) (map[string]Account, error) {
	var file struct {
		Accounts []struct {
			Email        string `json:"email"`
			HostedDomain string `json:"hosted_domain,omitempty"`
			RefreshToken string `json:"refresh_token"`
		} `json:"accounts"`
	}

	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("could not parse accounts file: %w", err)
	}

	accounts := make(map[string]Account, len(file.Accounts))
	for _, entry := range file.Accounts {
		if entry.Email == "" {
			return nil, errors.New("account entry missing email")
		}
		if entry.RefreshToken == "" {
			return nil, fmt.Errorf("account %s missing refresh token", entry.Email)
		}
		if _, exists := accounts[entry.RefreshToken]; exists {
			return nil, fmt.Errorf("duplicate refresh token for account %s", entry.Email)
		}
		accounts[entry.RefreshToken] = Account{
			Email:        entry.Email,
			HostedDomain: entry.HostedDomain,
		}
	}

	return accounts, nil
}
