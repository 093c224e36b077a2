package userinfohandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudenroll/policy-enrollment-backend/api"
	"github.com/cloudenroll/policy-enrollment-backend/api/tokenhandler"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningSecret = []byte("0123456789abcdef0123456789abcdef")

// newIdentityServer mounts the token and userinfo endpoints together, the
// way the identity stub binary serves them.
func newIdentityServer(t *testing.T) *httptest.Server {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	accounts := map[string]tokenhandler.Account{
		"rt-alice": {Email: "alice@corp.example.com", HostedDomain: "corp.example.com"},
		"rt-bob":   {Email: "bob@consumer.example.com"},
	}
	tokenHandler, err := tokenhandler.NewHandler(accounts, tokenhandler.Config{
		ClientID:      "enroll-client",
		ClientSecret:  "enroll-secret",
		SigningSecret: testSigningSecret,
	}, log)
	require.NoError(t, err)

	infoHandler, err := NewHandler(testSigningSecret, log)
	require.NoError(t, err)

	router := chi.NewRouter()
	tokenHandler.RegisterRoutes(router)
	infoHandler.RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func issueToken(t *testing.T, server *httptest.Server, refreshToken string, scopes []string) interfaces.AccessToken {
	t.Helper()

	client := tokenhandler.NewClient(api.ProviderConfig{
		TokenURL:     server.URL + "/oauth2/token",
		ClientID:     "enroll-client",
		ClientSecret: "enroll-secret",
	})
	token, err := client.ExchangeRefreshToken(context.Background(), refreshToken, scopes)
	require.NoError(t, err)
	return token
}

func getUserInfo(t *testing.T, server *httptest.Server, token interfaces.AccessToken) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, server.URL+"/oauth2/userinfo", nil)
	require.NoError(t, err)
	if token != "" {
		api.SetBearerToken(req, token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, body
}

func TestNewHandler_RejectsShortSecret(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewHandler([]byte("short"), log)
	assert.Error(t, err)
}

func TestHandleUserInfo_ManagedAccount(t *testing.T) {
	server := newIdentityServer(t)
	token := issueToken(t, server, "rt-alice", interfaces.RegistrationScopes())

	resp, body := getUserInfo(t, server, token)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)

	var info api.UserInfoResponse
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, "alice@corp.example.com", info.Email)
	assert.Equal(t, "corp.example.com", info.HostedDomain)
}

func TestHandleUserInfo_ConsumerAccountOmitsHostedDomain(t *testing.T) {
	server := newIdentityServer(t)
	token := issueToken(t, server, "rt-bob", interfaces.RegistrationScopes())

	resp, body := getUserInfo(t, server, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NotContains(t, string(body), `"hd"`, "absent marker must be omitted, not empty")

	var info api.UserInfoResponse
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Empty(t, info.HostedDomain)
}

func TestHandleUserInfo_MissingToken(t *testing.T) {
	server := newIdentityServer(t)

	resp, _ := getUserInfo(t, server, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
}

func TestHandleUserInfo_InvalidToken(t *testing.T) {
	server := newIdentityServer(t)

	resp, _ := getUserInfo(t, server, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleUserInfo_InsufficientScope(t *testing.T) {
	server := newIdentityServer(t)
	token := issueToken(t, server, "rt-alice", []string{interfaces.ScopeDeviceManagement})

	resp, _ := getUserInfo(t, server, token)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestClient_FetchUserInfo(t *testing.T) {
	server := newIdentityServer(t)
	token := issueToken(t, server, "rt-alice", interfaces.RegistrationScopes())

	client := NewClient(api.ProviderConfig{UserInfoURL: server.URL + "/oauth2/userinfo"})

	info, err := client.FetchUserInfo(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, interfaces.UserInfo{
		Email:        "alice@corp.example.com",
		HostedDomain: "corp.example.com",
	}, info)
}

func TestClient_SurfacesEndpointStatus(t *testing.T) {
	server := newIdentityServer(t)

	client := NewClient(api.ProviderConfig{UserInfoURL: server.URL + "/oauth2/userinfo"})

	_, err := client.FetchUserInfo(context.Background(), "not-a-jwt")
	require.Error(t, err)

	var reqErr *api.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
}
