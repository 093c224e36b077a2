package tokenhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/api"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
)

// Client exchanges refresh tokens at a provider's token endpoint. It
// implements interfaces.TokenExchanger.
type Client struct {
	provider   api.ProviderConfig
	httpClient *http.Client
}

// NewClient creates a token endpoint client for the given provider.
func NewClient(provider api.ProviderConfig) *Client {
	return &Client{
		provider:   provider,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ExchangeRefreshToken exchanges a login refresh token for an access token
// scoped to the given scopes.
func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string, scopes []string) (interfaces.AccessToken, error) {
	return c.exchange(ctx, refreshToken, "", scopes)
}

func (c *Client) exchange(ctx context.Context, refreshToken, loginHint string, scopes []string) (interfaces.AccessToken, error) {
	form := url.Values{
		api.ParamGrantType:    {api.GrantRefreshToken},
		api.ParamRefreshToken: {refreshToken},
		api.ParamClientID:     {c.provider.ClientID},
		api.ParamClientSecret: {c.provider.ClientSecret},
		api.ParamScope:        {strings.Join(scopes, " ")},
	}
	if loginHint != "" {
		form.Set(api.ParamLoginHint, loginHint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not request token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("could not read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var tokenErr api.TokenErrorResponse
		if err := json.Unmarshal(body, &tokenErr); err == nil && tokenErr.Error != "" {
			return "", &api.RequestError{
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("token endpoint: %s (%s)", tokenErr.Error, tokenErr.ErrorDescription),
			}
		}
		return "", &api.RequestError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("token endpoint: %s", strings.TrimSpace(string(body))),
		}
	}

	var tokenResp api.TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("could not parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("token endpoint returned an empty access token")
	}

	return interfaces.AccessToken(tokenResp.AccessToken), nil
}

// TokenSource mints access tokens from a held provider session. It
// implements interfaces.TokenService for the service-backed acquisition
// strategy: the session's refresh token stays inside the source and callers
// only ever see the short-lived access tokens.
type TokenSource struct {
	client *Client

	mu           sync.RWMutex
	refreshToken string
}

// NewTokenSource creates a token source over the given client. The refresh
// token may be empty; the source then has no session until SetSession.
func NewTokenSource(client *Client, refreshToken string) *TokenSource {
	return &TokenSource{
		client:       client,
		refreshToken: refreshToken,
	}
}

// HasSession reports whether the source holds a usable refresh credential.
func (s *TokenSource) HasSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken != ""
}

// SetSession replaces the held refresh credential. An empty token clears
// the session.
func (s *TokenSource) SetSession(refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshToken = refreshToken
}

// IssueToken requests one access token for the given scopes, pinned to the
// hinted account when usernameHint is non-empty.
func (s *TokenSource) IssueToken(ctx context.Context, usernameHint string, scopes []string) (interfaces.AccessToken, error) {
	s.mu.RLock()
	refreshToken := s.refreshToken
	s.mu.RUnlock()

	if refreshToken == "" {
		return "", errors.New("token source has no active session")
	}

	return s.client.exchange(ctx, refreshToken, usernameHint, scopes)
}
