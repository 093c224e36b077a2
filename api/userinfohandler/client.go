package userinfohandler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/api"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
)

// Client fetches identity documents from a provider's userinfo endpoint. It
// implements interfaces.UserInfoSource.
type Client struct {
	provider   api.ProviderConfig
	httpClient *http.Client
}

// NewClient creates a userinfo endpoint client for the given provider.
func NewClient(provider api.ProviderConfig) *Client {
	return &Client{
		provider:   provider,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchUserInfo retrieves the identity document for the bearer token.
func (c *Client) FetchUserInfo(ctx context.Context, token interfaces.AccessToken) (interfaces.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.provider.UserInfoURL, nil)
	if err != nil {
		return interfaces.UserInfo{}, fmt.Errorf("could not initialize request: %w", err)
	}
	api.SetBearerToken(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return interfaces.UserInfo{}, fmt.Errorf("could not request userinfo: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return interfaces.UserInfo{}, fmt.Errorf("could not read userinfo response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return interfaces.UserInfo{}, &api.RequestError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("userinfo endpoint: %s", strings.TrimSpace(string(body))),
		}
	}

	var infoResp api.UserInfoResponse
	if err := json.Unmarshal(body, &infoResp); err != nil {
		return interfaces.UserInfo{}, fmt.Errorf("could not parse userinfo response: %w", err)
	}

	return interfaces.UserInfo{
		Email:        infoResp.Email,
		HostedDomain: infoResp.HostedDomain,
	}, nil
}
