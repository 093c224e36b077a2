package adminhandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/api"
	"github.com/cloudenroll/policy-enrollment-backend/cryptoutils"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
)

// Client calls the admin endpoints, signing every request with the
// administrator's private key.
type Client struct {
	baseURL    string
	adminID    string
	signingKey *ecdsa.PrivateKey
	httpClient *http.Client
}

// NewClient creates a signing admin client for the given server base URL.
func NewClient(baseURL, adminID string, signingKey *ecdsa.PrivateKey) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		adminID:    adminID,
		signingKey: signingKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StorePolicy uploads a raw policy payload and returns the server's
// content ID and advertised storage locations.
func (c *Client) StorePolicy(ctx context.Context, payload []byte) (*api.StorePolicyResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/admin/policy", payload, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var storeResp api.StorePolicyResponse
	if err := json.Unmarshal(body, &storeResp); err != nil {
		return nil, fmt.Errorf("could not parse store response: %w", err)
	}

	return &storeResp, nil
}

// AssignPolicy signs a stored payload for a domain and makes it the domain's
// active policy.
func (c *Client) AssignPolicy(ctx context.Context, domain interfaces.Domain, contentID interfaces.ContentID) (*api.AssignPolicyResponse, error) {
	reqBody, err := json.Marshal(api.AssignPolicyRequest{
		Domain:    domain.String(),
		ContentID: contentID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("could not encode request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/api/admin/assign", reqBody, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var assignResp api.AssignPolicyResponse
	if err := json.Unmarshal(body, &assignResp); err != nil {
		return nil, fmt.Errorf("could not parse assign response: %w", err)
	}

	return &assignResp, nil
}

// ListDevices fetches every registration known to the server.
func (c *Client) ListDevices(ctx context.Context) ([]api.DeviceRecord, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/admin/devices", nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var listResp api.ListDevicesResponse
	if err := json.Unmarshal(body, &listResp); err != nil {
		return nil, fmt.Errorf("could not parse devices response: %w", err)
	}

	return listResp.Devices, nil
}

// do signs and issues a request. The signature covers the request path and
// body, matching what the server's auth middleware verifies.
func (c *Client) do(ctx context.Context, method, path string, body []byte, wantStatus int) ([]byte, error) {
	signature, err := cryptoutils.SignAdminRequest(c.signingKey, path, body)
	if err != nil {
		return nil, fmt.Errorf("could not sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set(api.AdminIDHeader, c.adminID)
	req.Header.Set(api.AdminSignatureHeader, base64.StdEncoding.EncodeToString(signature))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request admin server: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read admin server response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		return nil, &api.RequestError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("admin server: %s", strings.TrimSpace(string(respBody))),
		}
	}

	return respBody, nil
}
