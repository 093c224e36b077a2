package dmhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/api"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
)

// Client talks to a device-management server. The concrete policy client in
// package policyclient builds its operations on it.
type Client struct {
	dmServer   api.DMServerConfig
	httpClient *http.Client
}

// NewClient creates a device-management client for the given server.
func NewClient(dmServer api.DMServerConfig) *Client {
	return &Client{
		dmServer:   dmServer,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RegisterDevice registers a device with a scoped access token and returns
// the minted DM token.
func (c *Client) RegisterDevice(ctx context.Context, token interfaces.AccessToken, registerReq api.RegisterDeviceRequest) (interfaces.DMToken, error) {
	body, err := json.Marshal(registerReq)
	if err != nil {
		return "", fmt.Errorf("could not encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.dmServer.BaseURL+"/api/dm/register", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	api.SetBearerToken(req, token)

	respBody, err := c.do(req, http.StatusOK)
	if err != nil {
		return "", err
	}

	var registerResp api.RegisterDeviceResponse
	if err := json.Unmarshal(respBody, &registerResp); err != nil {
		return "", fmt.Errorf("could not parse register response: %w", err)
	}
	if registerResp.DMToken == "" {
		return "", errors.New("server returned an empty dm token")
	}

	return interfaces.DMToken(registerResp.DMToken), nil
}

// UnregisterDevice removes the registration held by the DM token.
func (c *Client) UnregisterDevice(ctx context.Context, dmToken interfaces.DMToken, deviceID interfaces.DeviceID) error {
	body, err := json.Marshal(api.UnregisterDeviceRequest{DeviceID: deviceID.String()})
	if err != nil {
		return fmt.Errorf("could not encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.dmServer.BaseURL+"/api/dm/unregister", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.DMTokenHeader, string(dmToken))

	_, err = c.do(req, http.StatusNoContent)
	return err
}

// FetchPolicy retrieves the signed policy envelope for a registered device.
func (c *Client) FetchPolicy(ctx context.Context, dmToken interfaces.DMToken, deviceID interfaces.DeviceID) (*api.PolicyFetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.dmServer.BaseURL+"/api/dm/policy", nil)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set(api.DMTokenHeader, string(dmToken))
	req.Header.Set(api.DeviceIDHeader, deviceID.String())

	respBody, err := c.do(req, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var envelope api.PolicyFetchResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("could not parse policy envelope: %w", err)
	}

	return &envelope, nil
}

func (c *Client) do(req *http.Request, wantStatus int) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request dm server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read dm server response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		return nil, &api.RequestError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("dm server: %s", strings.TrimSpace(string(body))),
		}
	}

	return body, nil
}
