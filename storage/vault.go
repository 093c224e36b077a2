package storage

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/hashicorp/vault/api"
)

// VaultBackend stores content in a HashiCorp Vault KV v2 secrets engine.
// Secrets live at <mount>/data/<path>/<type>/<hex id> with the raw bytes
// base64-encoded under the "content" key. Authentication is either a token
// query parameter or a TLS client certificate supplied by the factory.
type VaultBackend struct {
	client    *api.Client
	mount     string
	dataPath  string
	host      string
	maskedURI string
}

// NewVaultBackend creates a Vault storage backend from a parsed location
// such as vault://vault.example.com:8200/secret/policies?token=...
// The first path segment is the KV mount, the rest the path prefix.
func NewVaultBackend(location interfaces.StorageBackendLocation, tlsAuth func() (tls.Certificate, error)) (*VaultBackend, error) {
	if location.Host == "" {
		return nil, fmt.Errorf("%w: vault location needs a host", interfaces.ErrInvalidLocationURI)
	}

	mount, dataPath := splitVaultPath(location.Path)

	config := api.DefaultConfig()
	config.Address = "https://" + location.Host

	token := location.GetParam("token")
	if token == "" {
		if tlsAuth == nil {
			return nil, fmt.Errorf("vault backend %s needs a token parameter or TLS client auth", location.Host)
		}

		config.HttpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
						cert, err := tlsAuth()
						if err != nil {
							return nil, fmt.Errorf("obtaining vault client certificate: %w", err)
						}
						return &cert, nil
					},
				},
			},
		}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &VaultBackend{
		client:    client,
		mount:     mount,
		dataPath:  dataPath,
		host:      location.Host,
		maskedURI: maskedVaultURI(location, token),
	}, nil
}

// Fetch reads a secret by content ID.
func (v *VaultBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.secretPath(id, contentType))
	if err != nil {
		return nil, fmt.Errorf("reading vault secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrContentNotFound
	}

	// KV v2 nests the stored fields under "data".
	inner, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	encoded, ok := inner["content"].(string)
	if !ok {
		return nil, fmt.Errorf("vault secret %s has no content field", id)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding vault secret content: %w", err)
	}

	return data, nil
}

// Store writes data under its computed content ID.
func (v *VaultBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(data),
		},
	}

	if _, err := v.client.Logical().WriteWithContext(ctx, v.secretPath(id, contentType), payload); err != nil {
		return interfaces.ContentID{}, fmt.Errorf("writing vault secret: %w", err)
	}

	return id, nil
}

// Available checks that Vault is reachable, initialized and unsealed.
func (v *VaultBackend) Available(ctx context.Context) bool {
	health, err := v.client.Sys().HealthWithContext(ctx)
	return err == nil && health.Initialized && !health.Sealed
}

// Name returns an identifier for logging.
func (v *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s", v.host)
}

// LocationURI returns the backend URI with the token masked.
func (v *VaultBackend) LocationURI() string {
	return v.maskedURI
}

func (v *VaultBackend) secretPath(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return fmt.Sprintf("%s/data/%s/%s/%s", v.mount, v.dataPath, contentType.String(), id.String())
}

func splitVaultPath(locationPath string) (mount, dataPath string) {
	mount, dataPath = "secret", "policies"

	trimmed := strings.Trim(locationPath, "/")
	if trimmed == "" {
		return mount, dataPath
	}

	segments := strings.SplitN(trimmed, "/", 2)
	mount = segments[0]
	if len(segments) == 2 {
		dataPath = segments[1]
	}
	return mount, dataPath
}

func maskedVaultURI(location interfaces.StorageBackendLocation, token string) string {
	if token == "" {
		return location.Raw
	}
	return strings.Replace(location.Raw, "token="+token, "token=***", 1)
}
