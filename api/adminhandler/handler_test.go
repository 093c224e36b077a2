package adminhandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/api"
	"github.com/cloudenroll/policy-enrollment-backend/cryptoutils"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/cloudenroll/policy-enrollment-backend/policysign"
	"github.com/cloudenroll/policy-enrollment-backend/registry"
	"github.com/cloudenroll/policy-enrollment-backend/storage"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminID = "ops-alice"

var testLocations = []string{"file:///var/lib/cloudenroll/policies"}

type testEnv struct {
	server   *httptest.Server
	client   *Client
	reg      *registry.BoltRegistry
	signer   *policysign.SimpleSigner
	store    interfaces.StorageBackend
	adminKey *ecdsa.PrivateKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := registry.NewBoltRegistry(filepath.Join(t.TempDir(), "registry.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	signer, err := policysign.NewSimpleSigner(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	store, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	privPEM, pubPEM, err := cryptoutils.GenerateAdminKeyPair()
	require.NoError(t, err)
	adminKey, err := cryptoutils.ParsePrivateKey([]byte(privPEM))
	require.NoError(t, err)

	adminKeys := map[string][]byte{testAdminID: []byte(pubPEM)}

	handler := NewHandler(reg, signer, store, adminKeys, testLocations, log)
	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{
		server:   server,
		client:   NewClient(server.URL, testAdminID, adminKey),
		reg:      reg,
		signer:   signer,
		store:    store,
		adminKey: adminKey,
	}
}

func otherAdminKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()

	privPEM, _, err := cryptoutils.GenerateAdminKeyPair()
	require.NoError(t, err)
	key, err := cryptoutils.ParsePrivateKey([]byte(privPEM))
	require.NoError(t, err)
	return key
}

func requireRequestStatus(t *testing.T, err error, wantStatus int) {
	t.Helper()

	require.Error(t, err)
	var reqErr *api.RequestError
	require.True(t, errors.As(err, &reqErr), "expected a request error, got %v", err)
	assert.Equal(t, wantStatus, reqErr.StatusCode)
}

func TestAdminAuth_RejectsMissingHeaders(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/admin/devices")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminAuth_RejectsUnknownAdmin(t *testing.T) {
	env := newTestEnv(t)

	mallory := NewClient(env.server.URL, "ops-mallory", env.adminKey)
	_, err := mallory.ListDevices(context.Background())
	requireRequestStatus(t, err, http.StatusUnauthorized)
}

func TestAdminAuth_RejectsWrongKey(t *testing.T) {
	env := newTestEnv(t)

	impostor := NewClient(env.server.URL, testAdminID, otherAdminKey(t))
	_, err := impostor.StorePolicy(context.Background(), []byte("payload"))
	requireRequestStatus(t, err, http.StatusForbidden)
}

func TestAdminAuth_RejectsTamperedBody(t *testing.T) {
	env := newTestEnv(t)

	signature, err := cryptoutils.SignAdminRequest(env.adminKey, "/api/admin/policy", []byte("honest payload"))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/admin/policy", bytes.NewReader([]byte("tampered payload")))
	require.NoError(t, err)
	req.Header.Set(api.AdminIDHeader, testAdminID)
	req.Header.Set(api.AdminSignatureHeader, base64.StdEncoding.EncodeToString(signature))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminAuth_SignatureCoversPath(t *testing.T) {
	env := newTestEnv(t)

	// A signature minted for one endpoint must not open another.
	signature, err := cryptoutils.SignAdminRequest(env.adminKey, "/api/admin/policy", nil)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/admin/devices", nil)
	require.NoError(t, err)
	req.Header.Set(api.AdminIDHeader, testAdminID)
	req.Header.Set(api.AdminSignatureHeader, base64.StdEncoding.EncodeToString(signature))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandleStorePolicy(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{"screen_lock":true}`)
	storeResp, err := env.client.StorePolicy(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, interfaces.ComputeID(payload).String(), storeResp.ContentID)
	assert.Equal(t, testLocations, storeResp.Locations)

	id, err := interfaces.NewContentIDFromHex(storeResp.ContentID)
	require.NoError(t, err)
	stored, err := env.store.Fetch(context.Background(), id, interfaces.PolicyContent)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)
}

func TestHandleStorePolicy_RejectsEmptyPayload(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.StorePolicy(context.Background(), nil)
	requireRequestStatus(t, err, http.StatusBadRequest)
}

func TestHandleAssignPolicy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload := []byte(`{"screen_lock":true,"updates":"auto"}`)
	storeResp, err := env.client.StorePolicy(ctx, payload)
	require.NoError(t, err)

	domain, err := interfaces.NewDomain("corp.example.com")
	require.NoError(t, err)
	contentID, err := interfaces.NewContentIDFromHex(storeResp.ContentID)
	require.NoError(t, err)

	assignResp, err := env.client.AssignPolicy(ctx, domain, contentID)
	require.NoError(t, err)
	assert.Equal(t, storeResp.ContentID, assignResp.ContentID)
	require.NotEmpty(t, assignResp.Signature)

	assigned, err := env.reg.DomainPolicy(ctx, domain)
	require.NoError(t, err)
	assert.True(t, contentID.Equal(assigned), "registry should point at the assigned payload")

	verifyingKey, err := env.signer.VerifyingKeyPEM(domain)
	require.NoError(t, err)
	require.NoError(t, policysign.Verify(verifyingKey, payload, assignResp.Signature))

	// The detached signature is stored content-addressed for out-of-band
	// distribution.
	sigID, err := interfaces.NewContentIDFromHex(assignResp.SignatureID)
	require.NoError(t, err)
	storedSig, err := env.store.Fetch(ctx, sigID, interfaces.SignatureContent)
	require.NoError(t, err)
	assert.Equal(t, assignResp.Signature, storedSig)
}

func TestHandleAssignPolicy_UnknownPayload(t *testing.T) {
	env := newTestEnv(t)

	domain, err := interfaces.NewDomain("corp.example.com")
	require.NoError(t, err)

	_, err = env.client.AssignPolicy(context.Background(), domain, interfaces.ComputeID([]byte("never stored")))
	requireRequestStatus(t, err, http.StatusNotFound)
}

func TestHandleAssignPolicy_RejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"domain": corp`},
		{"bad domain", `{"domain":"not a domain!","content_id":"00"}`},
		{"bad content id", `{"domain":"corp.example.com","content_id":"zz"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(tt.body)
			signature, err := cryptoutils.SignAdminRequest(env.adminKey, "/api/admin/assign", body)
			require.NoError(t, err)

			req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/admin/assign", bytes.NewReader(body))
			require.NoError(t, err)
			req.Header.Set(api.AdminIDHeader, testAdminID)
			req.Header.Set(api.AdminSignatureHeader, base64.StdEncoding.EncodeToString(signature))

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestHandleListDevices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	domain, err := interfaces.NewDomain("corp.example.com")
	require.NoError(t, err)

	registeredAt := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	device := interfaces.Device{
		ID:           interfaces.NewDeviceID(),
		DMToken:      interfaces.DMToken("dm-token-1"),
		Domain:       domain,
		Type:         interfaces.RegistrationTypeDevice,
		Email:        "alice@corp.example.com",
		MachineName:  "host-1",
		RegisteredAt: registeredAt,
	}
	require.NoError(t, env.reg.PutDevice(ctx, device))
	require.NoError(t, env.reg.PutDevice(ctx, interfaces.Device{
		ID:           interfaces.NewDeviceID(),
		DMToken:      interfaces.DMToken("dm-token-2"),
		Domain:       domain,
		Type:         interfaces.RegistrationTypeUser,
		Email:        "bob@corp.example.com",
		RegisteredAt: registeredAt,
	}))

	records, err := env.client.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := make(map[string]api.DeviceRecord, len(records))
	for _, record := range records {
		byID[record.DeviceID] = record
	}

	record, ok := byID[device.ID.String()]
	require.True(t, ok, "registered device missing from listing")
	assert.Equal(t, "device", record.Type)
	assert.Equal(t, "corp.example.com", record.Domain)
	assert.Equal(t, "alice@corp.example.com", record.Email)
	assert.Equal(t, "host-1", record.MachineName)
	assert.True(t, record.RegisteredAt.Equal(registeredAt))
}

func TestHandleListDevices_Empty(t *testing.T) {
	env := newTestEnv(t)

	records, err := env.client.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}
