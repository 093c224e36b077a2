package registry

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *BoltRegistry {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := NewBoltRegistry(filepath.Join(t.TempDir(), "registry.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

func testDevice(id, token, domain string) interfaces.Device {
	return interfaces.Device{
		ID:           interfaces.DeviceID(id),
		DMToken:      interfaces.DMToken(token),
		Domain:       interfaces.Domain(domain),
		Type:         interfaces.RegistrationTypeUser,
		Email:        "user@" + domain,
		MachineName:  "host-" + id,
		RegisteredAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestBoltRegistry_DeviceRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	device := testDevice("dev-1", "tok-1", "example.com")
	require.NoError(t, reg.PutDevice(ctx, device))

	got, err := reg.Device(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, device, got)

	byToken, err := reg.DeviceByDMToken(ctx, device.DMToken)
	require.NoError(t, err)
	assert.Equal(t, device, byToken)
}

func TestBoltRegistry_NotFound(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Device(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrDeviceNotFound)

	_, err = reg.DeviceByDMToken(ctx, "missing-token")
	assert.ErrorIs(t, err, interfaces.ErrDeviceNotFound)

	err = reg.RemoveDevice(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrDeviceNotFound)
}

func TestBoltRegistry_ReplaceReindexesToken(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	device := testDevice("dev-1", "tok-old", "example.com")
	require.NoError(t, reg.PutDevice(ctx, device))

	device.DMToken = "tok-new"
	require.NoError(t, reg.PutDevice(ctx, device))

	// The stale token must no longer resolve.
	_, err := reg.DeviceByDMToken(ctx, "tok-old")
	assert.ErrorIs(t, err, interfaces.ErrDeviceNotFound)

	got, err := reg.DeviceByDMToken(ctx, "tok-new")
	require.NoError(t, err)
	assert.Equal(t, device.ID, got.ID)
}

func TestBoltRegistry_RemoveDevice(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	device := testDevice("dev-1", "tok-1", "example.com")
	require.NoError(t, reg.PutDevice(ctx, device))
	require.NoError(t, reg.RemoveDevice(ctx, device.ID))

	_, err := reg.Device(ctx, device.ID)
	assert.ErrorIs(t, err, interfaces.ErrDeviceNotFound)

	// The token index entry goes with the record.
	_, err = reg.DeviceByDMToken(ctx, device.DMToken)
	assert.ErrorIs(t, err, interfaces.ErrDeviceNotFound)
}

func TestBoltRegistry_ListDevices(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	devices, err := reg.ListDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)

	require.NoError(t, reg.PutDevice(ctx, testDevice("dev-1", "tok-1", "example.com")))
	require.NoError(t, reg.PutDevice(ctx, testDevice("dev-2", "tok-2", "other.org")))

	devices, err = reg.ListDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestBoltRegistry_DomainPolicy(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	domain, err := interfaces.NewDomain("example.com")
	require.NoError(t, err)

	_, err = reg.DomainPolicy(ctx, domain)
	assert.ErrorIs(t, err, interfaces.ErrNoPolicyForDomain)

	contentID := interfaces.ComputeID([]byte("policy payload"))
	require.NoError(t, reg.SetDomainPolicy(ctx, domain, contentID))

	got, err := reg.DomainPolicy(ctx, domain)
	require.NoError(t, err)
	assert.True(t, contentID.Equal(got))

	// Assignments are replaceable.
	updated := interfaces.ComputeID([]byte("new payload"))
	require.NoError(t, reg.SetDomainPolicy(ctx, domain, updated))

	got, err = reg.DomainPolicy(ctx, domain)
	require.NoError(t, err)
	assert.True(t, updated.Equal(got))
}

func TestBoltRegistry_Persistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.db")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	reg, err := NewBoltRegistry(path, log)
	require.NoError(t, err)

	device := testDevice("dev-1", "tok-1", "example.com")
	require.NoError(t, reg.PutDevice(ctx, device))
	require.NoError(t, reg.Close())

	// Reopen and confirm the record survived.
	reg, err = NewBoltRegistry(path, log)
	require.NoError(t, err)
	defer reg.Close()

	got, err := reg.Device(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, device, got)
}
