package interfaces

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDeviceNotFound is returned when a device is not present in the
	// registry.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNoPolicyForDomain is returned when no policy payload has been
	// assigned to a domain.
	ErrNoPolicyForDomain = errors.New("no policy assigned to domain")
)

// Device is the registry record of one registered device.
type Device struct {
	ID           DeviceID         `json:"id"`
	DMToken      DMToken          `json:"dm_token"`
	Domain       Domain           `json:"domain"`
	Type         RegistrationType `json:"type"`
	Email        string           `json:"email,omitempty"`
	MachineName  string           `json:"machine_name,omitempty"`
	RegisteredAt time.Time        `json:"registered_at"`
}

// DeviceRegistry is the device-management server's system of record: which
// devices are registered, which DM token each holds, and which policy payload
// each domain is assigned.
type DeviceRegistry interface {
	// PutDevice stores or replaces a device record.
	PutDevice(ctx context.Context, device Device) error

	// Device looks up a device by ID. Returns ErrDeviceNotFound if absent.
	Device(ctx context.Context, id DeviceID) (Device, error)

	// DeviceByDMToken looks up the device holding the given DM token.
	// Returns ErrDeviceNotFound if no device holds it.
	DeviceByDMToken(ctx context.Context, token DMToken) (Device, error)

	// RemoveDevice deletes a device record and its DM token index entry.
	// Returns ErrDeviceNotFound if absent.
	RemoveDevice(ctx context.Context, id DeviceID) error

	// ListDevices returns all device records.
	ListDevices(ctx context.Context) ([]Device, error)

	// SetDomainPolicy assigns a policy payload (by content ID) to a domain.
	SetDomainPolicy(ctx context.Context, domain Domain, id ContentID) error

	// DomainPolicy returns the content ID of the policy payload assigned to
	// a domain. Returns ErrNoPolicyForDomain if none is assigned.
	DomainPolicy(ctx context.Context, domain Domain) (ContentID, error)
}
