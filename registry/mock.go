package registry

import (
	"context"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockDeviceRegistry mocks the DeviceRegistry interface
type MockDeviceRegistry struct {
	mock.Mock
}

// PutDevice mocks the PutDevice method
func (m *MockDeviceRegistry) PutDevice(ctx context.Context, device interfaces.Device) error {
	args := m.Called(ctx, device)
	return args.Error(0)
}

// Device mocks the Device method
func (m *MockDeviceRegistry) Device(ctx context.Context, id interfaces.DeviceID) (interfaces.Device, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(interfaces.Device), args.Error(1)
}

// DeviceByDMToken mocks the DeviceByDMToken method
func (m *MockDeviceRegistry) DeviceByDMToken(ctx context.Context, token interfaces.DMToken) (interfaces.Device, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(interfaces.Device), args.Error(1)
}

// RemoveDevice mocks the RemoveDevice method
func (m *MockDeviceRegistry) RemoveDevice(ctx context.Context, id interfaces.DeviceID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// ListDevices mocks the ListDevices method
func (m *MockDeviceRegistry) ListDevices(ctx context.Context) ([]interfaces.Device, error) {
	args := m.Called(ctx)
	return args.Get(0).([]interfaces.Device), args.Error(1)
}

// SetDomainPolicy mocks the SetDomainPolicy method
func (m *MockDeviceRegistry) SetDomainPolicy(ctx context.Context, domain interfaces.Domain, id interfaces.ContentID) error {
	args := m.Called(ctx, domain, id)
	return args.Error(0)
}

// DomainPolicy mocks the DomainPolicy method
func (m *MockDeviceRegistry) DomainPolicy(ctx context.Context, domain interfaces.Domain) (interfaces.ContentID, error) {
	args := m.Called(ctx, domain)
	return args.Get(0).(interfaces.ContentID), args.Error(1)
}
