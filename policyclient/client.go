// Package policyclient provides the concrete device-management policy client
// the enrollment workflow registers through.
package policyclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cloudenroll/policy-enrollment-backend/api"
	"github.com/cloudenroll/policy-enrollment-backend/api/dmhandler"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
)

// CloudPolicyClient implements interfaces.PolicyClient against the DM
// service. All mutating operations are asynchronous: completion is signaled
// exclusively through observer callbacks, never a return value. The client is
// safe for concurrent use, but operations are not queued internally; callers
// issue one operation at a time.
type CloudPolicyClient struct {
	dm          *dmhandler.Client
	machineName string
	log         *slog.Logger

	mu         sync.Mutex
	observers  []interfaces.PolicyClientObserver
	deviceID   interfaces.DeviceID
	dmToken    interfaces.DMToken
	lastError  error
	lastPolicy *api.PolicyFetchResponse
}

// NewCloudPolicyClient creates a policy client for one device. The device ID
// identifies the machine to the DM service across registrations.
func NewCloudPolicyClient(dm *dmhandler.Client, deviceID interfaces.DeviceID, machineName string, log *slog.Logger) *CloudPolicyClient {
	return &CloudPolicyClient{
		dm:          dm,
		machineName: machineName,
		deviceID:    deviceID,
		log:         log,
	}
}

// SetupRegistration resumes a previously persisted registration without
// re-running the enrollment workflow.
func (c *CloudPolicyClient) SetupRegistration(dmToken interfaces.DMToken, deviceID interfaces.DeviceID) {
	c.mu.Lock()
	c.dmToken = dmToken
	c.deviceID = deviceID
	c.mu.Unlock()
}

// Registered reports whether the client holds a DM token.
func (c *CloudPolicyClient) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dmToken.Valid()
}

// AddObserver attaches an observer. Adding an already attached observer is a
// no-op.
func (c *CloudPolicyClient) AddObserver(observer interfaces.PolicyClientObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.observers {
		if o == observer {
			return
		}
	}
	c.observers = append(c.observers, observer)
}

// RemoveObserver detaches an observer. Removing an observer that is not
// attached is a no-op.
func (c *CloudPolicyClient) RemoveObserver(observer interfaces.PolicyClientObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.observers {
		if o == observer {
			c.observers = append(c.observers[:i], c.observers[i+1:]...)
			return
		}
	}
}

// Register starts an asynchronous device registration with the given scoped
// access token. Observers receive OnRegistrationStateChanged on success or
// OnClientError on failure.
func (c *CloudPolicyClient) Register(registrationType interfaces.RegistrationType, token interfaces.AccessToken) {
	go c.register(registrationType, token)
}

func (c *CloudPolicyClient) register(registrationType interfaces.RegistrationType, token interfaces.AccessToken) {
	if !token.Valid() {
		c.fail(errors.New("registration needs a non-empty access token"))
		return
	}

	c.mu.Lock()
	deviceID := c.deviceID
	machineName := c.machineName
	c.mu.Unlock()

	dmToken, err := c.dm.RegisterDevice(context.Background(), token, api.RegisterDeviceRequest{
		DeviceID:    deviceID.String(),
		Type:        registrationType.String(),
		MachineName: machineName,
	})
	if err != nil {
		c.fail(fmt.Errorf("device registration failed: %w", err))
		return
	}

	c.mu.Lock()
	c.dmToken = dmToken
	c.lastError = nil
	c.mu.Unlock()

	c.log.Info("registered with dm service",
		slog.String("deviceID", deviceID.String()),
		slog.String("type", registrationType.String()),
		slog.Any("dmToken", dmToken))
	c.notify(func(o interfaces.PolicyClientObserver) { o.OnRegistrationStateChanged(c) })
}

// FetchPolicy starts an asynchronous policy fetch for the registered device.
// Observers receive OnPolicyFetched on success; the envelope is then
// available through LastPolicy. An unregistered client fails straight to
// OnClientError.
func (c *CloudPolicyClient) FetchPolicy() {
	go c.fetchPolicy()
}

func (c *CloudPolicyClient) fetchPolicy() {
	c.mu.Lock()
	dmToken := c.dmToken
	deviceID := c.deviceID
	c.mu.Unlock()

	if !dmToken.Valid() {
		c.fail(errors.New("policy fetch needs a registered client"))
		return
	}

	envelope, err := c.dm.FetchPolicy(context.Background(), dmToken, deviceID)
	if err != nil {
		c.fail(fmt.Errorf("policy fetch failed: %w", err))
		return
	}

	c.mu.Lock()
	c.lastPolicy = envelope
	c.lastError = nil
	c.mu.Unlock()

	c.log.Info("fetched policy",
		slog.String("domain", envelope.Domain),
		slog.String("contentID", envelope.ContentID))
	c.notify(func(o interfaces.PolicyClientObserver) { o.OnPolicyFetched(c) })
}

// Unregister asynchronously releases the device's registration. Observers
// receive OnRegistrationStateChanged once the DM token is invalidated, or
// OnClientError if the service rejects the request.
func (c *CloudPolicyClient) Unregister() {
	go c.unregister()
}

func (c *CloudPolicyClient) unregister() {
	c.mu.Lock()
	dmToken := c.dmToken
	deviceID := c.deviceID
	c.mu.Unlock()

	if !dmToken.Valid() {
		c.fail(errors.New("unregister needs a registered client"))
		return
	}

	if err := c.dm.UnregisterDevice(context.Background(), dmToken, deviceID); err != nil {
		c.fail(fmt.Errorf("device unregistration failed: %w", err))
		return
	}

	c.mu.Lock()
	c.dmToken = ""
	c.lastPolicy = nil
	c.lastError = nil
	c.mu.Unlock()

	c.log.Info("unregistered from dm service", slog.String("deviceID", deviceID.String()))
	c.notify(func(o interfaces.PolicyClientObserver) { o.OnRegistrationStateChanged(c) })
}

// LastError returns the failure behind the most recent OnClientError
// notification, or nil.
func (c *CloudPolicyClient) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// DMToken returns the registration token, or the empty token when the client
// is not registered.
func (c *CloudPolicyClient) DMToken() interfaces.DMToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dmToken
}

// DeviceID returns the device identity the client registers under.
func (c *CloudPolicyClient) DeviceID() interfaces.DeviceID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// LastPolicy returns the envelope of the most recent successful policy
// fetch, or nil.
func (c *CloudPolicyClient) LastPolicy() *api.PolicyFetchResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPolicy
}

// fail records err and notifies observers. Observer callbacks run without the
// client lock held so they may call back into the client.
func (c *CloudPolicyClient) fail(err error) {
	c.mu.Lock()
	c.lastError = err
	c.mu.Unlock()

	c.log.Warn("policy client operation failed", "err", err)
	c.notify(func(o interfaces.PolicyClientObserver) { o.OnClientError(c) })
}

func (c *CloudPolicyClient) notify(fn func(interfaces.PolicyClientObserver)) {
	c.mu.Lock()
	observers := make([]interfaces.PolicyClientObserver, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	for _, o := range observers {
		fn(o)
	}
}
