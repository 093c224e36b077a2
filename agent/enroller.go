package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cloudenroll/policy-enrollment-backend/api"
	"github.com/cloudenroll/policy-enrollment-backend/api/dmhandler"
	"github.com/cloudenroll/policy-enrollment-backend/api/tokenhandler"
	"github.com/cloudenroll/policy-enrollment-backend/api/userinfohandler"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/cloudenroll/policy-enrollment-backend/policyclient"
	"github.com/cloudenroll/policy-enrollment-backend/registration"
)

// EnrollerConfig carries everything one enrollment needs: where the identity
// provider and DM server live, what kind of registration to establish, and
// how the device introduces itself.
type EnrollerConfig struct {
	Provider    api.ProviderConfig
	DMServer    api.DMServerConfig
	Request     interfaces.RegistrationRequest
	MachineName string
}

// EnrollResult reports how an enrollment attempt ended. Registered is false
// for every skipped or failed attempt; the workflow does not distinguish
// them further.
type EnrollResult struct {
	Registered bool
	DeviceID   interfaces.DeviceID
	DMToken    interfaces.DMToken

	// Client is the policy client the attempt ran against, ready for policy
	// fetches when Registered is true.
	Client *policyclient.CloudPolicyClient
}

// Enroller runs registration attempts against a provider and DM server pair.
type Enroller struct {
	config EnrollerConfig
	log    *slog.Logger
}

// NewEnroller creates an enroller.
func NewEnroller(config EnrollerConfig, log *slog.Logger) *Enroller {
	return &Enroller{config: config, log: log}
}

// EnrollWithSession runs one attempt using the service-backed token
// strategy: sessionToken seeds the provider session and usernameHint pins
// the account. The hint may be empty only when sessionToken is set.
func (e *Enroller) EnrollWithSession(ctx context.Context, sessionToken, usernameHint string) (*EnrollResult, error) {
	if sessionToken == "" && usernameHint == "" {
		return nil, errors.New("session enrollment needs a session token or a username hint")
	}

	tokenClient := tokenhandler.NewClient(e.config.Provider)
	source := tokenhandler.NewTokenSource(tokenClient, sessionToken)

	return e.run(ctx, tokenClient, func(coordinator *registration.Coordinator, onDone func()) {
		coordinator.StartRegistration(source, usernameHint, onDone)
	})
}

// EnrollWithRefreshToken runs one attempt using the exchange strategy: the
// login refresh token is traded directly for a scoped access token.
func (e *Enroller) EnrollWithRefreshToken(ctx context.Context, refreshToken string) (*EnrollResult, error) {
	if refreshToken == "" {
		return nil, errors.New("refresh token enrollment needs a refresh token")
	}

	tokenClient := tokenhandler.NewClient(e.config.Provider)

	return e.run(ctx, tokenClient, func(coordinator *registration.Coordinator, onDone func()) {
		coordinator.StartRegistrationWithRefreshToken(refreshToken, onDone)
	})
}

// Resume rebuilds a policy client from a previously persisted registration
// without re-running the workflow.
func (e *Enroller) Resume(reg Registration) *policyclient.CloudPolicyClient {
	dm := dmhandler.NewClient(e.config.DMServer)
	client := policyclient.NewCloudPolicyClient(dm, reg.DeviceID, e.config.MachineName, e.log)
	client.SetupRegistration(reg.DMToken, reg.DeviceID)
	return client
}

func (e *Enroller) run(ctx context.Context, exchanger interfaces.TokenExchanger, start func(*registration.Coordinator, func())) (*EnrollResult, error) {
	dm := dmhandler.NewClient(e.config.DMServer)
	userInfo := userinfohandler.NewClient(e.config.Provider)
	deviceID := interfaces.NewDeviceID()
	client := policyclient.NewCloudPolicyClient(dm, deviceID, e.config.MachineName, e.log)

	coordinator := registration.NewCoordinator(client, e.config.Request, exchanger, userInfo, e.log)

	done := make(chan struct{})
	start(coordinator, func() { close(done) })

	select {
	case <-done:
	case <-ctx.Done():
		coordinator.Close()
		return nil, ctx.Err()
	}

	result := &EnrollResult{
		Registered: client.Registered(),
		DeviceID:   client.DeviceID(),
		DMToken:    client.DMToken(),
		Client:     client,
	}
	if result.Registered {
		e.log.Info("enrollment completed",
			slog.String("deviceID", result.DeviceID.String()),
			slog.Any("dmToken", result.DMToken))
	} else {
		e.log.Info("enrollment ended without a registration")
	}
	return result, nil
}

// FetchPolicy runs one observer-signaled policy fetch to completion and
// returns the envelope, or the client error that ended it.
func FetchPolicy(ctx context.Context, client *policyclient.CloudPolicyClient) (*api.PolicyFetchResponse, error) {
	waiter := &fetchWaiter{done: make(chan struct{})}
	client.AddObserver(waiter)
	defer client.RemoveObserver(waiter)

	client.FetchPolicy()

	select {
	case <-waiter.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if waiter.err != nil {
		return nil, waiter.err
	}
	return client.LastPolicy(), nil
}

// fetchWaiter adapts the policy client's observer callbacks to a blocking
// wait for a single fetch.
type fetchWaiter struct {
	done chan struct{}
	once sync.Once
	err  error
}

func (w *fetchWaiter) OnPolicyFetched(interfaces.PolicyClient) {
	w.once.Do(func() { close(w.done) })
}

func (w *fetchWaiter) OnClientError(client interfaces.PolicyClient) {
	w.once.Do(func() {
		w.err = client.LastError()
		close(w.done)
	})
}

func (w *fetchWaiter) OnRegistrationStateChanged(interfaces.PolicyClient) {}
