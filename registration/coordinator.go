package registration

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
)

// phase tracks the coordinator's position in the registration sequence.
type phase int

const (
	phaseIdle phase = iota
	phaseAcquiringToken
	phaseLookingUpIdentity
	phaseRegistering
	phaseCompleted
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseAcquiringToken:
		return "acquiring-token"
	case phaseLookingUpIdentity:
		return "looking-up-identity"
	case phaseRegistering:
		return "registering"
	case phaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Coordinator drives a single registration attempt against a policy client:
// acquire a scoped access token, check the account's hosted domain, register
// the client, and report completion through a callback that runs exactly
// once per attempt no matter which step fails or succeeds.
//
// The policy client is observed, not owned. The coordinator attaches itself
// as an observer for the duration of the attempt and detaches on every exit
// path, including Close mid-attempt. Coordinators are single use: one
// attempt per instance.
//
// Helper callbacks and observer notifications may arrive on collaborator
// goroutines; all transitions are serialized under an internal mutex, and a
// callback that fires after completion or Close is dropped.
type Coordinator struct {
	log       *slog.Logger
	request   interfaces.RegistrationRequest
	exchanger interfaces.TokenExchanger
	userInfo  interfaces.UserInfoSource

	mu       sync.Mutex
	phase    phase
	closed   bool
	client   interfaces.PolicyClient
	onDone   func()
	token    interfaces.AccessToken
	acquirer TokenAcquirer
	lookup   *IdentityLookupClient
	cancel   context.CancelFunc
}

// NewCoordinator creates a coordinator for one registration attempt against
// client. The exchanger backs StartRegistrationWithRefreshToken and may be
// nil when only StartRegistration is used.
func NewCoordinator(client interfaces.PolicyClient, request interfaces.RegistrationRequest, exchanger interfaces.TokenExchanger, userInfo interfaces.UserInfoSource, log *slog.Logger) *Coordinator {
	return &Coordinator{
		log:       log,
		request:   request,
		exchanger: exchanger,
		userInfo:  userInfo,
		client:    client,
	}
}

// StartRegistration begins an attempt that sources its access token from a
// session-backed token service, optionally on behalf of usernameHint. The
// hint may be empty only when the service already holds an authenticated
// session.
//
// onDone runs exactly once, whether registration succeeded, was skipped or
// failed; it carries no payload. Callers inspect the policy client to tell
// the outcomes apart. Starting a second attempt, or starting while the
// client is already registered, is a programming error and panics.
func (c *Coordinator) StartRegistration(service interfaces.TokenService, usernameHint string, onDone func()) {
	c.start(interfaces.UsernameHintCredential(usernameHint), service, onDone)
}

// StartRegistrationWithRefreshToken begins an attempt that exchanges a login
// refresh token for its access token. Completion semantics match
// StartRegistration.
func (c *Coordinator) StartRegistrationWithRefreshToken(refreshToken string, onDone func()) {
	c.start(interfaces.RefreshTokenCredential(refreshToken), nil, onDone)
}

// acquirerFor selects the token acquisition strategy named by the
// credential's tag.
func (c *Coordinator) acquirerFor(cred interfaces.Credential, service interfaces.TokenService) TokenAcquirer {
	if cred.Kind() == interfaces.CredentialRefreshToken {
		return NewRefreshTokenAcquirer(c.exchanger, cred.RefreshToken(), c.log)
	}
	return NewServiceTokenAcquirer(service, cred.UsernameHint(), c.log)
}

func (c *Coordinator) start(cred interfaces.Credential, service interfaces.TokenService, onDone func()) {
	if onDone == nil {
		panic("registration: onDone must not be nil")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		panic("registration: coordinator is closed")
	}
	if c.phase != phaseIdle {
		c.mu.Unlock()
		panic("registration: a registration attempt is already in flight")
	}
	client := c.client
	c.mu.Unlock()

	if client.Registered() {
		panic("registration: policy client is already registered")
	}

	acquirer := c.acquirerFor(cred, service)
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.phase = phaseAcquiringToken
	c.onDone = onDone
	c.acquirer = acquirer
	c.cancel = cancel
	c.mu.Unlock()

	client.AddObserver(c)
	c.log.Debug("registration attempt started",
		slog.String("strategy", cred.Kind().String()),
		slog.String("type", c.request.Type.String()),
		slog.Bool("force_load", c.request.ForceLoad))

	acquirer.Start(ctx, func(token interfaces.AccessToken) {
		c.onTokenAcquired(ctx, token)
	})
}

// onTokenAcquired handles the acquirer's single delivery. The empty token is
// the failure sentinel and ends the attempt; a usable token moves the
// attempt on to the identity lookup.
func (c *Coordinator) onTokenAcquired(ctx context.Context, token interfaces.AccessToken) {
	c.mu.Lock()
	if c.closed || c.phase != phaseAcquiringToken {
		c.mu.Unlock()
		return
	}
	c.acquirer = nil

	if !token.Valid() {
		c.mu.Unlock()
		c.log.Info("no access token acquired, ending registration attempt")
		c.finish()
		return
	}

	c.token = token
	c.phase = phaseLookingUpIdentity
	lookup := NewIdentityLookupClient(c.userInfo, c.log)
	c.lookup = lookup
	c.mu.Unlock()

	c.log.Debug("access token acquired", slog.Any("token", token))
	lookup.Start(ctx, token, c.onIdentityLookup)
}

// onIdentityLookup applies the hosted-domain gate and, when it passes, hands
// the attempt to the policy client.
func (c *Coordinator) onIdentityLookup(info interfaces.HostedDomainInfo, err error) {
	c.mu.Lock()
	if c.closed || c.phase != phaseLookingUpIdentity {
		c.mu.Unlock()
		return
	}
	c.lookup = nil

	if err != nil {
		c.mu.Unlock()
		c.log.Info("identity lookup failed, ending registration attempt", slog.Any("err", err))
		c.finish()
		return
	}

	if !info.Present && !c.request.ForceLoad {
		c.mu.Unlock()
		c.log.Info("account is not in a hosted domain, skipping registration")
		c.finish()
		return
	}

	client := c.client
	token := c.token
	c.phase = phaseRegistering
	c.mu.Unlock()

	if client.Registered() {
		// The client must not be registered at this point; something outside
		// the attempt registered it between the Start precondition and now.
		c.log.Error("policy client was registered out of band, ending registration attempt")
		c.finish()
		return
	}

	c.log.Debug("registering policy client", slog.String("domain", info.Domain.String()))
	client.Register(c.request.Type, token)
}

// OnRegistrationStateChanged implements interfaces.PolicyClientObserver. The
// policy client signals settled registration state through this callback; it
// ends the attempt.
func (c *Coordinator) OnRegistrationStateChanged(client interfaces.PolicyClient) {
	if !c.attemptActive() {
		return
	}
	if client.Registered() {
		c.log.Info("policy client registration succeeded")
	} else {
		c.log.Warn("registration state changed while the client is not registered")
	}
	c.finish()
}

// OnClientError implements interfaces.PolicyClientObserver and ends the
// attempt.
func (c *Coordinator) OnClientError(client interfaces.PolicyClient) {
	if !c.attemptActive() {
		return
	}
	c.log.Warn("policy client reported an error, ending registration attempt",
		slog.Any("err", client.LastError()))
	c.finish()
}

// OnPolicyFetched implements interfaces.PolicyClientObserver. Policy fetch
// notifications are not part of registration and are ignored.
func (c *Coordinator) OnPolicyFetched(interfaces.PolicyClient) {
	c.log.Debug("ignoring policy fetch notification during registration")
}

// attemptActive reports whether an attempt is in flight.
func (c *Coordinator) attemptActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.phase != phaseIdle && c.phase != phaseCompleted
}

// finish completes the attempt exactly once: the observer registration is
// removed, helper state is released and the completion callback runs. Later
// calls are no-ops, as are calls racing a Close.
func (c *Coordinator) finish() {
	c.mu.Lock()
	if c.closed || c.phase == phaseCompleted {
		c.mu.Unlock()
		return
	}
	c.phase = phaseCompleted
	client := c.client
	onDone := c.onDone
	cancel := c.cancel
	c.client = nil
	c.onDone = nil
	c.acquirer = nil
	c.lookup = nil
	c.token = ""
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.RemoveObserver(c)
	}
	onDone()
}

// Close tears down the coordinator. If an attempt is still in flight its
// observer registration is removed and any in-flight network call is
// abandoned, but the completion callback does not run. Close is idempotent
// and safe after completion.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	client := c.client
	cancel := c.cancel
	c.client = nil
	c.onDone = nil
	c.acquirer = nil
	c.lookup = nil
	c.token = ""
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.RemoveObserver(c)
	}
}
