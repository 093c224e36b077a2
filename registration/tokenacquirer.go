package registration

import (
	"context"
	"log/slog"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"go.uber.org/atomic"
)

// TokenAcquirer obtains a single scoped access token asynchronously. Exactly
// one call to deliver is made per Start: the acquired token on success, or
// the empty token on any failure. Acquirers are single use; a second Start
// is a programming error and panics.
type TokenAcquirer interface {
	Start(ctx context.Context, deliver func(interfaces.AccessToken))
}

// ServiceTokenAcquirer requests an access token from a session-backed token
// service, optionally on behalf of a named account.
type ServiceTokenAcquirer struct {
	service      interfaces.TokenService
	usernameHint string
	log          *slog.Logger

	started atomic.Bool
}

// NewServiceTokenAcquirer creates an acquirer for the service-backed
// strategy. An empty usernameHint is only valid when the service already
// holds an authenticated session.
func NewServiceTokenAcquirer(service interfaces.TokenService, usernameHint string, log *slog.Logger) *ServiceTokenAcquirer {
	return &ServiceTokenAcquirer{service: service, usernameHint: usernameHint, log: log}
}

// Start requests one token scoped for device management and user info
// lookup. Starting without a username hint while the service has no session
// violates the acquirer's precondition and panics.
func (a *ServiceTokenAcquirer) Start(ctx context.Context, deliver func(interfaces.AccessToken)) {
	if a.started.Swap(true) {
		panic("registration: token acquirer is single use")
	}
	if a.usernameHint == "" && !a.service.HasSession() {
		panic("registration: token service has no session and no username hint was given")
	}

	go func() {
		token, err := a.service.IssueToken(ctx, a.usernameHint, interfaces.RegistrationScopes())
		if err != nil {
			a.log.Warn("token service request failed", slog.Any("err", err))
			deliver("")
			return
		}
		deliver(token)
	}()
}

// RefreshTokenAcquirer exchanges a long-lived login refresh token for a
// scoped access token directly with the identity provider.
type RefreshTokenAcquirer struct {
	exchanger    interfaces.TokenExchanger
	refreshToken string
	log          *slog.Logger

	started atomic.Bool
}

// NewRefreshTokenAcquirer creates an acquirer for the exchange strategy.
func NewRefreshTokenAcquirer(exchanger interfaces.TokenExchanger, refreshToken string, log *slog.Logger) *RefreshTokenAcquirer {
	return &RefreshTokenAcquirer{exchanger: exchanger, refreshToken: refreshToken, log: log}
}

// Start exchanges the refresh token for one token scoped for device
// management and user info lookup.
func (a *RefreshTokenAcquirer) Start(ctx context.Context, deliver func(interfaces.AccessToken)) {
	if a.started.Swap(true) {
		panic("registration: token acquirer is single use")
	}

	go func() {
		token, err := a.exchanger.ExchangeRefreshToken(ctx, a.refreshToken, interfaces.RegistrationScopes())
		if err != nil {
			a.log.Warn("refresh token exchange failed", slog.Any("err", err))
			deliver("")
			return
		}
		deliver(token)
	}()
}
