package interfaces

import "context"

// PolicyClientObserver is notified of policy client state changes. Observers
// are registered on a shared, externally-owned client; registration and
// removal must therefore be cheap and removal idempotent.
type PolicyClientObserver interface {
	// OnRegistrationStateChanged fires when the client's registration state
	// flips, in particular when an asynchronous Register call succeeds.
	OnRegistrationStateChanged(client PolicyClient)

	// OnClientError fires when an asynchronous client operation fails. The
	// failure detail is available through the client's LastError.
	OnClientError(client PolicyClient)

	// OnPolicyFetched fires when a policy fetch completes.
	OnPolicyFetched(client PolicyClient)
}

// PolicyClient is the registration sink of the enrollment workflow. The
// client is shared with other subsystems: the workflow observes it rather
// than owning it, and mutates it only through a single Register call issued
// after verifying Registered is false.
type PolicyClient interface {
	// Registered reports whether the client currently holds a valid
	// device-management registration.
	Registered() bool

	// AddObserver attaches an observer for state change notifications.
	AddObserver(observer PolicyClientObserver)

	// RemoveObserver detaches an observer. Removing an observer that is not
	// attached is a no-op.
	RemoveObserver(observer PolicyClientObserver)

	// Register starts an asynchronous registration with the given scoped
	// access token. Completion is signaled exclusively through observer
	// callbacks: OnRegistrationStateChanged on success, OnClientError on
	// failure. Callers must verify Registered is false before calling.
	Register(registrationType RegistrationType, token AccessToken)

	// LastError returns the failure behind the most recent OnClientError
	// notification, or nil.
	LastError() error
}

// TokenService mints scoped access tokens from an identity-provider session.
// It backs the service-backed acquisition strategy.
type TokenService interface {
	// HasSession reports whether the service holds a usable refresh
	// credential. A token request without a username hint requires an active
	// session.
	HasSession() bool

	// IssueToken requests one access token for the given scopes. The
	// username hint pins the request to an account when the session covers
	// several; it may be empty when HasSession is true.
	IssueToken(ctx context.Context, usernameHint string, scopes []string) (AccessToken, error)
}

// TokenExchanger exchanges a long-lived login refresh token directly for a
// scoped access token. It backs the exchange acquisition strategy.
type TokenExchanger interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string, scopes []string) (AccessToken, error)
}

// UserInfoSource fetches the identity document for a bearer token.
type UserInfoSource interface {
	FetchUserInfo(ctx context.Context, token AccessToken) (UserInfo, error)
}
