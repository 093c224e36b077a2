package registration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"go.uber.org/atomic"
)

// IdentityLookupClient fetches the identity document for an access token and
// reduces it to hosted-domain membership. Clients are single use: one lookup
// per instance.
type IdentityLookupClient struct {
	source interfaces.UserInfoSource
	log    *slog.Logger

	started atomic.Bool
}

// NewIdentityLookupClient creates a lookup client backed by source.
func NewIdentityLookupClient(source interfaces.UserInfoSource, log *slog.Logger) *IdentityLookupClient {
	return &IdentityLookupClient{source: source, log: log}
}

// Start fetches identity attributes for token. deliver is invoked exactly
// once, with the hosted-domain info on success or a non-nil error and no
// partial data on failure. Starting twice or starting without a token is a
// programming error and panics.
func (l *IdentityLookupClient) Start(ctx context.Context, token interfaces.AccessToken, deliver func(interfaces.HostedDomainInfo, error)) {
	if l.started.Swap(true) {
		panic("registration: identity lookup is single use")
	}
	if !token.Valid() {
		panic("registration: identity lookup requires an access token")
	}

	go func() {
		userInfo, err := l.source.FetchUserInfo(ctx, token)
		if err != nil {
			deliver(interfaces.HostedDomainInfo{}, fmt.Errorf("fetching user info: %w", err))
			return
		}

		var info interfaces.HostedDomainInfo
		if userInfo.HostedDomain != "" {
			info.Present = true
			domain, err := interfaces.NewDomain(userInfo.HostedDomain)
			if err != nil {
				// Presence alone gates registration; a marker that is not a
				// well-formed domain still counts as present.
				l.log.Debug("hosted domain marker is not a well-formed domain",
					slog.String("hd", userInfo.HostedDomain))
			} else {
				info.Domain = domain
			}
		}
		deliver(info, nil)
	}()
}
