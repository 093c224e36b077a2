/*
Package tokenhandler implements the identity provider's OAuth2 token
endpoint and its clients.

The handler serves the refresh-token grant only: a long-lived refresh token
is exchanged for a short-lived access token scoped to the enrollment
services. Access tokens are HS256 JWTs carrying the account's email, its
hosted-domain marker and the granted scopes, so the userinfo and
device-management services can validate them with the shared signing secret
and no further round trip.

Two client types cover the two acquisition paths of the enrollment workflow:
Client exchanges an explicit refresh token (interfaces.TokenExchanger), and
TokenSource mints tokens from a held provider session, optionally pinned to
an account by login hint (interfaces.TokenService).
*/
package tokenhandler
