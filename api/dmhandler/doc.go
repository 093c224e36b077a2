/*
Package dmhandler implements the device-management service: registration,
unregistration and policy fetch.

# Registration

A device registers by presenting a scoped access token. The handler
validates the token with the signing secret shared with the identity
provider, requires the devicemanagement scope and a hosted-domain marker,
then mints an opaque DM token and records the device in the registry. The
DM token authenticates everything the device does afterwards; the access
token is never used again.

Accounts outside a managed domain are refused. A client that skipped its own
domain gate still cannot register a consumer account.

# Policy fetch

Registered devices fetch policy with their DM token. The handler resolves
the domain's assigned payload from the registry, loads it from
content-addressed storage and returns a signed envelope: the payload's
content ID, a fresh detached signature from the domain's signing key, the
payload itself when small enough to inline, and the storage locations agents
can fetch larger payloads from.

Client is the matching HTTP client; the concrete policy client in package
policyclient builds on it.
*/
package dmhandler
