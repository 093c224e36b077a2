/*
Package api defines the wire protocol shared by the enrollment services and
their clients.

This package is organized into four handler subpackages, one per service
surface:

1. tokenhandler - identity provider token endpoint (OAuth2 refresh-token grant)
2. userinfohandler - identity document endpoint with the hosted-domain marker
3. dmhandler - device-management registration and policy fetch endpoints
4. adminhandler - operator surface for policy upload, assignment and listings

Each subpackage carries the HTTP handler, the matching client, and tests that
drive the two against each other. The root package holds what they share:
JSON wire types, header names, endpoint configuration structs, and the
status-carrying RequestError.

# Protocol Shape

An agent enrolls in three steps: exchange a credential for a scoped access
token (tokenhandler), prove hosted-domain membership (userinfohandler), and
register for a DM token (dmhandler). The DM token then authenticates policy
fetches. Operators feed the other side: payloads are uploaded and assigned to
domains through adminhandler, stored content-addressed, and served to devices
inside signed policy envelopes.

# Authentication

Three credentials appear on the wire: bearer access tokens on identity and
registration requests, DM tokens on post-registration device-management
requests, and ECDSA request signatures on the admin surface.
*/
package api
