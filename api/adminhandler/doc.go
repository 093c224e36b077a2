/*
Package adminhandler implements the operator surface of the policy server:
uploading policy payloads, assigning them to domains and listing registered
devices.

Every request is authenticated by an ECDSA signature over the request path
and body, carried in the X-Admin-ID and X-Admin-Signature headers. The
server holds a whitelist of admin public keys loaded at startup; there are
no admin sessions or passwords.

Uploading stores the payload content-addressed. Assignment signs the payload
with the domain's signing key, stores the detached signature next to the
payload for out-of-band distribution, and points the domain's registry entry
at the payload. Devices see the new policy on their next fetch.

Client signs and issues these requests for the enrollctl CLI.
*/
package adminhandler
