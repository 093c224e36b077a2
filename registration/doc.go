// Package registration coordinates a single cloud policy registration
// attempt: acquire a scoped access token, look up the account's hosted
// domain, and register the policy client, reporting completion through a
// callback that fires exactly once.
//
// The package is built from three pieces:
//
//   - TokenAcquirer obtains a scoped access token using one of two
//     strategies, a session-backed token service or a direct refresh-token
//     exchange with the identity provider.
//   - IdentityLookupClient fetches the account's identity attributes and
//     reduces them to hosted-domain membership.
//   - Coordinator owns one attempt end to end, sequencing the helpers and
//     observing the policy client until its registration state settles.
//
// A failure at any step ends the attempt; there are no retries. The
// completion callback carries no payload. Callers inspect the policy client
// afterwards to learn whether registration succeeded or the attempt was
// skipped.
package registration
