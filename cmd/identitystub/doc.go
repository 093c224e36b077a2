// Package main (cmd/identitystub) implements a stub OAuth2 identity provider.
//
// The stub serves the two provider endpoints the enrollment flow depends on:
// the token endpoint (refresh-token grant, issuing HS256 access tokens) and
// the userinfo endpoint (identity documents with a hosted-domain marker for
// managed accounts). Accounts are loaded from a JSON file keyed by refresh
// token, making the stub suitable for integration testing and local
// development against a real policy server.
//
// The access-token signing secret must match the policy server's
// --access-token-secret so tokens issued here validate there.
//
// Example usage:
//
//	identitystub --listen-addr=127.0.0.1:8081 \
//	    --accounts-file=./accounts.json \
//	    --access-token-secret=6d792d7369676e696e672d736563726574
package main
