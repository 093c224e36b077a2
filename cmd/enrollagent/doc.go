// Package main (cmd/enrollagent) implements the machine enrollment agent.
//
// The agent runs the full registration workflow against an identity provider
// and a policy server: acquire an access token (either by exchanging a
// refresh token directly, or through the provider's session-backed token
// service with a username hint), look up the account's identity document,
// and register for policy when the account belongs to a managed domain.
// Accounts without a hosted-domain marker are skipped unless --force is set.
//
// A successful registration is persisted in a local bolt database with the
// DM token sealed under a machine secret; subsequent runs resume the
// persisted registration instead of re-enrolling. With a verifying key
// configured the agent then fetches the device's policy, resolves the
// payload (inline or from the advertised storage locations), verifies the
// content hash and the per-domain signature, and writes the payload out.
//
// The policy server can be named explicitly (--dm-url) or discovered via
// DNS SRV records under _policy._tcp.<domain> (--discover).
//
// Example usage:
//
//	enrollagent --token-url=https://idp.example.com/oauth2/token \
//	    --userinfo-url=https://idp.example.com/oauth2/userinfo \
//	    --dm-url=https://policy.example.com \
//	    --refresh-token=rt-alice \
//	    --machine-secret=... \
//	    --verifying-key=./corp.example.com.pub \
//	    --policy-out=./policy.json
package main
