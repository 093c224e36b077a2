// Package main (cmd/enrollctl) implements the operator tool for the cloud
// policy enrollment backend.
//
// Commands:
//
//   - policy put: store a policy payload through the admin API and assign it
//     to a managed domain. Requests are ECDSA-signed with the operator's
//     admin key.
//
//   - policy show: fetch a stored payload directly from the storage backends
//     by content ID.
//
//   - devices list: list the registered devices.
//
//   - admin keygen: generate an admin ECDSA keypair and print its
//     fingerprint for the server's admin keys file.
//
//   - escrow split: split a policy signing master key into Shamir shares,
//     encrypt each share to one administrator's public key, and write the
//     per-admin share files for distribution.
//
//   - escrow recover: decrypt a quorum of share files with the matching
//     admin private keys, sign each share, reconstruct the master key, and
//     optionally write the signed bundle the policy server's escrow startup
//     mode consumes.
//
// Example usage:
//
//	enrollctl policy put --server=https://policy.example.com \
//	    --admin-id=a1b2c3d4e5f60718 --admin-key=./admin.key \
//	    --domain=corp.example.com --file=./policy.json
package main
