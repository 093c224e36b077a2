// Package agent ties the enrollment workflow together on the device side.
//
// Enroller runs one registration attempt end to end: it builds the identity
// and device-management clients, drives the registration coordinator, and
// reports whether the device ended up registered or the attempt was skipped.
// StateStore persists the resulting registration on a local bbolt database,
// sealing the DM token at rest under a key derived from a machine secret.
// PolicyResolver turns a fetched policy envelope into a verified payload:
// the payload is loaded inline or from the envelope's storage locations,
// checked against its content ID, and its detached signature verified
// against the server's pinned verifying key.
package agent
