// Package registry implements the device-management server's system of
// record on a local bbolt database.
//
// BoltRegistry keeps three buckets:
//
//   - devices: device records (JSON) keyed by device ID
//   - dmtokens: DM token to device ID index, used to authenticate policy
//     fetch requests
//   - domain_policies: policy payload content ID keyed by domain
//
// All writes go through bbolt transactions, so a device record and its DM
// token index entry never diverge. MockDeviceRegistry provides a
// testify-based mock of the same contract for handler tests.
package registry
