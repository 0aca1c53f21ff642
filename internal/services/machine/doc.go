// Package machine routes sync-delivered signals to the key management
// services.
//
// OlmMachine holds the device list machine, the key sharer, the key store,
// the membership oracle and the olm decrypter, and handles four signals:
//   - one-time key counts (replenish below half of the pool)
//   - device list deltas (re-query changed tracked users)
//   - room membership changes (invalidate the room's outbound session)
//   - encrypted to-device events (decrypt, then take in room keys)
//
// Handlers are safe to call concurrently.
//
// # Notes
//
// The membership transitions that do not invalidate are listed in
// IgnoredMembershipTransitions. ban->leave and leave->ban are exempt even
// though leave from join is not; that table is kept as is pending review.
package machine
