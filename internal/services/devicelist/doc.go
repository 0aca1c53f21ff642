// Package devicelist keeps remote users' device lists.
//
// ValidateDevice turns a server-reported key bundle into a DeviceIdentity
// or rejects it with a *DeviceValidationError. The check is pure: no store
// access, no network.
//
// Machine drives bulk /keys/query requests, validates every returned
// device, replaces each user's stored device map under a per-user lock and
// invalidates outbound group sessions in rooms shared with users whose
// device roster changed.
//
// # Notes
//
// Change detection is coarse: a user counts as changed when a device is new
// or the number of valid devices differs from the stored count.
package devicelist
