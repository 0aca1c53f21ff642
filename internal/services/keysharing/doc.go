// Package keysharing publishes the local device's keys and takes in room
// keys announced by other devices.
//
// Sharer owns the account. Load reads it from the store, or generates and
// stores a fresh one. ShareKeys uploads device keys (once, until the
// account is marked shared) and tops up the server's one-time key pool;
// the account is persisted only after the upload succeeds. All account
// access goes through one mutex, so at most one upload is in flight.
//
// ReceiveRoomKey turns a decrypted m.room_key event into a stored inbound
// group session.
package keysharing
