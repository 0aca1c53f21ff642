// Package main runs an in-memory development key server speaking the key
// endpoints of the Matrix client-server API. keyward can share and query
// keys against it without a full homeserver.
//
// HTTP API
//
//	POST /_matrix/client/v3/keys/upload
//	    Store the caller's device keys and one-time keys. Device keys must
//	    name the authenticated user and device. Responds with the caller's
//	    one-time key counts per algorithm.
//
//	POST /_matrix/client/v3/keys/query
//	    Return the device keys of the requested users, byte for byte as
//	    uploaded. An empty device list selects all of a user's devices.
//
//	POST /_matrix/client/v3/keys/claim
//	    Hand out and remove one one-time key per requested device.
//
// Behaviour
//
//   - Callers authenticate with a bearer token mapped to a user and device
//     by --token TOKEN=@user:server/DEVICE flags.
//   - All state is held in memory and lost on process exit.
//   - Errors use the Matrix {"errcode", "error"} shape.
//   - Every request is access-logged with method, path, status and duration.
//   - The default listen address is :8008.
//
// The server never sees private keys; it only stores public key material.
package main
