// Package account holds the local device's olm account: its long-term
// identity (curve25519) and signing (ed25519) keys, the one-time key pool,
// and the shared flag recording that the identity keys were published.
//
// The account produces the signed device key bundle and signed one-time
// keys uploaded to the homeserver. It performs no I/O; persistence goes
// through the key store, which stores the CBOR pickle from Marshal.
package account
