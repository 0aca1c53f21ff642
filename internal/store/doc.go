// Package store provides persistence for keyward's key material.
//
// It contains concrete implementations of the domain storage interfaces:
//   - MemoryStore keeps everything in process memory. It implements both
//     domain.CryptoStore and domain.StateStore and backs tests and the
//     "memory" backend.
//   - FileStore keeps each collection in its own JSON file under a
//     directory, written via temp file and rename. The account pickle is
//     sealed with a passphrase (scrypt + ChaCha20-Poly1305) before it is
//     written.
//
// Subpackages sqlstore and redisstate hold the SQLite key store and the
// Redis-backed membership oracle. All stores are safe for concurrent use.
package store
