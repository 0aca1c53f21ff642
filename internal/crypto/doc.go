// Package crypto exposes the minimal primitives used by keyward.
//
// Contents
//
//   - Curve25519 key generation for identity and one-time keys
//     (GenerateCurve25519)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     Ed25519KeyPair.Sign, VerifyEd25519)
//   - Matrix canonical JSON and signed-JSON handling (CanonicalJSON, SignJSON,
//     VerifySignatureJSON)
//   - Inbound group session construction from an m.room_key session key
//     (NewInboundGroupSession)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//   - Human-readable key fingerprints (Fingerprint)
//
// # Notes
//
// Public keys travel as unpadded standard base64, the encoding Matrix uses on
// the wire. Private halves stay as fixed-size arrays so they can be wiped.
// The ratchet math of olm and megolm is not implemented here.
package crypto
