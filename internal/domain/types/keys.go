package types

// Curve25519 is an unpadded-base64 Curve25519 public key, used as a
// device identity key and for one-time keys.
type Curve25519 string

// String returns the encoded key.
func (k Curve25519) String() string { return string(k) }

// Ed25519 is an unpadded-base64 Ed25519 public key, used as a device
// signing key.
type Ed25519 string

// String returns the encoded key.
func (k Ed25519) String() string { return string(k) }

// Signatures maps signer user id to key id ("ed25519:DEVICE") to signature.
type Signatures map[UserID]map[string]string

// Add records sig under user and keyID, allocating as needed.
func (s Signatures) Add(user UserID, keyID, sig string) {
	inner, ok := s[user]
	if !ok {
		inner = make(map[string]string)
		s[user] = inner
	}
	inner[keyID] = sig
}

// Get returns the signature under user and keyID, if any.
func (s Signatures) Get(user UserID, keyID string) (string, bool) {
	sig, ok := s[user][keyID]
	return sig, ok
}

// OneTimeKey is a signed one-time key as uploaded to the homeserver under
// "signed_curve25519:<id>".
type OneTimeKey struct {
	Key        Curve25519 `json:"key"`
	Signatures Signatures `json:"signatures,omitempty"`
}
