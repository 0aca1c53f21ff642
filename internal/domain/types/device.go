package types

import "encoding/json"

// UnsignedDeviceInfo holds the unsigned, server-added part of a device key
// bundle.
type UnsignedDeviceInfo struct {
	DeviceDisplayName string `json:"device_display_name,omitempty"`
}

// DeviceKeys is the signed key bundle a device publishes and the homeserver
// reports back from /keys/query.
//
// Raw keeps the bytes the bundle was decoded from, so signatures are checked
// over exactly what the server sent, including fields this type doesn't know.
type DeviceKeys struct {
	UserID     UserID              `json:"user_id"`
	DeviceID   DeviceID            `json:"device_id"`
	Algorithms []Algorithm         `json:"algorithms"`
	Keys       map[string]string   `json:"keys"`
	Signatures Signatures          `json:"signatures,omitempty"`
	Unsigned   *UnsignedDeviceInfo `json:"unsigned,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the bundle and retains the raw bytes.
func (k *DeviceKeys) UnmarshalJSON(data []byte) error {
	type alias DeviceKeys
	var aux alias
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*k = DeviceKeys(aux)
	k.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Ed25519 returns the bundle's signing key for its own device id.
func (k *DeviceKeys) Ed25519() Ed25519 {
	return Ed25519(k.Keys[KeyID(KeyAlgorithmEd25519, k.DeviceID.String())])
}

// Curve25519 returns the bundle's identity key for its own device id.
func (k *DeviceKeys) Curve25519() Curve25519 {
	return Curve25519(k.Keys[KeyID(KeyAlgorithmCurve25519, k.DeviceID.String())])
}

// DisplayName returns the self-reported device name, or "" if none.
func (k *DeviceKeys) DisplayName() string {
	if k.Unsigned == nil {
		return ""
	}
	return k.Unsigned.DeviceDisplayName
}

// DeviceIdentity is a validated remote device and its local trust metadata.
// SigningKey never changes once stored for a (user, device) pair.
type DeviceIdentity struct {
	UserID      UserID     `json:"user_id"`
	DeviceID    DeviceID   `json:"device_id"`
	IdentityKey Curve25519 `json:"identity_key"`
	SigningKey  Ed25519    `json:"signing_key"`
	Trust       TrustState `json:"trust"`
	Name        string     `json:"name"`
	Deleted     bool       `json:"deleted"`
}
