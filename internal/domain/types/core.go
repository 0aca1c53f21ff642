package types

// UserID is a fully-qualified Matrix user identifier, e.g. "@alice:example.org".
type UserID string

// String returns the string form of the user id.
func (u UserID) String() string { return string(u) }

// DeviceID identifies one device (login) of a user.
type DeviceID string

// String returns the string form of the device id.
func (d DeviceID) String() string { return string(d) }

// RoomID identifies a room, e.g. "!abc:example.org".
type RoomID string

// String returns the string form of the room id.
func (r RoomID) String() string { return string(r) }

// SessionID identifies a megolm group session within a room.
type SessionID string

// String returns the string form of the session id.
func (s SessionID) String() string { return string(s) }

// SyncToken is the opaque continuation token handed out by /sync.
type SyncToken string

// EventType is the Matrix event type string.
type EventType string

// Event types consumed by the session machinery.
const (
	EventRoomMember        EventType = "m.room.member"
	EventRoomEncryption    EventType = "m.room.encryption"
	EventRoomKey           EventType = "m.room_key"
	EventToDeviceEncrypted EventType = "m.room.encrypted"
)

// Algorithm names an encryption algorithm.
type Algorithm string

// Supported algorithms.
const (
	AlgorithmOlmV1    Algorithm = "m.olm.v1.curve25519-aes-sha2"
	AlgorithmMegolmV1 Algorithm = "m.megolm.v1.aes-sha2"
)

// KeyAlgorithm is the prefix of a key id such as "ed25519:DEVICEID".
type KeyAlgorithm string

// Key algorithms used in device and one-time key objects.
const (
	KeyAlgorithmEd25519          KeyAlgorithm = "ed25519"
	KeyAlgorithmCurve25519       KeyAlgorithm = "curve25519"
	KeyAlgorithmSignedCurve25519 KeyAlgorithm = "signed_curve25519"
)

// KeyID joins an algorithm and an identifier into "algorithm:id".
func KeyID(algorithm KeyAlgorithm, id string) string {
	return string(algorithm) + ":" + id
}

// Membership is the membership value of an m.room.member event.
type Membership string

// Membership values. MembershipUnknown stands in for an absent previous
// membership.
const (
	MembershipJoin    Membership = "join"
	MembershipLeave   Membership = "leave"
	MembershipInvite  Membership = "invite"
	MembershipBan     Membership = "ban"
	MembershipKnock   Membership = "knock"
	MembershipUnknown Membership = "unknown"
)

// TrustState is the local trust decision for a remote device.
type TrustState int

// Trust states. New devices always start unset.
const (
	TrustStateUnset TrustState = iota
	TrustStateVerified
	TrustStateBlacklisted
	TrustStateIgnored
)

func (t TrustState) String() string {
	switch t {
	case TrustStateUnset:
		return "unset"
	case TrustStateVerified:
		return "verified"
	case TrustStateBlacklisted:
		return "blacklisted"
	case TrustStateIgnored:
		return "ignored"
	default:
		return "invalid"
	}
}
