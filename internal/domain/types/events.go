package types

import "encoding/json"

// OTKCount is the device_one_time_keys_count section of a sync response.
type OTKCount struct {
	Curve25519       int `json:"curve25519,omitempty"`
	SignedCurve25519 int `json:"signed_curve25519"`
}

// DeviceLists is the device_lists section of a sync response.
type DeviceLists struct {
	Changed []UserID `json:"changed,omitempty"`
	Left    []UserID `json:"left,omitempty"`
}

// MemberContent is the content of an m.room.member event.
type MemberContent struct {
	Membership  Membership `json:"membership"`
	Displayname string     `json:"displayname,omitempty"`
}

// MemberEvent is a room membership state change.
type MemberEvent struct {
	RoomID      RoomID         `json:"room_id"`
	Sender      UserID         `json:"sender"`
	StateKey    string         `json:"state_key"`
	Content     MemberContent  `json:"content"`
	PrevContent *MemberContent `json:"prev_content,omitempty"`
}

// OlmCiphertext is one recipient's ciphertext in an olm-encrypted event.
type OlmCiphertext struct {
	Type int    `json:"type"`
	Body string `json:"body"`
}

// EncryptedContent is the content of an m.room.encrypted to-device event.
type EncryptedContent struct {
	Algorithm  Algorithm                    `json:"algorithm"`
	SenderKey  Curve25519                   `json:"sender_key"`
	Ciphertext map[Curve25519]OlmCiphertext `json:"ciphertext,omitempty"`
}

// ToDeviceEvent is an encrypted point-to-point event delivered by sync.
type ToDeviceEvent struct {
	Sender  UserID           `json:"sender"`
	Type    EventType        `json:"type"`
	Content EncryptedContent `json:"content"`
}

// SigningKeys is the "keys" object of a decrypted olm payload.
type SigningKeys struct {
	Ed25519 Ed25519 `json:"ed25519,omitempty"`
}

// DecryptedOlmEvent is the plaintext of a to-device event after olm
// decryption. SenderKey comes from the encrypted envelope.
type DecryptedOlmEvent struct {
	Sender    UserID          `json:"sender"`
	SenderKey Curve25519      `json:"-"`
	Type      EventType       `json:"type"`
	Keys      SigningKeys     `json:"keys"`
	Content   json.RawMessage `json:"content"`
}

// RoomKeyContent is the content of an m.room_key event.
type RoomKeyContent struct {
	Algorithm  Algorithm `json:"algorithm"`
	RoomID     RoomID    `json:"room_id"`
	SessionID  SessionID `json:"session_id"`
	SessionKey string    `json:"session_key"`
}

// RoomKey decodes the event content as m.room_key content.
func (e *DecryptedOlmEvent) RoomKey() (*RoomKeyContent, error) {
	var content RoomKeyContent
	if err := json.Unmarshal(e.Content, &content); err != nil {
		return nil, err
	}
	return &content, nil
}
