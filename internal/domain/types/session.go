package types

import "time"

// OutboundGroupSession is the megolm session used to encrypt outgoing
// messages in one room. It is created elsewhere; here it is only looked up
// and invalidated.
type OutboundGroupSession struct {
	RoomID       RoomID    `json:"room_id"`
	SessionID    SessionID `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
	Shared       bool      `json:"shared"`
}

// InboundGroupSession is the decryption context for one sender's megolm
// session in a room, established from an m.room_key announcement.
type InboundGroupSession struct {
	SenderKey  Curve25519 `json:"sender_key"`
	SigningKey Ed25519    `json:"signing_key"`
	RoomID     RoomID     `json:"room_id"`
	SessionID  SessionID  `json:"session_id"`
	SessionKey string     `json:"session_key"`
}
