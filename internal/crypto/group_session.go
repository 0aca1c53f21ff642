package crypto

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"keyward/internal/domain/types"
)

// Megolm session key layout: version, message index, ratchet, the session's
// Ed25519 public key and a signature over everything before it.
const (
	sessionKeyVersion   = 2
	megolmRatchetSize   = 128
	sessionKeySignedLen = 1 + 4 + megolmRatchetSize + ed25519.PublicKeySize
	sessionKeyLen       = sessionKeySignedLen + ed25519.SignatureSize
)

// Errors returned for malformed m.room_key session keys.
var (
	ErrSessionKeyFormat    = errors.New("malformed megolm session key")
	ErrSessionKeySignature = errors.New("megolm session key signature mismatch")
	ErrSessionIDMismatch   = errors.New("session id does not match session key")
)

// NewInboundGroupSession builds the inbound session announced by an m.room_key
// event. The session key's self-signature and its binding to sessionID are
// checked; ratchet state is carried opaquely.
func NewInboundGroupSession(
	senderKey types.Curve25519,
	signingKey types.Ed25519,
	roomID types.RoomID,
	sessionID types.SessionID,
	sessionKey string,
) (*types.InboundGroupSession, error) {
	raw, err := DecodeB64(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionKeyFormat, err)
	}
	if len(raw) != sessionKeyLen || raw[0] != sessionKeyVersion {
		return nil, ErrSessionKeyFormat
	}
	pub := raw[1+4+megolmRatchetSize : sessionKeySignedLen]
	sig := raw[sessionKeySignedLen:]
	if !ed25519.Verify(ed25519.PublicKey(pub), raw[:sessionKeySignedLen], sig) {
		return nil, ErrSessionKeySignature
	}
	if B64(pub) != sessionID.String() {
		return nil, ErrSessionIDMismatch
	}
	return &types.InboundGroupSession{
		SenderKey:  senderKey,
		SigningKey: signingKey,
		RoomID:     roomID,
		SessionID:  sessionID,
		SessionKey: sessionKey,
	}, nil
}

// EncodeSessionKey produces a session key in the m.room_key format for the
// given ratchet state, signed by the session's key pair. It returns the key
// and the session id derived from the public half.
func EncodeSessionKey(kp *Ed25519KeyPair, index uint32, ratchet [megolmRatchetSize]byte) (string, types.SessionID, error) {
	pub, err := DecodeB64(kp.Public.String())
	if err != nil {
		return "", "", err
	}
	buf := make([]byte, 0, sessionKeyLen)
	buf = append(buf, sessionKeyVersion)
	buf = binary.BigEndian.AppendUint32(buf, index)
	buf = append(buf, ratchet[:]...)
	buf = append(buf, pub...)
	sk := ed25519.NewKeyFromSeed(kp.Seed[:])
	defer Wipe(sk)
	buf = append(buf, ed25519.Sign(sk, buf)...)
	return B64(buf), types.SessionID(B64(pub)), nil
}
