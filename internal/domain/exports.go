package domain

import (
	interfaces "keyward/internal/domain/interfaces"
	types "keyward/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	UserID               = types.UserID
	DeviceID             = types.DeviceID
	RoomID               = types.RoomID
	SessionID            = types.SessionID
	SyncToken            = types.SyncToken
	EventType            = types.EventType
	Algorithm            = types.Algorithm
	KeyAlgorithm         = types.KeyAlgorithm
	Membership           = types.Membership
	TrustState           = types.TrustState
	Curve25519           = types.Curve25519
	Ed25519              = types.Ed25519
	Signatures           = types.Signatures
	OneTimeKey           = types.OneTimeKey
	DeviceKeys           = types.DeviceKeys
	DeviceIdentity       = types.DeviceIdentity
	OTKCount             = types.OTKCount
	DeviceLists          = types.DeviceLists
	MemberContent        = types.MemberContent
	MemberEvent          = types.MemberEvent
	ToDeviceEvent        = types.ToDeviceEvent
	DecryptedOlmEvent    = types.DecryptedOlmEvent
	RoomKeyContent       = types.RoomKeyContent
	OutboundGroupSession = types.OutboundGroupSession
	InboundGroupSession  = types.InboundGroupSession
	QueryKeysRequest     = types.QueryKeysRequest
	QueryKeysResponse    = types.QueryKeysResponse
	UploadKeysRequest    = types.UploadKeysRequest
	UploadKeysResponse   = types.UploadKeysResponse
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	CryptoStore  = interfaces.CryptoStore
	StateStore   = interfaces.StateStore
	StateWriter  = interfaces.StateWriter
	KeysClient   = interfaces.KeysClient
	OlmDecrypter = interfaces.OlmDecrypter
)
