package interfaces

import (
	"context"

	"keyward/internal/account"
	"keyward/internal/domain/types"
)

// CryptoStore persists the account, the device cache and group sessions.
// Implementations must be safe for concurrent use.
type CryptoStore interface {
	// GetAccount returns nil, nil when no account has been stored yet.
	GetAccount(ctx context.Context) (*account.Account, error)
	PutAccount(ctx context.Context, acc *account.Account) error

	// GetDevices returns nil, nil for a user whose devices were never
	// stored; an empty non-nil map means the user has no devices.
	GetDevices(ctx context.Context, user types.UserID) (map[types.DeviceID]*types.DeviceIdentity, error)
	// PutDevices replaces the user's device set and marks the user tracked.
	PutDevices(ctx context.Context, user types.UserID, devices map[types.DeviceID]*types.DeviceIdentity) error
	// MarkTracked records users whose device lists should be followed even
	// before any devices are known.
	MarkTracked(ctx context.Context, users []types.UserID) error
	// FilterTrackedUsers returns the subset of users that are tracked.
	FilterTrackedUsers(ctx context.Context, users []types.UserID) ([]types.UserID, error)

	PutOutboundGroupSession(ctx context.Context, sess *types.OutboundGroupSession) error
	// GetOutboundGroupSession returns nil, nil when the room has none.
	GetOutboundGroupSession(ctx context.Context, room types.RoomID) (*types.OutboundGroupSession, error)
	// RemoveOutboundGroupSession is a no-op when the room has none.
	RemoveOutboundGroupSession(ctx context.Context, room types.RoomID) error

	PutInboundGroupSession(ctx context.Context, sess *types.InboundGroupSession) error
	// GetInboundGroupSession returns nil, nil when unknown.
	GetInboundGroupSession(ctx context.Context, senderKey types.Curve25519, room types.RoomID, id types.SessionID) (*types.InboundGroupSession, error)
}

// StateStore answers room-state questions: whether a room is encrypted and
// which rooms the local user shares with another user.
type StateStore interface {
	IsEncrypted(ctx context.Context, room types.RoomID) (bool, error)
	FindSharedRooms(ctx context.Context, user types.UserID) ([]types.RoomID, error)
}

// StateWriter records the room state a StateStore answers from. The sync
// dispatcher feeds it encryption and membership events.
type StateWriter interface {
	SetEncrypted(ctx context.Context, room types.RoomID, encrypted bool) error
	SetMembership(ctx context.Context, room types.RoomID, user types.UserID, membership types.Membership) error
}
