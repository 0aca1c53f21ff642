package interfaces

import (
	"context"

	"keyward/internal/domain/types"
)

// KeysClient is the subset of the homeserver client-server API used for
// key management.
type KeysClient interface {
	// QueryKeys fetches the device keys of users. token may be empty.
	QueryKeys(ctx context.Context, users []types.UserID, token types.SyncToken) (*types.QueryKeysResponse, error)
	// UploadKeys publishes one-time keys and, when non-nil, device keys.
	UploadKeys(ctx context.Context, oneTimeKeys map[string]types.OneTimeKey, deviceKeys *types.DeviceKeys) (*types.UploadKeysResponse, error)
}
