package interfaces

import (
	"context"

	"keyward/internal/domain/types"
)

// OlmDecrypter decrypts olm-encrypted to-device events. The olm session
// layer itself lives outside this module.
type OlmDecrypter interface {
	DecryptOlmEvent(ctx context.Context, evt *types.ToDeviceEvent) (*types.DecryptedOlmEvent, error)
}
