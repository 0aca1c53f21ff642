package devicelist

import (
	"encoding/json"
	"errors"
	"fmt"

	"keyward/internal/crypto"
	"keyward/internal/domain"
	"keyward/internal/domain/types"
)

// Reasons a device key bundle is rejected. A *DeviceValidationError wraps
// exactly one of these.
var (
	ErrMismatchingUserID   = errors.New("mismatching user id")
	ErrMismatchingDeviceID = errors.New("mismatching device id")
	ErrMissingSigningKey   = errors.New("missing ed25519 signing key")
	ErrMissingIdentityKey  = errors.New("missing curve25519 identity key")
	ErrSigningKeyChanged   = errors.New("signing key changed")
	ErrInvalidSignature    = errors.New("invalid signature")
)

// DeviceValidationError reports why a device key bundle was rejected.
type DeviceValidationError struct {
	UserID   domain.UserID
	DeviceID domain.DeviceID
	Err      error
}

func (e *DeviceValidationError) Error() string {
	return fmt.Sprintf("device %s of %s: %v", e.DeviceID, e.UserID, e.Err)
}

func (e *DeviceValidationError) Unwrap() error { return e.Err }

// ValidateDevice checks a server-reported key bundle claimed to belong to
// (user, device) and returns the resulting identity. existing is the stored
// identity for the device, or nil. The checks run in a fixed order and the
// first failure is returned; nothing is read from or written to storage.
//
// A new device starts with TrustStateUnset. A known device keeps its trust
// state; only its name and deleted flag are refreshed.
func ValidateDevice(
	user domain.UserID,
	device domain.DeviceID,
	keys *domain.DeviceKeys,
	existing *domain.DeviceIdentity,
) (*domain.DeviceIdentity, error) {
	fail := func(err error) (*domain.DeviceIdentity, error) {
		return nil, &DeviceValidationError{UserID: user, DeviceID: device, Err: err}
	}

	if keys.UserID != user {
		return fail(fmt.Errorf("%w: bundle claims %q", ErrMismatchingUserID, keys.UserID))
	}
	if keys.DeviceID != device {
		return fail(fmt.Errorf("%w: bundle claims %q", ErrMismatchingDeviceID, keys.DeviceID))
	}
	signingKey := keys.Ed25519()
	if signingKey == "" {
		return fail(ErrMissingSigningKey)
	}
	identityKey := keys.Curve25519()
	if identityKey == "" {
		return fail(ErrMissingIdentityKey)
	}
	if existing != nil && existing.SigningKey != signingKey {
		return fail(ErrSigningKeyChanged)
	}

	raw := keys.Raw
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(keys); err != nil {
			return fail(fmt.Errorf("%w: %v", ErrInvalidSignature, err))
		}
	}
	ok, err := crypto.VerifySignatureJSON(raw, user, types.KeyID(types.KeyAlgorithmEd25519, device.String()), signingKey)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidSignature, err))
	}
	if !ok {
		return fail(ErrInvalidSignature)
	}

	name := keys.DisplayName()
	if name == "" {
		name = device.String()
	}
	trust := types.TrustStateUnset
	if existing != nil {
		trust = existing.Trust
	}
	return &domain.DeviceIdentity{
		UserID:      user,
		DeviceID:    device,
		IdentityKey: identityKey,
		SigningKey:  signingKey,
		Trust:       trust,
		Name:        name,
		Deleted:     false,
	}, nil
}
