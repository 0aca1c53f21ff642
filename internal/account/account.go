package account

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"keyward/internal/crypto"
	"keyward/internal/domain/types"
)

// DefaultMaxOneTimeKeys is the one-time key pool size used when none is
// configured.
const DefaultMaxOneTimeKeys = 50

// Account is the local device's long-term identity and its one-time key pool.
//
// Identity keys are published at most once (Shared). One-time keys are
// generated incrementally; once marked published they are never offered for
// upload again, and once consumed they are removed. Account is not safe for
// concurrent mutation; callers serialize access.
type Account struct {
	IdentityKey    crypto.Curve25519KeyPair `cbor:"identity_key"`
	SigningKey     crypto.Ed25519KeyPair    `cbor:"signing_key"`
	OneTimeKeys    map[string]*OneTimeKey   `cbor:"one_time_keys"`
	NextKeyID      uint32                   `cbor:"next_key_id"`
	MaxOneTimeKeys int                      `cbor:"max_one_time_keys"`
	Shared         bool                     `cbor:"shared"`
}

// OneTimeKey is one entry of the local one-time key pool.
type OneTimeKey struct {
	Pair      crypto.Curve25519KeyPair `cbor:"pair"`
	Published bool                     `cbor:"published"`
}

// New generates a fresh account with new identity and signing keys and an
// empty one-time key pool. maxOneTimeKeys <= 0 selects DefaultMaxOneTimeKeys.
func New(maxOneTimeKeys int) (*Account, error) {
	if maxOneTimeKeys <= 0 {
		maxOneTimeKeys = DefaultMaxOneTimeKeys
	}
	identity, err := crypto.GenerateCurve25519()
	if err != nil {
		return nil, fmt.Errorf("account: generating identity key: %w", err)
	}
	signing, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, fmt.Errorf("account: generating signing key: %w", err)
	}
	return &Account{
		IdentityKey:    identity,
		SigningKey:     signing,
		OneTimeKeys:    make(map[string]*OneTimeKey),
		MaxOneTimeKeys: maxOneTimeKeys,
	}, nil
}

// NewDeviceID returns a random device id in the uppercase style homeservers
// hand out.
func NewDeviceID() types.DeviceID {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return types.DeviceID(strings.ToUpper(id[:10]))
}

// IdentityKeys returns the public identity (curve25519) and signing
// (ed25519) keys.
func (a *Account) IdentityKeys() (types.Curve25519, types.Ed25519) {
	return a.IdentityKey.Public, a.SigningKey.Public
}

// DeviceKeys builds the signed device key bundle for user and device.
func (a *Account) DeviceKeys(user types.UserID, device types.DeviceID) (*types.DeviceKeys, error) {
	keys := &types.DeviceKeys{
		UserID:     user,
		DeviceID:   device,
		Algorithms: []types.Algorithm{types.AlgorithmOlmV1, types.AlgorithmMegolmV1},
		Keys: map[string]string{
			types.KeyID(types.KeyAlgorithmCurve25519, device.String()): a.IdentityKey.Public.String(),
			types.KeyID(types.KeyAlgorithmEd25519, device.String()):    a.SigningKey.Public.String(),
		},
	}
	sig, err := crypto.SignJSON(&a.SigningKey, keys)
	if err != nil {
		return nil, fmt.Errorf("account: signing device keys: %w", err)
	}
	keys.Signatures = types.Signatures{}
	keys.Signatures.Add(user, types.KeyID(types.KeyAlgorithmEd25519, device.String()), sig)
	return keys, nil
}

// SignedOneTimeKeys tops the unpublished pool up so that, together with the
// currentCount keys the server still holds, MaxOneTimeKeys are available,
// and returns every unpublished key signed for upload. Keys generated by an
// earlier call whose upload failed are offered again rather than replaced.
// The result is empty when nothing needs uploading.
func (a *Account) SignedOneTimeKeys(user types.UserID, device types.DeviceID, currentCount int) (map[string]types.OneTimeKey, error) {
	want := a.MaxOneTimeKeys - currentCount - a.unpublishedCount()
	for i := 0; i < want; i++ {
		if err := a.generateOneTimeKey(); err != nil {
			return nil, err
		}
	}

	keyID := types.KeyID(types.KeyAlgorithmEd25519, device.String())
	out := make(map[string]types.OneTimeKey)
	for id, otk := range a.OneTimeKeys {
		if otk.Published {
			continue
		}
		key := types.OneTimeKey{Key: otk.Pair.Public}
		sig, err := crypto.SignJSON(&a.SigningKey, key)
		if err != nil {
			return nil, fmt.Errorf("account: signing one-time key %s: %w", id, err)
		}
		key.Signatures = types.Signatures{}
		key.Signatures.Add(user, keyID, sig)
		out[types.KeyID(types.KeyAlgorithmSignedCurve25519, id)] = key
	}
	return out, nil
}

// MarkKeysAsPublished flags every pending one-time key as uploaded.
func (a *Account) MarkKeysAsPublished() {
	for _, otk := range a.OneTimeKeys {
		otk.Published = true
	}
}

// ConsumeOneTimeKey removes the one-time key with the given public half and
// returns its pair. Used when an inbound olm session claims the key.
func (a *Account) ConsumeOneTimeKey(pub types.Curve25519) (crypto.Curve25519KeyPair, bool) {
	for id, otk := range a.OneTimeKeys {
		if otk.Pair.Public == pub {
			delete(a.OneTimeKeys, id)
			return otk.Pair, true
		}
	}
	return crypto.Curve25519KeyPair{}, false
}

// UnpublishedKeyIDs returns the ids of keys not yet uploaded, sorted.
func (a *Account) UnpublishedKeyIDs() []string {
	ids := make([]string, 0, len(a.OneTimeKeys))
	for id, otk := range a.OneTimeKeys {
		if !otk.Published {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (a *Account) unpublishedCount() int {
	n := 0
	for _, otk := range a.OneTimeKeys {
		if !otk.Published {
			n++
		}
	}
	return n
}

func (a *Account) generateOneTimeKey() error {
	pair, err := crypto.GenerateCurve25519()
	if err != nil {
		return fmt.Errorf("account: generating one-time key: %w", err)
	}
	a.NextKeyID++
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], a.NextKeyID)
	if a.OneTimeKeys == nil {
		a.OneTimeKeys = make(map[string]*OneTimeKey)
	}
	a.OneTimeKeys[crypto.B64(raw[:])] = &OneTimeKey{Pair: pair}
	return nil
}
