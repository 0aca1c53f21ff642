package machine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"keyward/internal/account"
	"keyward/internal/domain"
	"keyward/internal/domain/types"
	"keyward/internal/services/devicelist"
	"keyward/internal/services/keysharing"
)

// ErrNotLoaded is returned by handlers that need the account before Load.
var ErrNotLoaded = keysharing.ErrNotLoaded

// Config identifies the local device and sets key policy.
type Config struct {
	UserID   domain.UserID
	DeviceID domain.DeviceID
	// MaxOneTimeKeys sizes a newly generated account's pool. Zero selects
	// account.DefaultMaxOneTimeKeys.
	MaxOneTimeKeys int
	// AllowUnverifiedDevices lets room keys go to devices whose trust
	// state is unset.
	AllowUnverifiedDevices bool
	Logger                 *slog.Logger
}

// OlmMachine is the session lifecycle orchestrator.
type OlmMachine struct {
	cfg       Config
	store     domain.CryptoStore
	state     domain.StateStore
	decrypter domain.OlmDecrypter
	devices   *devicelist.Machine
	keys      *keysharing.Sharer
	log       *slog.Logger
}

// New wires an OlmMachine. Call Load before handling signals.
func New(
	cfg Config,
	store domain.CryptoStore,
	state domain.StateStore,
	client domain.KeysClient,
	decrypter domain.OlmDecrypter,
) *OlmMachine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &OlmMachine{
		cfg:       cfg,
		store:     store,
		state:     state,
		decrypter: decrypter,
		devices:   devicelist.New(store, state, client, logger),
		keys:      keysharing.New(store, client, cfg.UserID, cfg.DeviceID, logger),
		log:       logger,
	}
}

// Load reads the account from the store, generating one if absent.
func (m *OlmMachine) Load(ctx context.Context) error {
	return m.keys.Load(ctx, m.cfg.MaxOneTimeKeys)
}

// Account returns a copy of the loaded account.
func (m *OlmMachine) Account() (*account.Account, error) {
	return m.keys.Account()
}

// ShareKeys uploads missing keys given the server's one-time key count.
func (m *OlmMachine) ShareKeys(ctx context.Context, currentOTKCount int) error {
	return m.keys.ShareKeys(ctx, currentOTKCount)
}

// FetchKeys queries and stores device lists; see devicelist.Machine.
func (m *OlmMachine) FetchKeys(
	ctx context.Context,
	users []domain.UserID,
	token domain.SyncToken,
	includeUntracked bool,
) (map[domain.UserID]map[domain.DeviceID]*domain.DeviceIdentity, error) {
	return m.devices.FetchKeys(ctx, users, token, includeUntracked)
}

// HandleOTKCount shares keys when the server's signed one-time key count
// falls below the replenish threshold.
func (m *OlmMachine) HandleOTKCount(ctx context.Context, count domain.OTKCount) error {
	limit := m.keys.MaxOneTimeKeys()
	if limit == 0 {
		return ErrNotLoaded
	}
	if !belowReplenishThreshold(count.SignedCurve25519, limit) {
		return nil
	}
	m.log.Debug("one-time key count low, sharing keys",
		"otk_count", count.SignedCurve25519, "max_otk", limit)
	return m.keys.ShareKeys(ctx, count.SignedCurve25519)
}

// HandleDeviceLists re-queries the device lists of changed users. Changes
// for users that are not tracked are ignored.
func (m *OlmMachine) HandleDeviceLists(ctx context.Context, lists domain.DeviceLists) error {
	if len(lists.Changed) == 0 {
		return nil
	}
	m.log.Debug("device lists changed", "users", len(lists.Changed), "left", len(lists.Left))
	_, err := m.devices.FetchKeys(ctx, lists.Changed, "", false)
	return err
}

// HandleMemberEvent invalidates the room's outbound group session when a
// membership change in an encrypted room may alter who can decrypt it.
// Joining or invited users become tracked so their device list deltas are
// followed.
func (m *OlmMachine) HandleMemberEvent(ctx context.Context, evt *domain.MemberEvent) error {
	encrypted, err := m.state.IsEncrypted(ctx, evt.RoomID)
	if err != nil {
		return fmt.Errorf("machine: checking encryption of %s: %w", evt.RoomID, err)
	}
	if !encrypted {
		return nil
	}

	prev := types.MembershipUnknown
	if evt.PrevContent != nil && evt.PrevContent.Membership != "" {
		prev = evt.PrevContent.Membership
	}
	cur := evt.Content.Membership
	member := domain.UserID(evt.StateKey)

	switch cur {
	case types.MembershipJoin, types.MembershipInvite:
		if err := m.store.MarkTracked(ctx, []domain.UserID{member}); err != nil {
			return fmt.Errorf("machine: tracking %s: %w", member, err)
		}
	}

	if !invalidates(prev, cur) {
		m.log.Debug("membership change does not invalidate session",
			"room_id", string(evt.RoomID), "member", string(member),
			"prev", string(prev), "membership", string(cur))
		return nil
	}
	m.log.Debug("membership changed, invalidating outbound session",
		"room_id", string(evt.RoomID), "member", string(member),
		"prev", string(prev), "membership", string(cur))
	if err := m.store.RemoveOutboundGroupSession(ctx, evt.RoomID); err != nil {
		return fmt.Errorf("machine: invalidating session in %s: %w", evt.RoomID, err)
	}
	return nil
}

// HandleToDeviceEvent decrypts an encrypted to-device event and takes in
// any room key it carries. Decryption errors are returned.
func (m *OlmMachine) HandleToDeviceEvent(ctx context.Context, evt *domain.ToDeviceEvent) error {
	if evt.Type != types.EventToDeviceEncrypted {
		return nil
	}
	decrypted, err := m.decrypter.DecryptOlmEvent(ctx, evt)
	if err != nil {
		return fmt.Errorf("machine: decrypting to-device event from %s: %w", evt.Sender, err)
	}
	if decrypted.SenderKey == "" {
		decrypted.SenderKey = evt.Content.SenderKey
	}
	m.log.Debug("decrypted to-device event", "sender", string(evt.Sender), "type", string(decrypted.Type))
	if decrypted.Type != types.EventRoomKey {
		return nil
	}
	return m.keys.ReceiveRoomKey(ctx, decrypted)
}

// Devices returns the stored devices of user, deleted ones included.
func (m *OlmMachine) Devices(ctx context.Context, user domain.UserID) ([]*domain.DeviceIdentity, error) {
	devices, err := m.store.GetDevices(ctx, user)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.DeviceIdentity, 0, len(devices))
	for _, dev := range devices {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// ShareableDevices returns the devices of user that may receive room keys:
// not deleted, not blacklisted, and verified unless unverified devices are
// allowed.
func (m *OlmMachine) ShareableDevices(ctx context.Context, user domain.UserID) ([]*domain.DeviceIdentity, error) {
	all, err := m.Devices(ctx, user)
	if err != nil {
		return nil, err
	}
	var out []*domain.DeviceIdentity
	for _, dev := range all {
		switch {
		case dev.Deleted, dev.Trust == types.TrustStateBlacklisted:
		case dev.Trust == types.TrustStateVerified, m.cfg.AllowUnverifiedDevices:
			out = append(out, dev)
		}
	}
	return out, nil
}
