package devicelist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"keyward/internal/domain"
)

// Machine fetches, validates and stores remote device lists and invalidates
// outbound group sessions when a user's device roster changes.
type Machine struct {
	store  domain.CryptoStore
	state  domain.StateStore
	client domain.KeysClient
	log    *slog.Logger
	locks  *userLocks
}

// New builds a Machine. A nil logger discards output.
func New(store domain.CryptoStore, state domain.StateStore, client domain.KeysClient, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Machine{
		store:  store,
		state:  state,
		client: client,
		log:    logger,
		locks:  newUserLocks(),
	}
}

// FetchKeys queries the homeserver for the device keys of users and stores
// the devices that validate. Unless includeUntracked is set, users whose
// device lists are not tracked are skipped, and if none remain no request is
// made. Devices that fail validation are dropped individually. Users the
// server returned nothing for keep their stored devices.
//
// The returned map holds the validated devices of every queried user the
// server answered for; keys for users outside the query are ignored. A
// failure to update one user does not stop the others: OnDevicesChanged has
// run for each changed user before FetchKeys returns, and per-user errors are
// returned joined alongside the partial result.
func (m *Machine) FetchKeys(
	ctx context.Context,
	users []domain.UserID,
	token domain.SyncToken,
	includeUntracked bool,
) (map[domain.UserID]map[domain.DeviceID]*domain.DeviceIdentity, error) {
	if !includeUntracked {
		tracked, err := m.store.FilterTrackedUsers(ctx, users)
		if err != nil {
			return nil, fmt.Errorf("devicelist: filtering tracked users: %w", err)
		}
		users = tracked
	}
	result := make(map[domain.UserID]map[domain.DeviceID]*domain.DeviceIdentity)
	if len(users) == 0 {
		return result, nil
	}

	m.log.Debug("querying device keys", "users", len(users), "token", string(token))
	resp, err := m.client.QueryKeys(ctx, users, token)
	if err != nil {
		return nil, fmt.Errorf("devicelist: querying keys: %w", err)
	}
	for origin, failure := range resp.Failures {
		m.log.Warn("key query failed for server", "origin", origin, "error", string(failure))
	}

	requested := make(map[domain.UserID]bool, len(users))
	for _, user := range users {
		requested[user] = true
	}

	var (
		changed []domain.UserID
		errs    []error
	)
	for user, devices := range resp.DeviceKeys {
		if !requested[user] {
			m.log.Warn("ignoring keys for user that was not queried", "user_id", string(user))
			continue
		}
		valid, userChanged, err := m.updateUser(ctx, user, devices)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result[user] = valid
		if userChanged {
			changed = append(changed, user)
		}
	}
	for _, user := range users {
		if _, ok := resp.DeviceKeys[user]; !ok {
			m.log.Warn("didn't get any keys for user", "user_id", string(user))
		}
	}

	// Stored rosters of changed users are already replaced, so their rooms
	// must be invalidated even when another user failed.
	for _, user := range changed {
		if err := m.OnDevicesChanged(ctx, user); err != nil {
			errs = append(errs, err)
		}
	}
	return result, errors.Join(errs...)
}

// updateUser validates one user's reported devices and replaces the stored
// map under the user's lock. Previously stored devices the server no longer
// reports are kept, flagged deleted; stored devices whose new bundle was
// rejected are kept unchanged.
func (m *Machine) updateUser(
	ctx context.Context,
	user domain.UserID,
	reported map[domain.DeviceID]*domain.DeviceKeys,
) (map[domain.DeviceID]*domain.DeviceIdentity, bool, error) {
	unlock := m.locks.lock(user)
	defer unlock()

	existing, err := m.store.GetDevices(ctx, user)
	if err != nil {
		return nil, false, fmt.Errorf("devicelist: loading devices of %s: %w", user, err)
	}

	valid := make(map[domain.DeviceID]*domain.DeviceIdentity, len(reported))
	rejected := make(map[domain.DeviceID]bool)
	newDevice := false
	for deviceID, keys := range reported {
		if keys == nil {
			m.log.Warn("server returned empty key bundle", "user_id", string(user), "device_id", string(deviceID))
			continue
		}
		prev := existing[deviceID]
		identity, err := ValidateDevice(user, deviceID, keys, prev)
		if err != nil {
			m.log.Warn("dropping invalid device", "user_id", string(user), "device_id", string(deviceID), "error", err)
			rejected[deviceID] = true
			continue
		}
		if prev == nil || prev.Deleted {
			newDevice = true
		}
		valid[deviceID] = identity
	}

	stored := make(map[domain.DeviceID]*domain.DeviceIdentity, len(valid)+len(existing))
	for id, dev := range valid {
		stored[id] = dev
	}
	for id, dev := range existing {
		if _, ok := stored[id]; ok {
			continue
		}
		if !dev.Deleted && !rejected[id] {
			tomb := *dev
			tomb.Deleted = true
			dev = &tomb
		}
		stored[id] = dev
	}
	if err := m.store.PutDevices(ctx, user, stored); err != nil {
		return nil, false, fmt.Errorf("devicelist: storing devices of %s: %w", user, err)
	}

	changed := newDevice || len(valid) != activeCount(existing)
	m.log.Debug("updated device list", "user_id", string(user), "devices", len(valid), "changed", changed)
	return valid, changed, nil
}

// OnDevicesChanged invalidates the outbound group session of every room
// shared with user.
func (m *Machine) OnDevicesChanged(ctx context.Context, user domain.UserID) error {
	rooms, err := m.state.FindSharedRooms(ctx, user)
	if err != nil {
		return fmt.Errorf("devicelist: finding rooms shared with %s: %w", user, err)
	}
	for _, room := range rooms {
		m.log.Debug("devices changed, invalidating outbound session",
			"user_id", string(user), "room_id", string(room))
		if err := m.store.RemoveOutboundGroupSession(ctx, room); err != nil {
			return fmt.Errorf("devicelist: invalidating session in %s: %w", room, err)
		}
	}
	return nil
}

func activeCount(devices map[domain.DeviceID]*domain.DeviceIdentity) int {
	n := 0
	for _, dev := range devices {
		if !dev.Deleted {
			n++
		}
	}
	return n
}
