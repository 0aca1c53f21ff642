package devicelist_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"keyward/internal/domain"
	"keyward/internal/domain/types"
	"keyward/internal/services/devicelist"
	"keyward/internal/store"
	"keyward/internal/testutil"
)

const sharedRoom = domain.RoomID("!shared:example.org")

type harness struct {
	store   *store.MemoryStore
	client  *fakeKeysClient
	logs    *testutil.LogRecorder
	machine *devicelist.Machine
}

// makeHarness wires a Machine to a memory store in which alice tracks bob
// and both are joined to an encrypted room with a live outbound session.
func makeHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	if err := s.MarkTracked(ctx, []domain.UserID{bob}); err != nil {
		t.Fatalf("MarkTracked: %v", err)
	}
	_ = s.SetEncrypted(ctx, sharedRoom, true)
	_ = s.SetMembership(ctx, sharedRoom, alice, types.MembershipJoin)
	_ = s.SetMembership(ctx, sharedRoom, bob, types.MembershipJoin)
	putOutbound(t, s)

	logs, logger := testutil.NewLogRecorder()
	client := &fakeKeysClient{}
	return &harness{
		store:   s,
		client:  client,
		logs:    logs,
		machine: devicelist.New(s, s, client, logger),
	}
}

func putOutbound(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	err := s.PutOutboundGroupSession(context.Background(), &domain.OutboundGroupSession{RoomID: sharedRoom, SessionID: "sess"})
	if err != nil {
		t.Fatalf("PutOutboundGroupSession: %v", err)
	}
}

func (h *harness) outboundPresent(t *testing.T) bool {
	t.Helper()
	sess, err := h.store.GetOutboundGroupSession(context.Background(), sharedRoom)
	if err != nil {
		t.Fatalf("GetOutboundGroupSession: %v", err)
	}
	return sess != nil
}

func (h *harness) fetch(t *testing.T, users ...domain.UserID) map[domain.UserID]map[domain.DeviceID]*domain.DeviceIdentity {
	t.Helper()
	got, err := h.machine.FetchKeys(context.Background(), users, "", false)
	if err != nil {
		t.Fatalf("FetchKeys: %v", err)
	}
	return got
}

func TestFetchKeys_NoTrackedUsers_NoRequest(t *testing.T) {
	h := makeHarness(t)

	got, err := h.machine.FetchKeys(context.Background(), []domain.UserID{"@stranger:example.org"}, "", false)
	if err != nil {
		t.Fatalf("FetchKeys: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("want empty non-nil result, got %v", got)
	}
	if n := h.client.callCount(); n != 0 {
		t.Fatalf("made %d requests, want 0", n)
	}
}

func TestFetchKeys_IncludeUntracked(t *testing.T) {
	h := makeHarness(t)
	const carol = domain.UserID("@carol:example.org")
	dev := newRemoteDevice(t, carol, "TABLET")
	h.client.respond(response(map[domain.UserID]map[domain.DeviceID]*domain.DeviceKeys{
		carol: {"TABLET": dev.bundle(t, "")},
	}))

	got, err := h.machine.FetchKeys(context.Background(), []domain.UserID{carol}, "s72594_4483_1934", true)
	if err != nil {
		t.Fatalf("FetchKeys: %v", err)
	}
	if _, ok := got[carol]["TABLET"]; !ok {
		t.Fatalf("carol's device missing from %v", got)
	}
	tracked, _ := h.store.FilterTrackedUsers(context.Background(), []domain.UserID{carol})
	if len(tracked) != 1 {
		t.Fatal("storing devices should start tracking the user")
	}
}

func TestFetchKeys_NewDeviceInvalidatesSharedRooms(t *testing.T) {
	h := makeHarness(t)
	dev := newRemoteDevice(t, bob, "BOBPHONE")
	h.client.respond(response(map[domain.UserID]map[domain.DeviceID]*domain.DeviceKeys{
		bob: {"BOBPHONE": dev.bundle(t, "phone")},
	}))

	got := h.fetch(t, bob)
	if d := got[bob]["BOBPHONE"]; d == nil || d.Name != "phone" {
		t.Fatalf("result = %v", got)
	}
	stored, _ := h.store.GetDevices(context.Background(), bob)
	if len(stored) != 1 {
		t.Fatalf("stored = %v", stored)
	}
	if h.outboundPresent(t) {
		t.Fatal("outbound session should be invalidated after a new device")
	}
}

func TestFetchKeys_RenameIsNotAChange(t *testing.T) {
	h := makeHarness(t)
	dev := newRemoteDevice(t, bob, "BOBPHONE")
	h.client.respond(response(map[domain.UserID]map[domain.DeviceID]*domain.DeviceKeys{
		bob: {"BOBPHONE": dev.bundle(t, "phone")},
	}))
	h.fetch(t, bob)
	putOutbound(t, h.store)

	h.client.respond(response(map[domain.UserID]map[domain.DeviceID]*domain.DeviceKeys{
		bob: {"BOBPHONE": dev.bundle(t, "renamed phone")},
	}))
	h.fetch(t, bob)

	stored, _ := h.store.GetDevices(context.Background(), bob)
	if d := stored["BOBPHONE"]; d == nil || d.Name != "renamed phone" {
		t.Fatalf("stored name not updated: %+v", d)
	}
	if !h.outboundPresent(t) {
		t.Fatal("a rename must not invalidate the outbound session")
	}
}

func TestFetchKeys_InvalidDeviceDropped(t *testing.T) {
	h := makeHarness(t)
	good := newRemoteDevice(t, bob, "GOOD")
	bad := newRemoteDevice(t, bob, "BAD")
	forged := bad.bundle(t, "")
	forged.Keys["curve25519:BAD"] = string(good.account.IdentityKey.Public)
	h.client.respond(response(map[domain.UserID]map[domain.DeviceID]*domain.DeviceKeys{
		bob: {"GOOD": good.bundle(t, ""), "BAD": roundTrip(t, forged)},
	}))

	got := h.fetch(t, bob)
	if len(got[bob]) != 1 || got[bob]["GOOD"] == nil {
		t.Fatalf("want only GOOD, got %v", got[bob])
	}
	stored, _ := h.store.GetDevices(context.Background(), bob)
	if _, ok := stored["BAD"]; ok {
		t.Fatal("invalid device was stored")
	}
	recs := h.logs.Find(slog.LevelWarn, "dropping invalid device")
	if len(recs) != 1 || recs[0].Attrs["device_id"] != "BAD" {
		t.Fatalf("warnings = %+v", recs)
	}
}

func TestFetchKeys_SigningKeyPinned(t *testing.T) {
	h := makeHarness(t)
	orig := newRemoteDevice(t, bob, "BOBPHONE")
	h.client.respond(response(map[domain.UserID]map[domain.DeviceID]*domain.DeviceKeys{
		bob: {"BOBPHONE": orig.bundle(t, "")},
	}))
	h.fetch(t, bob)

	impostor := newRemoteDevice(t, bob, "BOBPHONE")
	h.client.respond(response(map[domain.UserID]map[domain.DeviceID]*domain.DeviceKeys{
		bob: {"BOBPHONE": impostor.bundle(t, "")},
	}))
	h.fetch(t, bob)

	stored, _ := h.store.GetDevices(context.Background(), bob)
	d := stored["BOBPHONE"]
	if d == nil || d.SigningKey != orig.account.SigningKey.Public {
		t.Fatalf("signing key replaced: %+v", d)
	}
	if d.Deleted {
		t.Fatal("rejected update must leave the stored record untouched")
	}
}

func TestFetchKeys_PartialFailureAndMissingUsers(t *testing.T) {
	h := makeHarness(t)
	ctx := context.Background()
	const remote = domain.UserID("@dave:unreachable.example")
	prior := map[domain.DeviceID]*domain.DeviceIdentity{"OLD": {UserID: remote, DeviceID: "OLD", SigningKey: "ed", IdentityKey: "curve", Name: "OLD"}}
	if err := h.store.PutDevices(ctx, remote, prior); err != nil {
		t.Fatalf("PutDevices: %v", err)
	}
	dev := newRemoteDevice(t, bob, "BOBPHONE")
	h.client.respond(&domain.QueryKeysResponse{
		Failures:   map[string]json.RawMessage{"unreachable.example": json.RawMessage(`{"errcode":"M_UNREACHABLE"}`)},
		DeviceKeys: map[domain.UserID]map[domain.DeviceID]*domain.DeviceKeys{bob: {"BOBPHONE": dev.bundle(t, "")}},
	})

	got := h.fetch(t, bob, remote)
	if _, ok := got[remote]; ok {
		t.Fatal("failed user should be absent from the result")
	}
	if got[bob]["BOBPHONE"] == nil {
		t.Fatal("successful user missing from the result")
	}
	if recs := h.logs.Find(slog.LevelWarn, "key query failed"); len(recs) != 1 || recs[0].Attrs["origin"] != "unreachable.example" {
		t.Fatalf("origin failure not logged: %+v", recs)
	}
	if recs := h.logs.Find(slog.LevelWarn, "didn't get any keys"); len(recs) != 1 || recs[0].Attrs["user_id"] != string(remote) {
		t.Fatalf("missing user not logged: %+v", recs)
	}
	stored, _ := h.store.GetDevices(ctx, remote)
	if d := stored["OLD"]; d == nil || d.Deleted {
		t.Fatalf("absent result must not touch stored devices: %+v", d)
	}
}

func TestFetchKeys_ChangeDetection(t *testing.T) {
	cases := []struct {
		name    string
		before  []domain.DeviceID
		after   []domain.DeviceID
		changed bool
	}{
		{"same devices", []domain.DeviceID{"A", "B"}, []domain.DeviceID{"A", "B"}, false},
		{"device added", []domain.DeviceID{"A"}, []domain.DeviceID{"A", "B"}, true},
		{"device removed", []domain.DeviceID{"A", "B"}, []domain.DeviceID{"A"}, true},
		{"equal-count replacement", []domain.DeviceID{"A"}, []domain.DeviceID{"B"}, true},
		{"all removed", []domain.DeviceID{"A"}, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := makeHarness(t)
			devices := map[domain.DeviceID]*remoteDevice{}
			for _, id := range append(append([]domain.DeviceID(nil), tc.before...), tc.after...) {
				if devices[id] == nil {
					devices[id] = newRemoteDevice(t, bob, id)
				}
			}
			respond := func(ids []domain.DeviceID) {
				m := map[domain.DeviceID]*domain.DeviceKeys{}
				for _, id := range ids {
					m[id] = devices[id].bundle(t, "")
				}
				h.client.respond(response(map[domain.UserID]map[domain.DeviceID]*domain.DeviceKeys{bob: m}))
			}

			respond(tc.before)
			h.fetch(t, bob)
			putOutbound(t, h.store)

			respond(tc.after)
			h.fetch(t, bob)
			if invalidated := !h.outboundPresent(t); invalidated != tc.changed {
				t.Fatalf("invalidated = %v, want %v", invalidated, tc.changed)
			}
		})
	}
}

func TestFetchKeys_QueryErrorReturned(t *testing.T) {
	h := makeHarness(t)
	h.client.err = errors.New("connection refused")

	if _, err := h.machine.FetchKeys(context.Background(), []domain.UserID{bob}, "", false); err == nil {
		t.Fatal("expected query error")
	}
}

func TestFetchKeys_ConcurrentSameUser(t *testing.T) {
	h := makeHarness(t)
	devs := []*remoteDevice{newRemoteDevice(t, bob, "A"), newRemoteDevice(t, bob, "B")}
	h.client.respond(response(map[domain.UserID]map[domain.DeviceID]*domain.DeviceKeys{
		bob: {"A": devs[0].bundle(t, ""), "B": devs[1].bundle(t, "")},
	}))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.machine.FetchKeys(context.Background(), []domain.UserID{bob}, "", false); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("FetchKeys: %v", err)
	}
	stored, _ := h.store.GetDevices(context.Background(), bob)
	if len(stored) != 2 {
		t.Fatalf("stored = %v", stored)
	}
}

func TestOnDevicesChanged_Idempotent(t *testing.T) {
	h := makeHarness(t)
	for i := 0; i < 2; i++ {
		if err := h.machine.OnDevicesChanged(context.Background(), bob); err != nil {
			t.Fatalf("OnDevicesChanged #%d: %v", i, err)
		}
	}
	if h.outboundPresent(t) {
		t.Fatal("outbound session survived invalidation")
	}
}

// failingStore fails GetDevices for one user.
type failingStore struct {
	*store.MemoryStore
	user domain.UserID
}

func (s *failingStore) GetDevices(ctx context.Context, user domain.UserID) (map[domain.DeviceID]*domain.DeviceIdentity, error) {
	if user == s.user {
		return nil, errors.New("disk error")
	}
	return s.MemoryStore.GetDevices(ctx, user)
}

func TestFetchKeys_OneUserFailsOthersStillInvalidate(t *testing.T) {
	h := makeHarness(t)
	ctx := context.Background()
	const dave = domain.UserID("@dave:example.org")
	if err := h.store.MarkTracked(ctx, []domain.UserID{dave}); err != nil {
		t.Fatalf("MarkTracked: %v", err)
	}
	m := devicelist.New(&failingStore{MemoryStore: h.store, user: dave}, h.store, h.client, nil)
	h.client.respond(response(map[domain.UserID]map[domain.DeviceID]*domain.DeviceKeys{
		bob:  {"BOBPHONE": newRemoteDevice(t, bob, "BOBPHONE").bundle(t, "")},
		dave: {"DAVEPHONE": newRemoteDevice(t, dave, "DAVEPHONE").bundle(t, "")},
	}))

	got, err := m.FetchKeys(ctx, []domain.UserID{bob, dave}, "", false)
	if err == nil {
		t.Fatal("expected dave's store error")
	}
	if got[bob]["BOBPHONE"] == nil {
		t.Fatalf("bob missing from partial result: %v", got)
	}
	if _, ok := got[dave]; ok {
		t.Fatal("failed user present in result")
	}
	stored, _ := h.store.GetDevices(ctx, bob)
	if stored["BOBPHONE"] == nil {
		t.Fatal("bob's device not stored")
	}
	if h.outboundPresent(t) {
		t.Fatal("bob's new device stored but shared room session not invalidated")
	}
}

func TestFetchKeys_UnrequestedUserIgnored(t *testing.T) {
	h := makeHarness(t)
	ctx := context.Background()
	const mallory = domain.UserID("@mallory:evil.example")
	h.client.respond(response(map[domain.UserID]map[domain.DeviceID]*domain.DeviceKeys{
		bob:     {"BOBPHONE": newRemoteDevice(t, bob, "BOBPHONE").bundle(t, "")},
		mallory: {"EVIL": newRemoteDevice(t, mallory, "EVIL").bundle(t, "")},
	}))

	got := h.fetch(t, bob)
	if _, ok := got[mallory]; ok {
		t.Fatal("unrequested user returned")
	}
	if got[bob]["BOBPHONE"] == nil {
		t.Fatal("requested user missing")
	}
	if stored, _ := h.store.GetDevices(ctx, mallory); len(stored) != 0 {
		t.Fatalf("unrequested devices stored: %v", stored)
	}
	if tracked, _ := h.store.FilterTrackedUsers(ctx, []domain.UserID{mallory}); len(tracked) != 0 {
		t.Fatal("unrequested user became tracked")
	}
	if recs := h.logs.Find(slog.LevelWarn, "not queried"); len(recs) != 1 || recs[0].Attrs["user_id"] != string(mallory) {
		t.Fatalf("unrequested user not logged: %+v", recs)
	}
}
