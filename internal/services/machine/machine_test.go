package machine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"keyward/internal/account"
	"keyward/internal/crypto"
	"keyward/internal/domain"
	"keyward/internal/domain/types"
	"keyward/internal/services/machine"
	"keyward/internal/store"
)

const (
	alice = domain.UserID("@alice:example.org")
	bob   = domain.UserID("@bob:example.org")
	room  = domain.RoomID("!room:example.org")
)

type fakeClient struct {
	mu      sync.Mutex
	query   *domain.QueryKeysResponse
	queries int
	uploads int
}

func (c *fakeClient) QueryKeys(context.Context, []domain.UserID, domain.SyncToken) (*domain.QueryKeysResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries++
	if c.query == nil {
		return &domain.QueryKeysResponse{}, nil
	}
	return c.query, nil
}

func (c *fakeClient) UploadKeys(_ context.Context, otks map[string]domain.OneTimeKey, _ *domain.DeviceKeys) (*domain.UploadKeysResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads++
	return &domain.UploadKeysResponse{OneTimeKeyCounts: map[domain.KeyAlgorithm]int{
		types.KeyAlgorithmSignedCurve25519: len(otks),
	}}, nil
}

func (c *fakeClient) counts() (queries, uploads int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries, c.uploads
}

type fakeDecrypter struct {
	out   *domain.DecryptedOlmEvent
	err   error
	calls int
}

func (d *fakeDecrypter) DecryptOlmEvent(context.Context, *domain.ToDeviceEvent) (*domain.DecryptedOlmEvent, error) {
	d.calls++
	return d.out, d.err
}

type harness struct {
	m         *machine.OlmMachine
	store     *store.MemoryStore
	client    *fakeClient
	decrypter *fakeDecrypter
}

func newHarness(t *testing.T, cfg machine.Config) *harness {
	t.Helper()
	s := store.NewMemoryStore()
	h := &harness{store: s, client: &fakeClient{}, decrypter: &fakeDecrypter{}}
	cfg.UserID, cfg.DeviceID = alice, "ALICEDEV"
	h.m = machine.New(cfg, s, s, h.client, h.decrypter)
	if err := h.m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return h
}

func (h *harness) encryptedRoomWithSession(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := h.store.SetEncrypted(ctx, room, true); err != nil {
		t.Fatalf("SetEncrypted: %v", err)
	}
	h.putSession(t)
}

func (h *harness) putSession(t *testing.T) {
	t.Helper()
	err := h.store.PutOutboundGroupSession(context.Background(), &domain.OutboundGroupSession{RoomID: room, SessionID: "sess"})
	if err != nil {
		t.Fatalf("PutOutboundGroupSession: %v", err)
	}
}

func (h *harness) hasSession(t *testing.T) bool {
	t.Helper()
	sess, err := h.store.GetOutboundGroupSession(context.Background(), room)
	if err != nil {
		t.Fatalf("GetOutboundGroupSession: %v", err)
	}
	return sess != nil
}

func TestHandleOTKCount_Threshold(t *testing.T) {
	cases := []struct {
		count      int
		wantUpload bool
	}{
		{count: 0, wantUpload: true},
		{count: 4, wantUpload: true},
		{count: 5, wantUpload: false},
		{count: 10, wantUpload: false},
	}
	for _, tc := range cases {
		h := newHarness(t, machine.Config{MaxOneTimeKeys: 10})
		if err := h.m.HandleOTKCount(context.Background(), domain.OTKCount{SignedCurve25519: tc.count}); err != nil {
			t.Fatalf("count %d: HandleOTKCount: %v", tc.count, err)
		}
		_, uploads := h.client.counts()
		if got := uploads > 0; got != tc.wantUpload {
			t.Fatalf("count %d: uploaded = %v, want %v", tc.count, got, tc.wantUpload)
		}
	}
}

func TestHandleOTKCount_BeforeLoad(t *testing.T) {
	s := store.NewMemoryStore()
	m := machine.New(machine.Config{UserID: alice, DeviceID: "ALICEDEV"}, s, s, &fakeClient{}, &fakeDecrypter{})
	err := m.HandleOTKCount(context.Background(), domain.OTKCount{})
	if !errors.Is(err, machine.ErrNotLoaded) {
		t.Fatalf("err = %v, want ErrNotLoaded", err)
	}
}

func memberEvent(prev *domain.Membership, cur domain.Membership) *domain.MemberEvent {
	evt := &domain.MemberEvent{
		RoomID:   room,
		Sender:   bob,
		StateKey: string(bob),
		Content:  domain.MemberContent{Membership: cur},
	}
	if prev != nil {
		evt.PrevContent = &domain.MemberContent{Membership: *prev}
	}
	return evt
}

func ptr(m domain.Membership) *domain.Membership { return &m }

func TestHandleMemberEvent_Transitions(t *testing.T) {
	cases := []struct {
		name       string
		prev       *domain.Membership
		cur        domain.Membership
		invalidate bool
	}{
		{"invite to join", ptr(types.MembershipInvite), types.MembershipJoin, false},
		{"join to leave", ptr(types.MembershipJoin), types.MembershipLeave, true},
		{"no previous to join", nil, types.MembershipJoin, true},
		{"no previous to invite", nil, types.MembershipInvite, true},
		{"leave to join", ptr(types.MembershipLeave), types.MembershipJoin, true},
		{"join to ban", ptr(types.MembershipJoin), types.MembershipBan, true},
		{"join to join", ptr(types.MembershipJoin), types.MembershipJoin, false},
		// Exempt in IgnoredMembershipTransitions although join to leave is
		// not; documented-but-unreviewed.
		{"ban to leave documented-but-unreviewed", ptr(types.MembershipBan), types.MembershipLeave, false},
		{"leave to ban documented-but-unreviewed", ptr(types.MembershipLeave), types.MembershipBan, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, machine.Config{})
			h.encryptedRoomWithSession(t)

			if err := h.m.HandleMemberEvent(context.Background(), memberEvent(tc.prev, tc.cur)); err != nil {
				t.Fatalf("HandleMemberEvent: %v", err)
			}
			if got := !h.hasSession(t); got != tc.invalidate {
				t.Fatalf("invalidated = %v, want %v", got, tc.invalidate)
			}
		})
	}
}

func TestHandleMemberEvent_UnencryptedRoomIgnored(t *testing.T) {
	h := newHarness(t, machine.Config{})
	h.putSession(t)

	if err := h.m.HandleMemberEvent(context.Background(), memberEvent(ptr(types.MembershipJoin), types.MembershipLeave)); err != nil {
		t.Fatalf("HandleMemberEvent: %v", err)
	}
	if !h.hasSession(t) {
		t.Fatal("session in unencrypted room was invalidated")
	}
	tracked, _ := h.store.FilterTrackedUsers(context.Background(), []domain.UserID{bob})
	if len(tracked) != 0 {
		t.Fatalf("tracked = %v, want none", tracked)
	}
}

func TestHandleMemberEvent_TracksJoiningUser(t *testing.T) {
	h := newHarness(t, machine.Config{})
	h.encryptedRoomWithSession(t)

	if err := h.m.HandleMemberEvent(context.Background(), memberEvent(ptr(types.MembershipInvite), types.MembershipJoin)); err != nil {
		t.Fatalf("HandleMemberEvent: %v", err)
	}
	tracked, err := h.store.FilterTrackedUsers(context.Background(), []domain.UserID{bob})
	if err != nil {
		t.Fatalf("FilterTrackedUsers: %v", err)
	}
	if len(tracked) != 1 || tracked[0] != bob {
		t.Fatalf("tracked = %v, want [%s]", tracked, bob)
	}
}

func TestHandleToDeviceEvent_DecryptErrorPropagated(t *testing.T) {
	h := newHarness(t, machine.Config{})
	boom := errors.New("bad ciphertext")
	h.decrypter.err = boom

	err := h.m.HandleToDeviceEvent(context.Background(), &domain.ToDeviceEvent{
		Sender: bob,
		Type:   types.EventToDeviceEncrypted,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}

func TestHandleToDeviceEvent_OtherTypesSkipped(t *testing.T) {
	h := newHarness(t, machine.Config{})
	err := h.m.HandleToDeviceEvent(context.Background(), &domain.ToDeviceEvent{Sender: bob, Type: "m.dummy"})
	if err != nil {
		t.Fatalf("HandleToDeviceEvent: %v", err)
	}
	if h.decrypter.calls != 0 {
		t.Fatalf("decrypter called %d times", h.decrypter.calls)
	}
}

func TestHandleToDeviceEvent_RoomKeyStored(t *testing.T) {
	h := newHarness(t, machine.Config{})
	kp, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	var ratchet [128]byte
	sessionKey, sessionID, err := crypto.EncodeSessionKey(&kp, 0, ratchet)
	if err != nil {
		t.Fatalf("EncodeSessionKey: %v", err)
	}
	content, _ := json.Marshal(domain.RoomKeyContent{
		Algorithm:  types.AlgorithmMegolmV1,
		RoomID:     room,
		SessionID:  sessionID,
		SessionKey: sessionKey,
	})
	h.decrypter.out = &domain.DecryptedOlmEvent{
		Sender:  bob,
		Type:    types.EventRoomKey,
		Keys:    types.SigningKeys{Ed25519: "bobed"},
		Content: content,
	}

	err = h.m.HandleToDeviceEvent(context.Background(), &domain.ToDeviceEvent{
		Sender:  bob,
		Type:    types.EventToDeviceEncrypted,
		Content: types.EncryptedContent{Algorithm: types.AlgorithmOlmV1, SenderKey: "bobcurve"},
	})
	if err != nil {
		t.Fatalf("HandleToDeviceEvent: %v", err)
	}
	sess, err := h.store.GetInboundGroupSession(context.Background(), "bobcurve", room, sessionID)
	if err != nil || sess == nil {
		t.Fatalf("GetInboundGroupSession: %v, %v", sess, err)
	}
	if sess.SigningKey != "bobed" {
		t.Fatalf("signing key = %q", sess.SigningKey)
	}
}

func TestHandleDeviceLists_UntrackedSkipped(t *testing.T) {
	h := newHarness(t, machine.Config{})
	if err := h.m.HandleDeviceLists(context.Background(), domain.DeviceLists{Changed: []domain.UserID{bob}}); err != nil {
		t.Fatalf("HandleDeviceLists: %v", err)
	}
	if queries, _ := h.client.counts(); queries != 0 {
		t.Fatalf("queries = %d, want 0", queries)
	}
}

func bobBundle(t *testing.T, device domain.DeviceID) *domain.DeviceKeys {
	t.Helper()
	acc, err := account.New(1)
	if err != nil {
		t.Fatalf("account.New: %v", err)
	}
	keys, err := acc.DeviceKeys(bob, device)
	if err != nil {
		t.Fatalf("DeviceKeys: %v", err)
	}
	raw, _ := json.Marshal(keys)
	var out domain.DeviceKeys
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &out
}

func TestHandleDeviceLists_NewDeviceInvalidatesSharedRoom(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, machine.Config{})
	h.encryptedRoomWithSession(t)
	_ = h.store.SetMembership(ctx, room, bob, types.MembershipJoin)
	_ = h.store.MarkTracked(ctx, []domain.UserID{bob})
	h.client.query = &domain.QueryKeysResponse{DeviceKeys: map[domain.UserID]map[domain.DeviceID]*domain.DeviceKeys{
		bob: {"BOBDEV": bobBundle(t, "BOBDEV")},
	}}

	if err := h.m.HandleDeviceLists(ctx, domain.DeviceLists{Changed: []domain.UserID{bob}}); err != nil {
		t.Fatalf("HandleDeviceLists: %v", err)
	}
	if h.hasSession(t) {
		t.Fatal("outbound session survived a new device")
	}
	devices, err := h.m.Devices(ctx, bob)
	if err != nil || len(devices) != 1 || devices[0].DeviceID != "BOBDEV" {
		t.Fatalf("Devices = %v, %v", devices, err)
	}
}

func TestShareableDevices(t *testing.T) {
	ctx := context.Background()
	stored := map[domain.DeviceID]*domain.DeviceIdentity{
		"UNSET":    {UserID: bob, DeviceID: "UNSET"},
		"VERIFIED": {UserID: bob, DeviceID: "VERIFIED", Trust: types.TrustStateVerified},
		"BLOCKED":  {UserID: bob, DeviceID: "BLOCKED", Trust: types.TrustStateBlacklisted},
		"GONE":     {UserID: bob, DeviceID: "GONE", Trust: types.TrustStateVerified, Deleted: true},
	}
	cases := []struct {
		allow bool
		want  []domain.DeviceID
	}{
		{allow: false, want: []domain.DeviceID{"VERIFIED"}},
		{allow: true, want: []domain.DeviceID{"UNSET", "VERIFIED"}},
	}
	for _, tc := range cases {
		h := newHarness(t, machine.Config{AllowUnverifiedDevices: tc.allow})
		if err := h.store.PutDevices(ctx, bob, stored); err != nil {
			t.Fatalf("PutDevices: %v", err)
		}
		got, err := h.m.ShareableDevices(ctx, bob)
		if err != nil {
			t.Fatalf("ShareableDevices: %v", err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("allow=%v: got %d devices, want %v", tc.allow, len(got), tc.want)
		}
		for i, dev := range got {
			if dev.DeviceID != tc.want[i] {
				t.Fatalf("allow=%v: device %d = %s, want %s", tc.allow, i, dev.DeviceID, tc.want[i])
			}
		}
	}
}
