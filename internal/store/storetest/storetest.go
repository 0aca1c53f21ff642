package storetest

import (
	"context"
	"testing"

	"keyward/internal/account"
	"keyward/internal/domain"
	"keyward/internal/domain/types"
)

const (
	bob  = domain.UserID("@bob:example.org")
	carl = domain.UserID("@carl:example.org")
	room = domain.RoomID("!room:example.org")
)

// Exercise runs the contract every domain.CryptoStore must satisfy against
// an empty store s.
func Exercise(t *testing.T, s domain.CryptoStore) {
	t.Helper()
	ctx := context.Background()

	acc, err := s.GetAccount(ctx)
	if err != nil || acc != nil {
		t.Fatalf("empty store account = %v, %v", acc, err)
	}
	acc, err = account.New(3)
	if err != nil {
		t.Fatalf("account.New: %v", err)
	}
	acc.Shared = true
	if err := s.PutAccount(ctx, acc); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}
	got, err := s.GetAccount(ctx)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.SigningKey != acc.SigningKey || !got.Shared {
		t.Fatalf("account not round-tripped: %+v", got)
	}

	devices, err := s.GetDevices(ctx, bob)
	if err != nil || devices != nil {
		t.Fatalf("unknown user devices = %v, %v", devices, err)
	}
	tracked, err := s.FilterTrackedUsers(ctx, []domain.UserID{bob, carl})
	if err != nil || len(tracked) != 0 {
		t.Fatalf("tracked before put = %v, %v", tracked, err)
	}

	dev := &domain.DeviceIdentity{
		UserID: bob, DeviceID: "BOBDEV", IdentityKey: "curve", SigningKey: "ed",
		Trust: types.TrustStateVerified, Name: "phone",
	}
	if err := s.PutDevices(ctx, bob, map[domain.DeviceID]*domain.DeviceIdentity{"BOBDEV": dev}); err != nil {
		t.Fatalf("PutDevices: %v", err)
	}
	devices, err = s.GetDevices(ctx, bob)
	if err != nil {
		t.Fatalf("GetDevices: %v", err)
	}
	if d := devices["BOBDEV"]; d == nil || *d != *dev {
		t.Fatalf("device not round-tripped: %+v", d)
	}
	tracked, err = s.FilterTrackedUsers(ctx, []domain.UserID{bob, carl, bob})
	if err != nil || len(tracked) != 1 || tracked[0] != bob {
		t.Fatalf("tracked after put = %v, %v", tracked, err)
	}
	if err := s.MarkTracked(ctx, []domain.UserID{carl}); err != nil {
		t.Fatalf("MarkTracked: %v", err)
	}
	tracked, _ = s.FilterTrackedUsers(ctx, []domain.UserID{bob, carl})
	if len(tracked) != 2 {
		t.Fatalf("tracked after mark = %v", tracked)
	}

	out := &domain.OutboundGroupSession{RoomID: room, SessionID: "sess"}
	if err := s.PutOutboundGroupSession(ctx, out); err != nil {
		t.Fatalf("PutOutboundGroupSession: %v", err)
	}
	if sess, _ := s.GetOutboundGroupSession(ctx, room); sess == nil || sess.SessionID != "sess" {
		t.Fatalf("outbound session = %+v", sess)
	}
	for i := 0; i < 2; i++ {
		if err := s.RemoveOutboundGroupSession(ctx, room); err != nil {
			t.Fatalf("RemoveOutboundGroupSession #%d: %v", i, err)
		}
	}
	if sess, _ := s.GetOutboundGroupSession(ctx, room); sess != nil {
		t.Fatalf("outbound session survived removal: %+v", sess)
	}

	in := &domain.InboundGroupSession{SenderKey: "sender", SigningKey: "ed", RoomID: room, SessionID: "sess", SessionKey: "key"}
	if err := s.PutInboundGroupSession(ctx, in); err != nil {
		t.Fatalf("PutInboundGroupSession: %v", err)
	}
	if err := s.PutInboundGroupSession(ctx, in); err != nil {
		t.Fatalf("PutInboundGroupSession again: %v", err)
	}
	sess, err := s.GetInboundGroupSession(ctx, "sender", room, "sess")
	if err != nil || sess == nil || *sess != *in {
		t.Fatalf("inbound session = %+v, %v", sess, err)
	}
	if sess, _ := s.GetInboundGroupSession(ctx, "other", room, "sess"); sess != nil {
		t.Fatalf("inbound lookup ignored sender key")
	}
}
