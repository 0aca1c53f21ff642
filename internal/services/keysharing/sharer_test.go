package keysharing_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"keyward/internal/crypto"
	"keyward/internal/domain"
	"keyward/internal/domain/types"
	"keyward/internal/services/keysharing"
	"keyward/internal/store"
)

const (
	alice  = domain.UserID("@alice:example.org")
	device = domain.DeviceID("ALICEDEV")
	room   = domain.RoomID("!room:example.org")
)

type upload struct {
	oneTimeKeys map[string]domain.OneTimeKey
	deviceKeys  *domain.DeviceKeys
}

// fakeUploader records uploads and fails while err is set.
type fakeUploader struct {
	mu      sync.Mutex
	err     error
	uploads []upload
}

func (c *fakeUploader) QueryKeys(context.Context, []domain.UserID, domain.SyncToken) (*domain.QueryKeysResponse, error) {
	panic("QueryKeys not expected")
}

func (c *fakeUploader) UploadKeys(_ context.Context, otks map[string]domain.OneTimeKey, dk *domain.DeviceKeys) (*domain.UploadKeysResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads = append(c.uploads, upload{oneTimeKeys: otks, deviceKeys: dk})
	if c.err != nil {
		return nil, c.err
	}
	return &domain.UploadKeysResponse{OneTimeKeyCounts: map[domain.KeyAlgorithm]int{
		types.KeyAlgorithmSignedCurve25519: len(otks),
	}}, nil
}

func (c *fakeUploader) calls() []upload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]upload(nil), c.uploads...)
}

func makeSharer(t *testing.T, max int) (*keysharing.Sharer, *store.MemoryStore, *fakeUploader) {
	t.Helper()
	s := store.NewMemoryStore()
	client := &fakeUploader{}
	sharer := keysharing.New(s, client, alice, device, nil)
	if err := sharer.Load(context.Background(), max); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return sharer, s, client
}

func storedShared(t *testing.T, s *store.MemoryStore) bool {
	t.Helper()
	acc, err := s.GetAccount(context.Background())
	if err != nil || acc == nil {
		t.Fatalf("GetAccount: %v, %v", acc, err)
	}
	return acc.Shared
}

func TestLoad_CreatesOnceThenReuses(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	first := keysharing.New(s, &fakeUploader{}, alice, device, nil)
	if err := first.Load(ctx, 10); err != nil {
		t.Fatalf("Load: %v", err)
	}
	second := keysharing.New(s, &fakeUploader{}, alice, device, nil)
	if err := second.Load(ctx, 10); err != nil {
		t.Fatalf("Load again: %v", err)
	}
	a, _ := first.Account()
	b, _ := second.Account()
	if a.SigningKey != b.SigningKey {
		t.Fatal("second Load generated a new account")
	}
	if second.MaxOneTimeKeys() != 10 {
		t.Fatalf("max = %d", second.MaxOneTimeKeys())
	}
}

func TestShareKeys_BeforeLoad(t *testing.T) {
	sharer := keysharing.New(store.NewMemoryStore(), &fakeUploader{}, alice, device, nil)
	if err := sharer.ShareKeys(context.Background(), 0); !errors.Is(err, keysharing.ErrNotLoaded) {
		t.Fatalf("err = %v, want ErrNotLoaded", err)
	}
}

func TestShareKeys_FirstUpload(t *testing.T) {
	sharer, s, client := makeSharer(t, 10)

	if err := sharer.ShareKeys(context.Background(), 0); err != nil {
		t.Fatalf("ShareKeys: %v", err)
	}
	calls := client.calls()
	if len(calls) != 1 {
		t.Fatalf("uploads = %d, want 1", len(calls))
	}
	up := calls[0]
	if up.deviceKeys == nil {
		t.Fatal("first upload must include device keys")
	}
	raw, _ := json.Marshal(up.deviceKeys)
	if ok, err := crypto.VerifySignatureJSON(raw, alice, "ed25519:"+device.String(), up.deviceKeys.Ed25519()); err != nil || !ok {
		t.Fatalf("device keys not self-signed: %v %v", ok, err)
	}
	if len(up.oneTimeKeys) != 10 {
		t.Fatalf("one-time keys = %d, want 10", len(up.oneTimeKeys))
	}
	if !storedShared(t, s) {
		t.Fatal("shared flag not persisted")
	}
}

func TestShareKeys_NoOpWhenSharedAndFull(t *testing.T) {
	sharer, _, client := makeSharer(t, 10)
	ctx := context.Background()
	if err := sharer.ShareKeys(ctx, 0); err != nil {
		t.Fatalf("ShareKeys: %v", err)
	}

	if err := sharer.ShareKeys(ctx, 10); err != nil {
		t.Fatalf("ShareKeys full: %v", err)
	}
	if n := len(client.calls()); n != 1 {
		t.Fatalf("uploads = %d, want no second upload", n)
	}
}

func TestShareKeys_TopUpOnly(t *testing.T) {
	sharer, _, client := makeSharer(t, 10)
	ctx := context.Background()
	if err := sharer.ShareKeys(ctx, 0); err != nil {
		t.Fatalf("ShareKeys: %v", err)
	}

	if err := sharer.ShareKeys(ctx, 7); err != nil {
		t.Fatalf("ShareKeys top-up: %v", err)
	}
	calls := client.calls()
	last := calls[len(calls)-1]
	if last.deviceKeys != nil {
		t.Fatal("device keys re-uploaded after sharing")
	}
	if len(last.oneTimeKeys) != 3 {
		t.Fatalf("top-up = %d keys, want 3", len(last.oneTimeKeys))
	}
	for id := range last.oneTimeKeys {
		if _, dup := calls[0].oneTimeKeys[id]; dup {
			t.Fatalf("published key %s uploaded twice", id)
		}
	}
}

func TestShareKeys_UploadFailureLeavesUnshared(t *testing.T) {
	sharer, s, client := makeSharer(t, 5)
	ctx := context.Background()
	client.err = errors.New("502 bad gateway")

	if err := sharer.ShareKeys(ctx, 0); err == nil {
		t.Fatal("expected upload error")
	}
	if storedShared(t, s) {
		t.Fatal("shared persisted after failed upload")
	}
	acc, _ := sharer.Account()
	if acc.Shared {
		t.Fatal("shared set in memory after failed upload")
	}

	client.err = nil
	if err := sharer.ShareKeys(ctx, 0); err != nil {
		t.Fatalf("retry: %v", err)
	}
	calls := client.calls()
	if calls[1].deviceKeys == nil {
		t.Fatal("retry must include device keys")
	}
	for id := range calls[0].oneTimeKeys {
		if _, ok := calls[1].oneTimeKeys[id]; !ok {
			t.Fatalf("key %s from the failed upload was not re-offered", id)
		}
	}
	if !storedShared(t, s) {
		t.Fatal("shared not persisted after retry")
	}
}

func TestShareKeys_ConcurrentPublishesDeviceKeysOnce(t *testing.T) {
	sharer, _, client := makeSharer(t, 4)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sharer.ShareKeys(context.Background(), 4)
		}()
	}
	wg.Wait()

	withDeviceKeys := 0
	for _, up := range client.calls() {
		if up.deviceKeys != nil {
			withDeviceKeys++
		}
	}
	if withDeviceKeys != 1 {
		t.Fatalf("device keys uploaded %d times", withDeviceKeys)
	}
}

func roomKeyEvent(t *testing.T, algorithm domain.Algorithm, signingKey domain.Ed25519) (*domain.DecryptedOlmEvent, domain.SessionID) {
	t.Helper()
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
		Algorithm:  algorithm,
		RoomID:     room,
		SessionID:  sessionID,
		SessionKey: sessionKey,
	})
	return &domain.DecryptedOlmEvent{
		Sender:    "@bob:example.org",
		SenderKey: "bobcurve",
		Type:      types.EventRoomKey,
		Keys:      types.SigningKeys{Ed25519: signingKey},
		Content:   content,
	}, sessionID
}

func TestReceiveRoomKey_StoresSessionIdempotently(t *testing.T) {
	sharer, s, _ := makeSharer(t, 1)
	ctx := context.Background()
	evt, sessionID := roomKeyEvent(t, types.AlgorithmMegolmV1, "bobed")

	for i := 0; i < 2; i++ {
		if err := sharer.ReceiveRoomKey(ctx, evt); err != nil {
			t.Fatalf("ReceiveRoomKey #%d: %v", i, err)
		}
	}
	if n := s.InboundGroupSessionCount(); n != 1 {
		t.Fatalf("inbound sessions = %d, want 1", n)
	}
	sess, err := s.GetInboundGroupSession(ctx, "bobcurve", room, sessionID)
	if err != nil || sess == nil {
		t.Fatalf("session = %v, %v", sess, err)
	}
	if sess.SigningKey != "bobed" {
		t.Fatalf("signing key = %q", sess.SigningKey)
	}
}

func TestReceiveRoomKey_Ignored(t *testing.T) {
	cases := []struct {
		name       string
		algorithm  domain.Algorithm
		signingKey domain.Ed25519
	}{
		{"unsupported algorithm", "m.megolm.v2.aes-sha2", "bobed"},
		{"no signing key", types.AlgorithmMegolmV1, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sharer, s, _ := makeSharer(t, 1)
			evt, _ := roomKeyEvent(t, tc.algorithm, tc.signingKey)
			if err := sharer.ReceiveRoomKey(context.Background(), evt); err != nil {
				t.Fatalf("ReceiveRoomKey: %v", err)
			}
			if n := s.InboundGroupSessionCount(); n != 0 {
				t.Fatalf("inbound sessions = %d, want 0", n)
			}
		})
	}
}

func TestReceiveRoomKey_MalformedKey(t *testing.T) {
	sharer, s, _ := makeSharer(t, 1)
	evt, _ := roomKeyEvent(t, types.AlgorithmMegolmV1, "bobed")
	evt.Content, _ = json.Marshal(domain.RoomKeyContent{
		Algorithm: types.AlgorithmMegolmV1, RoomID: room, SessionID: "x", SessionKey: "bm90IGEga2V5",
	})

	err := sharer.ReceiveRoomKey(context.Background(), evt)
	if !errors.Is(err, crypto.ErrSessionKeyFormat) {
		t.Fatalf("err = %v, want ErrSessionKeyFormat", err)
	}
	if n := s.InboundGroupSessionCount(); n != 0 {
		t.Fatalf("inbound sessions = %d", n)
	}
}
