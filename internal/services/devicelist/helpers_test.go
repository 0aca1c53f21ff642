package devicelist_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"keyward/internal/account"
	"keyward/internal/domain"
	"keyward/internal/domain/types"
)

const (
	alice = domain.UserID("@alice:example.org")
	bob   = domain.UserID("@bob:example.org")
)

// remoteDevice is a simulated remote device able to publish signed bundles.
type remoteDevice struct {
	user    domain.UserID
	device  domain.DeviceID
	account *account.Account
}

func newRemoteDevice(t *testing.T, user domain.UserID, device domain.DeviceID) *remoteDevice {
	t.Helper()
	acc, err := account.New(1)
	if err != nil {
		t.Fatalf("account.New: %v", err)
	}
	return &remoteDevice{user: user, device: device, account: acc}
}

// bundle returns the device's keys as a client would decode them from a
// /keys/query response, with name set in the unsigned section.
func (d *remoteDevice) bundle(t *testing.T, name string) *domain.DeviceKeys {
	t.Helper()
	keys, err := d.account.DeviceKeys(d.user, d.device)
	if err != nil {
		t.Fatalf("DeviceKeys: %v", err)
	}
	if name != "" {
		keys.Unsigned = &types.UnsignedDeviceInfo{DeviceDisplayName: name}
	}
	return roundTrip(t, keys)
}

func roundTrip(t *testing.T, keys *domain.DeviceKeys) *domain.DeviceKeys {
	t.Helper()
	raw, err := json.Marshal(keys)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out domain.DeviceKeys
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &out
}

// fakeKeysClient answers QueryKeys from a canned response and counts calls.
type fakeKeysClient struct {
	mu      sync.Mutex
	resp    *domain.QueryKeysResponse
	err     error
	calls   int
	queried [][]domain.UserID
}

func (c *fakeKeysClient) QueryKeys(_ context.Context, users []domain.UserID, _ domain.SyncToken) (*domain.QueryKeysResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.queried = append(c.queried, append([]domain.UserID(nil), users...))
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}

func (c *fakeKeysClient) UploadKeys(context.Context, map[string]domain.OneTimeKey, *domain.DeviceKeys) (*domain.UploadKeysResponse, error) {
	panic("UploadKeys not expected")
}

func (c *fakeKeysClient) respond(resp *domain.QueryKeysResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resp = resp
}

func (c *fakeKeysClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func response(devices map[domain.UserID]map[domain.DeviceID]*domain.DeviceKeys) *domain.QueryKeysResponse {
	return &domain.QueryKeysResponse{DeviceKeys: devices}
}
