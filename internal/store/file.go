package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"keyward/internal/account"
	"keyward/internal/domain"
)

const (
	accountFile  = "account.enc"
	devicesFile  = "devices.json"  // map[user]map[device]DeviceIdentity
	trackedFile  = "tracked.json"  // []user
	outboundFile = "outbound.json" // map[room]OutboundGroupSession
	inboundFile  = "inbound.json"  // map["sender|room|session"]InboundGroupSession
)

// FileStore persists keys as files under dir. The account is sealed with
// the passphrase; everything else is public key material stored as JSON.
type FileStore struct {
	dir        string
	passphrase string
	kdf        scryptParams
	mu         sync.Mutex
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir, passphrase string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: creating %s: %w", dir, err)
	}
	return &FileStore{dir: dir, passphrase: passphrase, kdf: defaultScrypt}, nil
}

func (s *FileStore) path(name string) string { return filepath.Join(s.dir, name) }

// ---------- Account ----------

func (s *FileStore) GetAccount(context.Context) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(s.path(accountFile))
	if err != nil || b == nil {
		return nil, err
	}
	return OpenAccount(s.passphrase, b)
}

func (s *FileStore) PutAccount(_ context.Context, acc *account.Account) error {
	sealed, err := sealAccount(s.passphrase, acc, s.kdf)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFile(s.path(accountFile), sealed, 0o600)
}

// ---------- Devices ----------

type deviceFile map[domain.UserID]map[domain.DeviceID]*domain.DeviceIdentity

func (s *FileStore) GetDevices(_ context.Context, user domain.UserID) (map[domain.DeviceID]*domain.DeviceIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make(deviceFile)
	if err := readJSON(s.path(devicesFile), &all); err != nil {
		return nil, err
	}
	devices, ok := all[user]
	if !ok {
		return nil, nil
	}
	if devices == nil {
		devices = make(map[domain.DeviceID]*domain.DeviceIdentity)
	}
	return devices, nil
}

func (s *FileStore) PutDevices(_ context.Context, user domain.UserID, devices map[domain.DeviceID]*domain.DeviceIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make(deviceFile)
	if err := readJSON(s.path(devicesFile), &all); err != nil {
		return err
	}
	all[user] = copyDevices(devices)
	if err := writeJSON(s.path(devicesFile), all); err != nil {
		return err
	}
	return s.markTrackedLocked([]domain.UserID{user})
}

func (s *FileStore) MarkTracked(_ context.Context, users []domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markTrackedLocked(users)
}

func (s *FileStore) markTrackedLocked(users []domain.UserID) error {
	tracked, err := s.trackedLocked()
	if err != nil {
		return err
	}
	added := false
	for _, u := range users {
		if _, ok := tracked[u]; !ok {
			tracked[u] = struct{}{}
			added = true
		}
	}
	if !added {
		return nil
	}
	list := make([]domain.UserID, 0, len(tracked))
	for u := range tracked {
		list = append(list, u)
	}
	return writeJSON(s.path(trackedFile), list)
}

func (s *FileStore) trackedLocked() (map[domain.UserID]struct{}, error) {
	var list []domain.UserID
	if err := readJSON(s.path(trackedFile), &list); err != nil {
		return nil, err
	}
	tracked := make(map[domain.UserID]struct{}, len(list))
	for _, u := range list {
		tracked[u] = struct{}{}
	}
	return tracked, nil
}

func (s *FileStore) FilterTrackedUsers(_ context.Context, users []domain.UserID) ([]domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracked, err := s.trackedLocked()
	if err != nil {
		return nil, err
	}
	return filterTracked(users, func(u domain.UserID) bool {
		_, ok := tracked[u]
		return ok
	}), nil
}

// ---------- Group sessions ----------

func (s *FileStore) PutOutboundGroupSession(_ context.Context, sess *domain.OutboundGroupSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make(map[domain.RoomID]*domain.OutboundGroupSession)
	if err := readJSON(s.path(outboundFile), &all); err != nil {
		return err
	}
	all[sess.RoomID] = sess
	return writeJSON(s.path(outboundFile), all)
}

func (s *FileStore) GetOutboundGroupSession(_ context.Context, room domain.RoomID) (*domain.OutboundGroupSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make(map[domain.RoomID]*domain.OutboundGroupSession)
	if err := readJSON(s.path(outboundFile), &all); err != nil {
		return nil, err
	}
	return all[room], nil
}

func (s *FileStore) RemoveOutboundGroupSession(_ context.Context, room domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make(map[domain.RoomID]*domain.OutboundGroupSession)
	if err := readJSON(s.path(outboundFile), &all); err != nil {
		return err
	}
	if _, ok := all[room]; !ok {
		return nil
	}
	delete(all, room)
	return writeJSON(s.path(outboundFile), all)
}

func (s *FileStore) PutInboundGroupSession(_ context.Context, sess *domain.InboundGroupSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make(map[string]*domain.InboundGroupSession)
	if err := readJSON(s.path(inboundFile), &all); err != nil {
		return err
	}
	all[inboundKey(sess.SenderKey, sess.RoomID, sess.SessionID)] = sess
	return writeJSON(s.path(inboundFile), all)
}

func (s *FileStore) GetInboundGroupSession(_ context.Context, sender domain.Curve25519, room domain.RoomID, id domain.SessionID) (*domain.InboundGroupSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make(map[string]*domain.InboundGroupSession)
	if err := readJSON(s.path(inboundFile), &all); err != nil {
		return nil, err
	}
	return all[inboundKey(sender, room, id)], nil
}

// Compile-time assertion that FileStore implements domain.CryptoStore.
var _ domain.CryptoStore = (*FileStore)(nil)
