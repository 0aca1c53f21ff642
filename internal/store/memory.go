package store

import (
	"context"
	"sort"
	"sync"

	"keyward/internal/account"
	"keyward/internal/domain"
	"keyward/internal/domain/types"
)

// MemoryStore keeps keys and room state in memory. The account is held as a
// pickle so callers never share a live *account.Account with the store.
type MemoryStore struct {
	mu       sync.Mutex
	account  []byte
	devices  map[domain.UserID]map[domain.DeviceID]*domain.DeviceIdentity
	tracked  map[domain.UserID]struct{}
	outbound map[domain.RoomID]*domain.OutboundGroupSession
	inbound  map[string]*domain.InboundGroupSession

	encrypted map[domain.RoomID]bool
	members   map[domain.RoomID]map[domain.UserID]domain.Membership
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:   make(map[domain.UserID]map[domain.DeviceID]*domain.DeviceIdentity),
		tracked:   make(map[domain.UserID]struct{}),
		outbound:  make(map[domain.RoomID]*domain.OutboundGroupSession),
		inbound:   make(map[string]*domain.InboundGroupSession),
		encrypted: make(map[domain.RoomID]bool),
		members:   make(map[domain.RoomID]map[domain.UserID]domain.Membership),
	}
}

func (s *MemoryStore) GetAccount(context.Context) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		return nil, nil
	}
	return account.Unmarshal(s.account)
}

func (s *MemoryStore) PutAccount(_ context.Context, acc *account.Account) error {
	data, err := acc.Marshal()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = data
	return nil
}

func (s *MemoryStore) GetDevices(_ context.Context, user domain.UserID) (map[domain.DeviceID]*domain.DeviceIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices, ok := s.devices[user]
	if !ok {
		return nil, nil
	}
	return copyDevices(devices), nil
}

func (s *MemoryStore) PutDevices(_ context.Context, user domain.UserID, devices map[domain.DeviceID]*domain.DeviceIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[user] = copyDevices(devices)
	s.tracked[user] = struct{}{}
	return nil
}

func (s *MemoryStore) MarkTracked(_ context.Context, users []domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.tracked[u] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) FilterTrackedUsers(_ context.Context, users []domain.UserID) ([]domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterTracked(users, func(u domain.UserID) bool {
		_, ok := s.tracked[u]
		return ok
	}), nil
}

func (s *MemoryStore) PutOutboundGroupSession(_ context.Context, sess *domain.OutboundGroupSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *sess
	s.outbound[sess.RoomID] = &c
	return nil
}

func (s *MemoryStore) GetOutboundGroupSession(_ context.Context, room domain.RoomID) (*domain.OutboundGroupSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.outbound[room]
	if !ok {
		return nil, nil
	}
	c := *sess
	return &c, nil
}

func (s *MemoryStore) RemoveOutboundGroupSession(_ context.Context, room domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outbound, room)
	return nil
}

func (s *MemoryStore) PutInboundGroupSession(_ context.Context, sess *domain.InboundGroupSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *sess
	s.inbound[inboundKey(sess.SenderKey, sess.RoomID, sess.SessionID)] = &c
	return nil
}

func (s *MemoryStore) GetInboundGroupSession(_ context.Context, sender domain.Curve25519, room domain.RoomID, id domain.SessionID) (*domain.InboundGroupSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.inbound[inboundKey(sender, room, id)]
	if !ok {
		return nil, nil
	}
	c := *sess
	return &c, nil
}

// InboundGroupSessionCount reports how many inbound sessions are stored.
func (s *MemoryStore) InboundGroupSessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbound)
}

// ---------- Room state ----------

// SetEncrypted records whether room has encryption enabled.
func (s *MemoryStore) SetEncrypted(_ context.Context, room domain.RoomID, encrypted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encrypted[room] = encrypted
	return nil
}

// SetMembership records user's membership in room.
func (s *MemoryStore) SetMembership(_ context.Context, room domain.RoomID, user domain.UserID, membership domain.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[room]
	if !ok {
		m = make(map[domain.UserID]domain.Membership)
		s.members[room] = m
	}
	m[user] = membership
	return nil
}

func (s *MemoryStore) IsEncrypted(_ context.Context, room domain.RoomID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encrypted[room], nil
}

// FindSharedRooms returns the encrypted rooms in which user is joined or
// invited, sorted.
func (s *MemoryStore) FindSharedRooms(_ context.Context, user domain.UserID) ([]domain.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rooms []domain.RoomID
	for room, members := range s.members {
		if !s.encrypted[room] {
			continue
		}
		switch members[user] {
		case types.MembershipJoin, types.MembershipInvite:
			rooms = append(rooms, room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms, nil
}

// Compile-time assertions that MemoryStore implements the store contracts.
var (
	_ domain.CryptoStore = (*MemoryStore)(nil)
	_ domain.StateStore  = (*MemoryStore)(nil)
	_ domain.StateWriter = (*MemoryStore)(nil)
)
