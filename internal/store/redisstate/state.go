package redisstate

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"keyward/internal/domain"
	"keyward/internal/domain/types"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "keyward:"

// Store implements domain.StateStore and domain.StateWriter on Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// New wraps rdb. An empty prefix selects DefaultPrefix.
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) encryptedKey() string { return s.prefix + "rooms:encrypted" }

func (s *Store) membersKey(room domain.RoomID) string {
	return s.prefix + "room:members:" + string(room)
}

func (s *Store) userRoomsKey(user domain.UserID) string {
	return s.prefix + "user:rooms:" + string(user)
}

func (s *Store) SetEncrypted(ctx context.Context, room domain.RoomID, encrypted bool) error {
	var err error
	if encrypted {
		err = s.rdb.SAdd(ctx, s.encryptedKey(), string(room)).Err()
	} else {
		err = s.rdb.SRem(ctx, s.encryptedKey(), string(room)).Err()
	}
	if err != nil {
		return fmt.Errorf("redisstate: setting encryption of %s: %w", room, err)
	}
	return nil
}

// SetMembership records the membership and keeps the user's room index in
// step, in one MULTI/EXEC.
func (s *Store) SetMembership(ctx context.Context, room domain.RoomID, user domain.UserID, membership domain.Membership) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.membersKey(room), string(user), string(membership))
		switch membership {
		case types.MembershipJoin, types.MembershipInvite:
			pipe.SAdd(ctx, s.userRoomsKey(user), string(room))
		default:
			pipe.SRem(ctx, s.userRoomsKey(user), string(room))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstate: setting membership of %s in %s: %w", user, room, err)
	}
	return nil
}

func (s *Store) IsEncrypted(ctx context.Context, room domain.RoomID) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, s.encryptedKey(), string(room)).Result()
	if err != nil {
		return false, fmt.Errorf("redisstate: checking encryption of %s: %w", room, err)
	}
	return ok, nil
}

// Membership returns user's recorded membership in room, or
// MembershipUnknown.
func (s *Store) Membership(ctx context.Context, room domain.RoomID, user domain.UserID) (domain.Membership, error) {
	m, err := s.rdb.HGet(ctx, s.membersKey(room), string(user)).Result()
	if err == redis.Nil {
		return types.MembershipUnknown, nil
	}
	if err != nil {
		return "", fmt.Errorf("redisstate: reading membership: %w", err)
	}
	return domain.Membership(m), nil
}

// FindSharedRooms returns the encrypted rooms user is joined or invited to.
func (s *Store) FindSharedRooms(ctx context.Context, user domain.UserID) ([]domain.RoomID, error) {
	ids, err := s.rdb.SInter(ctx, s.userRoomsKey(user), s.encryptedKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstate: finding rooms shared with %s: %w", user, err)
	}
	sort.Strings(ids)
	rooms := make([]domain.RoomID, len(ids))
	for i, id := range ids {
		rooms[i] = domain.RoomID(id)
	}
	return rooms, nil
}

// Compile-time assertions that Store implements the state contracts.
var (
	_ domain.StateStore  = (*Store)(nil)
	_ domain.StateWriter = (*Store)(nil)
)
