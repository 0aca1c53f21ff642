package store

import (
	"fmt"

	"keyward/internal/domain"
)

// inboundKey flattens the (sender key, room, session) triple into a map key.
func inboundKey(sender domain.Curve25519, room domain.RoomID, id domain.SessionID) string {
	return fmt.Sprintf("%s|%s|%s", sender, room, id)
}

func copyDevices(in map[domain.DeviceID]*domain.DeviceIdentity) map[domain.DeviceID]*domain.DeviceIdentity {
	out := make(map[domain.DeviceID]*domain.DeviceIdentity, len(in))
	for id, dev := range in {
		d := *dev
		out[id] = &d
	}
	return out
}

// filterTracked keeps users present in tracked, preserving order and
// dropping duplicates.
func filterTracked(users []domain.UserID, tracked func(domain.UserID) bool) []domain.UserID {
	seen := make(map[domain.UserID]struct{}, len(users))
	out := make([]domain.UserID, 0, len(users))
	for _, u := range users {
		if _, dup := seen[u]; dup || !tracked(u) {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
