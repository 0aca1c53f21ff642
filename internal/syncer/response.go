package syncer

import (
	"encoding/json"
	"fmt"

	"keyward/internal/domain"
	"keyward/internal/domain/types"
)

// Response is the subset of a /sync response this package reads.
type Response struct {
	NextBatch   domain.SyncToken            `json:"next_batch"`
	OTKCounts   map[domain.KeyAlgorithm]int `json:"device_one_time_keys_count,omitempty"`
	DeviceLists *domain.DeviceLists         `json:"device_lists,omitempty"`
	ToDevice    struct {
		Events []*domain.ToDeviceEvent `json:"events"`
	} `json:"to_device"`
	Rooms struct {
		Join map[domain.RoomID]JoinedRoom `json:"join"`
	} `json:"rooms"`
}

// JoinedRoom holds the state and timeline of one joined room.
type JoinedRoom struct {
	State    EventList `json:"state"`
	Timeline EventList `json:"timeline"`
}

// EventList wraps a list of room events.
type EventList struct {
	Events []RoomEvent `json:"events"`
}

// RoomEvent is a room event as delivered by sync. Servers put prev_content
// either at the top level or under unsigned.
type RoomEvent struct {
	Type        domain.EventType `json:"type"`
	Sender      domain.UserID    `json:"sender"`
	StateKey    *string          `json:"state_key,omitempty"`
	Content     json.RawMessage  `json:"content"`
	PrevContent json.RawMessage  `json:"prev_content,omitempty"`
	Unsigned    struct {
		PrevContent json.RawMessage `json:"prev_content,omitempty"`
	} `json:"unsigned"`
}

// Parse decodes a /sync response body.
func Parse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("syncer: decoding sync response: %w", err)
	}
	return &resp, nil
}

// memberEvent converts a state event into a membership change. ok is false
// for anything that is not a well-formed m.room.member state event.
func (e *RoomEvent) memberEvent(room domain.RoomID) (*domain.MemberEvent, bool) {
	if e.Type != types.EventRoomMember || e.StateKey == nil {
		return nil, false
	}
	evt := &domain.MemberEvent{RoomID: room, Sender: e.Sender, StateKey: *e.StateKey}
	if err := json.Unmarshal(e.Content, &evt.Content); err != nil || evt.Content.Membership == "" {
		return nil, false
	}
	prev := e.PrevContent
	if len(prev) == 0 {
		prev = e.Unsigned.PrevContent
	}
	if len(prev) > 0 {
		var pc domain.MemberContent
		if err := json.Unmarshal(prev, &pc); err == nil {
			evt.PrevContent = &pc
		}
	}
	return evt, true
}

// encryptionEvent reports whether e enables encryption in its room.
func (e *RoomEvent) encryptionEvent() bool {
	if e.Type != types.EventRoomEncryption || e.StateKey == nil {
		return false
	}
	var content struct {
		Algorithm domain.Algorithm `json:"algorithm"`
	}
	return json.Unmarshal(e.Content, &content) == nil && content.Algorithm != ""
}
