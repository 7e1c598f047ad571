// Package events implements the asynchronous pub/sub bus carrying room
// lifecycle events between the relay's components.
package events

// EventType identifies an event published on the bus.
type EventType string

const (
	// Room lifecycle events
	EventRoomCreated        EventType = "room_created"
	EventParticipantJoined  EventType = "participant_joined"
	EventParticipantEvicted EventType = "participant_evicted"
	EventRoomClosed         EventType = "room_closed"

	// System events
	EventShutdown EventType = "shutdown"
)

// Event is a single message on the bus.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// RoomCreatedPayload accompanies EventRoomCreated.
type RoomCreatedPayload struct {
	RoomName string `json:"room_name"`
	Username string `json:"username"`
}

// ParticipantJoinedPayload accompanies EventParticipantJoined.
type ParticipantJoinedPayload struct {
	RoomName string `json:"room_name"`
	Username string `json:"username"`
}

// ParticipantEvictedPayload accompanies EventParticipantEvicted.
// Reason is "idle" for timeout evictions.
type ParticipantEvictedPayload struct {
	RoomName string `json:"room_name"`
	Username string `json:"username"`
	Reason   string `json:"reason"`
}

// RoomClosedPayload accompanies EventRoomClosed. Dropped is the number of
// participants removed when the room closed.
type RoomClosedPayload struct {
	RoomName string `json:"room_name"`
	Dropped  int    `json:"dropped"`
	Reason   string `json:"reason"`
}
