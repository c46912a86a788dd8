package audit

import "time"

// Event is an immutable, append-only record of something that happened to a call.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id is required.
// - No phone numbers or customer names are stored; metadata carries ids and counters only.
type Event struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	RoomName string    `json:"room_name,omitempty" db:"room_name"`
	Type     EventType `json:"type" db:"type"`

	// State is the session state reached, for state_changed events.
	State string `json:"state,omitempty" db:"state"`
	// ErrorKind names the failure category (dial, connection, agent_start, ...).
	ErrorKind string `json:"error_kind,omitempty" db:"error_kind"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeDispatched      EventType = "call_dispatched"
	EventTypeStateChanged    EventType = "state_changed"
	EventTypeFailed          EventType = "call_failed"
	EventTypeGreetingFailed  EventType = "greeting_failed"
	EventTypeTranscriptSent  EventType = "transcript_delivered"
	EventTypeTranscriptError EventType = "transcript_failed"
)
