package calls

import "time"

// Outcome classifies how a conversation went.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeError          Outcome = "error"
	OutcomeNoConversation Outcome = "no_conversation"
	OutcomeOneSided       Outcome = "one_sided"
)

// TranscriptRecord is built once per ended session and consumed once by the
// webhook engine. The callee is identified only by hashes.
type TranscriptRecord struct {
	CallID   string     `json:"call_id"`
	RoomName string     `json:"room_name"`
	Persona  PersonaTag `json:"persona"`

	PhoneHash    string `json:"phone_hash"`
	CustomerHash string `json:"customer_hash"`

	FormattedText string         `json:"formatted_text"`
	MessageCounts map[string]int `json:"message_counts"`
	Turns         int            `json:"conversation_turns"`
	AvgMessageLen float64        `json:"average_message_length"`

	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`

	Outcome Outcome `json:"outcome"`
}
