package webhook

import (
	"time"

	"chamada/internal/calls"
)

// Payload is the JSON document POSTed to the webhook. It never carries raw
// phone numbers or customer names.
type Payload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`

	CallID       string `json:"call_id"`
	RoomName     string `json:"room_name"`
	Persona      string `json:"persona"`
	PhoneHash    string `json:"phone_hash"`
	CustomerHash string `json:"customer_hash"`

	Transcript string    `json:"transcript"`
	Analytics  Analytics `json:"analytics"`

	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	Outcome         string    `json:"outcome"`
}

type Analytics struct {
	MessageCounts     map[string]int `json:"message_counts"`
	ConversationTurns int            `json:"conversation_turns"`
	AvgMessageLength  float64        `json:"average_message_length"`
}

const eventCallTranscript = "call.transcript"

func buildPayload(rec calls.TranscriptRecord, now time.Time) Payload {
	counts := rec.MessageCounts
	if counts == nil {
		counts = map[string]int{}
	}
	return Payload{
		Event:           eventCallTranscript,
		Timestamp:       now.UTC(),
		CallID:          rec.CallID,
		RoomName:        rec.RoomName,
		Persona:         string(rec.Persona),
		PhoneHash:       rec.PhoneHash,
		CustomerHash:    rec.CustomerHash,
		Transcript:      rec.FormattedText,
		Analytics:       Analytics{MessageCounts: counts, ConversationTurns: rec.Turns, AvgMessageLength: rec.AvgMessageLen},
		StartTime:       rec.StartTime.UTC(),
		EndTime:         rec.EndTime.UTC(),
		DurationSeconds: rec.DurationSeconds,
		Outcome:         string(rec.Outcome),
	}
}
