// Package agent is the boundary to the conversational voice model that talks
// to the callee once the call is answered.
package agent

import (
	"context"
	"encoding/json"

	"chamada/internal/telephony"
)

// CallContext is built once per call by the orchestrator and handed to every
// tool that needs to act on the live call.
type CallContext struct {
	CallID              string
	RoomName            string
	ParticipantIdentity string
	TransferTo          string
}

// Tool is a function the model may call during the conversation.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments object.
	Parameters() map[string]any
	Call(ctx context.Context, args json.RawMessage) (any, error)
}

// Spec configures one agent session.
type Spec struct {
	CallID       string
	Room         string
	Instructions string
	Voice        string
	Temperature  float64
	Tools        []Tool
	Audio        Audio
}

// Audio links a session to the room. In carries the callee's voice to the
// model and Out receives the model's speech. Either may be nil.
type Audio struct {
	In  telephony.RTPReader
	Out telephony.RTPWriter
}

// Runtime starts agent sessions.
type Runtime interface {
	Start(ctx context.Context, spec Spec) (Session, error)
}

// Session is a running conversation.
type Session interface {
	// GenerateReply asks the model to speak now, guided by instructions.
	// It returns once the request is issued, not when speech finishes.
	GenerateReply(ctx context.Context, instructions string) error
	// History returns the conversation so far as message items
	// ({"type":"message","role":..., "content":[{"type":"text","text":...}]}).
	History() ([]any, error)
	Close() error
}

func messageItem(role, text string) map[string]any {
	return map[string]any{
		"type": "message",
		"role": role,
		"content": []any{
			map[string]any{"type": "text", "text": text},
		},
	}
}
