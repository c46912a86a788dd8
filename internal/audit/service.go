package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records the call lifecycle.
//
// Callers treat audit logging as best-effort: a failed Append never changes
// the outcome of a call.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CallID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogDispatched records that a room and agent dispatch were created for a call.
func (s *Service) LogDispatched(ctx context.Context, callID, roomName, persona, jobID string) error {
	return s.Append(ctx, Event{
		CallID:   callID,
		RoomName: roomName,
		Type:     EventTypeDispatched,
		Message:  "agent dispatched",
		Metadata: encodeMeta(map[string]any{"persona": persona, "job_id": jobID}),
	})
}

// LogTransition records a session state change.
func (s *Service) LogTransition(ctx context.Context, callID, roomName, state string) error {
	return s.Append(ctx, Event{
		CallID:   callID,
		RoomName: roomName,
		Type:     EventTypeStateChanged,
		State:    state,
	})
}

// LogFailure records a failed call. The error text must already be free of PII.
func (s *Service) LogFailure(ctx context.Context, callID, roomName, kind string, cause error) error {
	e := Event{
		CallID:    callID,
		RoomName:  roomName,
		Type:      EventTypeFailed,
		ErrorKind: kind,
	}
	if cause != nil {
		e.Message = cause.Error()
	}
	return s.Append(ctx, e)
}

// LogGreetingFailed records a greeting that could not be sent. The call continues.
func (s *Service) LogGreetingFailed(ctx context.Context, callID, roomName string, cause error) error {
	e := Event{CallID: callID, RoomName: roomName, Type: EventTypeGreetingFailed}
	if cause != nil {
		e.Message = cause.Error()
	}
	return s.Append(ctx, e)
}

// LogDelivery records the transcript webhook result.
func (s *Service) LogDelivery(ctx context.Context, callID, roomName, outcome string, attempts int, suppressed bool, cause error) error {
	e := Event{
		CallID:   callID,
		RoomName: roomName,
		Type:     EventTypeTranscriptSent,
		Metadata: encodeMeta(map[string]any{
			"outcome":    outcome,
			"attempts":   attempts,
			"suppressed": suppressed,
		}),
	}
	if cause != nil {
		e.Type = EventTypeTranscriptError
		e.Message = cause.Error()
	}
	return s.Append(ctx, e)
}

func encodeMeta(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
