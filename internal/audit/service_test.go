package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestService_AppendRequiresCallAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeFailed}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{CallID: "c"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if len(repo.Events()) != 0 {
		t.Fatalf("expected nothing appended")
	}
}

func TestService_NilIsNotConfigured(t *testing.T) {
	var svc *Service
	if err := svc.Append(context.Background(), Event{CallID: "c", Type: EventTypeFailed}); err == nil {
		t.Fatalf("expected error from nil service")
	}
}

func TestService_StampsIDAndTime(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return fixed }

	if err := svc.LogTransition(context.Background(), "c1", "call_clinica_ab12cd34", "dialing"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].ID == "" {
		t.Fatalf("expected generated id")
	}
	if !evs[0].CreatedAt.Equal(fixed) {
		t.Fatalf("expected created_at %v, got %v", fixed, evs[0].CreatedAt)
	}
	if evs[0].State != "dialing" || evs[0].Type != EventTypeStateChanged {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
}

func TestService_DeliveryFailureType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_ = svc.LogDelivery(ctx, "c1", "r", "completed", 1, false, nil)
	_ = svc.LogDelivery(ctx, "c2", "r", "error", 5, false, errors.New("webhook: delivery failed"))

	ok := repo.ForCall("c1")
	if len(ok) != 1 || ok[0].Type != EventTypeTranscriptSent {
		t.Fatalf("unexpected c1 events: %+v", ok)
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(ok[0].Metadata), &meta); err != nil {
		t.Fatalf("metadata not json: %v", err)
	}
	if meta["attempts"].(float64) != 1 || meta["outcome"] != "completed" {
		t.Fatalf("unexpected metadata: %v", meta)
	}

	bad := repo.ForCall("c2")
	if len(bad) != 1 || bad[0].Type != EventTypeTranscriptError || bad[0].Message == "" {
		t.Fatalf("unexpected c2 events: %+v", bad)
	}
}

func TestService_FailureRecordsKind(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	if err := svc.LogFailure(context.Background(), "c1", "r", "dial", errors.New("sip dial timed out")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	evs := repo.Events()
	if evs[0].ErrorKind != "dial" || evs[0].Message != "sip dial timed out" {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
}
