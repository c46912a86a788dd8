// Package reporting summarizes the call event log.
package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chamada/internal/audit"
	"chamada/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository lists events created in [from, to), oldest first.
type Repository interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]audit.Event, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, r TimeRange) (CallsSummary, error) {
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	events, err := s.repo.ListEvents(ctx, r.From, r.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{
		Range:          r,
		FailuresByKind: map[string]int{},
		Outcomes:       map[string]int{},
	}
	for _, e := range events {
		switch e.Type {
		case audit.EventTypeDispatched:
			out.DispatchedCalls++
		case audit.EventTypeStateChanged:
			switch calls.SessionState(e.State) {
			case calls.StateAgentAttached:
				out.AnsweredCalls++
			case calls.StateEnded:
				out.EndedCalls++
			}
		case audit.EventTypeFailed:
			out.FailedCalls++
			out.FailuresByKind[e.ErrorKind]++
		case audit.EventTypeGreetingFailed:
			out.GreetingFailures++
		case audit.EventTypeTranscriptSent, audit.EventTypeTranscriptError:
			d := deliveryMeta(e.Metadata)
			switch {
			case e.Type == audit.EventTypeTranscriptError:
				out.TranscriptsFailed++
			case d.Suppressed:
				out.TranscriptsSuppressed++
				continue
			default:
				out.TranscriptsDelivered++
			}
			if d.Outcome != "" {
				out.Outcomes[d.Outcome]++
			}
		}
	}
	return out, nil
}

type delivery struct {
	Outcome    string `json:"outcome"`
	Suppressed bool   `json:"suppressed"`
}

func deliveryMeta(raw string) delivery {
	var d delivery
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &d)
	}
	return d
}
