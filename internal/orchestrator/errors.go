package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// ConnectionError means the orchestrator could not join the call room.
type ConnectionError struct {
	Room string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("orchestrator: connect to room %s: %v", e.Room, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DialError means the callee never answered: rejected, invalid number,
// provider failure or dial timeout. Meta carries provider diagnostics.
type DialError struct {
	TrunkID     string
	Destination string
	Room        string
	Timeout     bool
	Meta        map[string]string
	Err         error
}

// Error masks the destination; the full number is available on the struct.
func (e *DialError) Error() string {
	reason := "rejected"
	if e.Timeout {
		reason = "timed out"
	}
	return fmt.Sprintf("orchestrator: dial %s (trunk=%s to=%s room=%s): %v",
		reason, e.TrunkID, MaskNumber(e.Destination), e.Room, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// AgentStartError means the voice agent failed to attach after the callee
// answered. The call leg is left up.
type AgentStartError struct {
	Room string
	Err  error
}

func (e *AgentStartError) Error() string {
	return fmt.Sprintf("orchestrator: start agent in room %s: %v", e.Room, e.Err)
}

func (e *AgentStartError) Unwrap() error { return e.Err }

// GreetingError is non-fatal.
type GreetingError struct {
	Room string
	Err  error
}

func (e *GreetingError) Error() string {
	return fmt.Sprintf("orchestrator: send greeting in room %s: %v", e.Room, e.Err)
}

func (e *GreetingError) Unwrap() error { return e.Err }

// TranscriptExtractionError is non-fatal; an Unavailable transcript is
// delivered instead.
type TranscriptExtractionError struct {
	CallID string
	Err    error
}

func (e *TranscriptExtractionError) Error() string {
	return fmt.Sprintf("orchestrator: read history for call %s: %v", e.CallID, e.Err)
}

func (e *TranscriptExtractionError) Unwrap() error { return e.Err }

// Kind names the failure category of err for metrics and the event log.
func Kind(err error) string {
	var (
		ce *ConnectionError
		de *DialError
		ae *AgentStartError
		ge *GreetingError
		te *TranscriptExtractionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return "connection"
	case errors.As(err, &de):
		if de.Timeout {
			return "dial_timeout"
		}
		return "dial"
	case errors.As(err, &ae):
		return "agent_start"
	case errors.As(err, &ge):
		return "greeting"
	case errors.As(err, &te):
		return "transcript"
	default:
		return "unknown"
	}
}

// MaskNumber keeps the leading four and trailing two characters of a phone
// number.
func MaskNumber(n string) string {
	if len(n) <= 6 {
		return strings.Repeat("*", len(n))
	}
	return n[:4] + strings.Repeat("*", len(n)-6) + n[len(n)-2:]
}
