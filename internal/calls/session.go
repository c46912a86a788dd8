package calls

import (
	"fmt"
	"sync"
	"time"
)

// SessionState is the lifecycle position of one outbound call.
type SessionState string

const (
	StateCreated       SessionState = "created"
	StateConnected     SessionState = "connected"
	StateDialing       SessionState = "dialing"
	StateAgentAttached SessionState = "agent_attached"
	StateGreetingSent  SessionState = "greeting_sent"
	StateEnded         SessionState = "ended"
	StateFailed        SessionState = "failed"
)

func (s SessionState) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// order ranks the non-terminal states; transitions may only move forward.
var order = map[SessionState]int{
	StateCreated:       0,
	StateConnected:     1,
	StateDialing:       2,
	StateAgentAttached: 3,
	StateGreetingSent:  4,
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// Any non-terminal state may end or fail; otherwise only the next step is allowed.
func CanTransition(from, to SessionState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateEnded || to == StateFailed {
		return true
	}
	f, ok1 := order[from]
	t, ok2 := order[to]
	return ok1 && ok2 && t == f+1
}

// SessionMetadata is the originating request plus what was derived from it.
type SessionMetadata struct {
	Request      CallRequest
	RequestID    string
	Voice        string
	SystemPrompt string
}

// CallSession is owned by a single orchestrator run. Its state only moves
// forward; Ended and Failed are absorbing.
type CallSession struct {
	CallID    string
	RoomName  string
	StartTime time.Time
	Metadata  SessionMetadata

	mu      sync.Mutex
	state   SessionState
	endTime time.Time
}

func NewCallSession(callID, roomName string, meta SessionMetadata, now time.Time) *CallSession {
	return &CallSession{
		CallID:    callID,
		RoomName:  roomName,
		StartTime: now,
		Metadata:  meta,
		state:     StateCreated,
	}
}

func (s *CallSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to next. It returns an error for an illegal
// step and leaves the state unchanged.
func (s *CallSession) Transition(next SessionState, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.state, next) {
		return fmt.Errorf("calls: illegal transition %s -> %s", s.state, next)
	}
	s.state = next
	if next.Terminal() {
		s.endTime = now
	}
	return nil
}

// EndTime is zero until the session reaches a terminal state.
func (s *CallSession) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime
}
