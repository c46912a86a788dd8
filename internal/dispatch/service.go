// Package dispatch turns a validated call request into a room, an agent
// dispatch and a running call. The call runs once the platform assigns the
// dispatch back to this process through its agent worker, so a dispatch is
// dialled by exactly one worker.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"chamada/internal/audit"
	"chamada/internal/calls"
	"chamada/internal/orchestrator"
	"chamada/internal/telephony"
	"chamada/pkg/logger"
)

var (
	ErrThrottled  = errors.New("dispatch: provider rate exceeded")
	ErrUnknownJob = errors.New("dispatch: no pending call for room")
)

type Config struct {
	AgentName string
	// RPS paces room and dispatch creation against the provider API.
	RPS   float64
	Burst int
	// MaxWait is the longest a request queues for the rate; beyond it the
	// request fails with ErrThrottled.
	MaxWait time.Duration
	// EmptyTimeout lets the platform close a room nobody joined.
	EmptyTimeout time.Duration
	// AssignTimeout frees the slot of a dispatch that was never assigned.
	AssignTimeout time.Duration
}

// pendingCall is a dispatched call waiting for its job assignment.
type pendingCall struct {
	ticket     *Ticket
	dispatchID string
	metadata   string
	timer      *time.Timer
}

// Result is returned to the HTTP caller.
type Result struct {
	RoomName string `json:"room_name"`
	JobID    string `json:"job_id"`
}

type Service struct {
	cfg        Config
	rooms      telephony.RoomService
	dispatcher telephony.Dispatcher
	worker     *Worker
	limiter    *rate.Limiter
	audit      *audit.Service

	mu      sync.Mutex
	pending map[string]*pendingCall // by room
	running map[string]*Ticket      // by job id
}

func NewService(cfg Config, rooms telephony.RoomService, dispatcher telephony.Dispatcher, worker *Worker, events *audit.Service) (*Service, error) {
	if rooms == nil || dispatcher == nil || worker == nil {
		return nil, errors.New("dispatch: rooms, dispatcher and worker are required")
	}
	if cfg.AgentName == "" {
		return nil, errors.New("dispatch: agent name is required")
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 2 * time.Second
	}
	if cfg.EmptyTimeout <= 0 {
		cfg.EmptyTimeout = 2 * time.Minute
	}
	if cfg.AssignTimeout <= 0 {
		cfg.AssignTimeout = 30 * time.Second
	}
	return &Service{
		cfg:        cfg,
		rooms:      rooms,
		dispatcher: dispatcher,
		worker:     worker,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		audit:      events,
		pending:    map[string]*pendingCall{},
		running:    map[string]*Ticket{},
	}, nil
}

// RoomName is "call_<persona>_<suffix>".
func RoomName(persona calls.PersonaTag, suffix string) string {
	return "call_" + string(persona) + "_" + suffix
}

func newSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// StartCall creates the room and agent dispatch for req and holds a slot for
// the call until the dispatch is assigned. A room is never left behind when
// the dispatch fails.
func (s *Service) StartCall(ctx context.Context, req calls.CallRequest) (Result, error) {
	ticket, err := s.worker.Reserve()
	if err != nil {
		return Result{}, err
	}
	started := false
	defer func() {
		if !started {
			ticket.Release()
		}
	}()

	wctx, cancel := context.WithTimeout(ctx, s.cfg.MaxWait)
	err = s.limiter.Wait(wctx)
	cancel()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrThrottled, err)
	}

	room := RoomName(req.Persona, newSuffix())
	log := logger.From(ctx).With("room", room, "persona", req.Persona)

	meta, err := json.Marshal(req.Metadata(uuid.NewString()))
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: encode metadata: %w", err)
	}

	created, err := s.rooms.CreateRoom(ctx, telephony.CreateRoomRequest{Name: room, EmptyTimeout: s.cfg.EmptyTimeout})
	if err != nil {
		log.Error("create room failed", "err", err)
		return Result{}, fmt.Errorf("dispatch: create room: %w", err)
	}
	log.Info("room created", "sid", created.SID)

	d, err := s.dispatcher.CreateDispatch(ctx, telephony.DispatchRequest{
		Room:      created.Name,
		AgentName: s.cfg.AgentName,
		Metadata:  string(meta),
	})
	if err != nil {
		log.Error("create dispatch failed, removing room", "err", err)
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if derr := s.rooms.DeleteRoom(cctx, created.Name); derr != nil {
			log.Warn("room cleanup failed", "err", derr)
		}
		return Result{}, fmt.Errorf("dispatch: create dispatch: %w", err)
	}
	log.Info("agent dispatched", "job_id", d.ID, "agent", s.cfg.AgentName)

	if s.audit != nil {
		if err := s.audit.LogDispatched(ctx, d.ID, created.Name, string(req.Persona), d.ID); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	}

	s.park(created.Name, ticket, d.ID, string(meta))
	started = true
	return Result{RoomName: created.Name, JobID: d.ID}, nil
}

func (s *Service) park(room string, ticket *Ticket, dispatchID, meta string) {
	p := &pendingCall{ticket: ticket, dispatchID: dispatchID, metadata: meta}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[room] = p
	p.timer = time.AfterFunc(s.cfg.AssignTimeout, func() { s.expire(room, p) })
}

func (s *Service) expire(room string, p *pendingCall) {
	s.mu.Lock()
	if s.pending[room] != p {
		s.mu.Unlock()
		return
	}
	delete(s.pending, room)
	s.mu.Unlock()

	p.ticket.Release()
	logger.From(s.worker.ctx).Warn("dispatch never assigned, slot released", "room", room, "job_id", p.dispatchID)
}

func (s *Service) claim(room string) (*pendingCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[room]
	if ok {
		delete(s.pending, room)
		p.timer.Stop()
	}
	return p, ok
}

// Available accepts only jobs for rooms this process dispatched.
func (s *Service) Available(offer telephony.JobOffer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[offer.Room]
	return ok
}

// Assign runs the call waiting for a.Room with the job's credentials.
func (s *Service) Assign(a telephony.Assignment, done func(error)) error {
	p, ok := s.claim(a.Room)
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownJob, a.Room)
	}
	job := orchestrator.Job{
		CallID:   a.DispatchID,
		RoomName: a.Room,
		Metadata: a.Metadata,
		Token:    a.Token,
		URL:      a.URL,
	}
	if job.CallID == "" {
		job.CallID = p.dispatchID
	}
	if job.Metadata == "" {
		job.Metadata = p.metadata
	}

	s.mu.Lock()
	s.running[a.JobID] = p.ticket
	s.mu.Unlock()
	p.ticket.Start(job, func(err error) {
		s.mu.Lock()
		delete(s.running, a.JobID)
		s.mu.Unlock()
		if done != nil {
			done(err)
		}
	})
	return nil
}

// Terminate cancels a running job.
func (s *Service) Terminate(jobID string) {
	s.mu.Lock()
	t := s.running[jobID]
	s.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
}

// Close releases the slots of calls still waiting for an assignment.
func (s *Service) Close() {
	s.mu.Lock()
	pending := s.pending
	s.pending = map[string]*pendingCall{}
	s.mu.Unlock()
	for _, p := range pending {
		p.timer.Stop()
		p.ticket.Release()
	}
}
