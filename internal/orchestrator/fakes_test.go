package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pion/rtp"

	"chamada/internal/agent"
	"chamada/internal/calls"
	"chamada/internal/telephony"
	"chamada/internal/webhook"
)

// steps records the order in which collaborators are called.
type steps struct {
	mu  sync.Mutex
	log []string
}

func (s *steps) add(step string) {
	s.mu.Lock()
	s.log = append(s.log, step)
	s.mu.Unlock()
}

func (s *steps) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

type fakeConn struct {
	steps    *steps
	done     chan struct{}
	once     sync.Once
	watched  string
	listened string
	// audioErr fails RemoteAudio; noAudio makes it wait for ctx.
	audioErr error
	noAudio  bool
}

func newFakeConn(s *steps) *fakeConn { return &fakeConn{steps: s, done: make(chan struct{})} }

func (c *fakeConn) Done() <-chan struct{} { return c.done }
func (c *fakeConn) Watch(identity string) { c.watched = identity }
func (c *fakeConn) Disconnect()           { c.steps.add("disconnect") }
func (c *fakeConn) hangup()               { c.once.Do(func() { close(c.done) }) }

func (c *fakeConn) RemoteAudio(ctx context.Context, identity string) (telephony.RTPReader, error) {
	c.steps.add("subscribe")
	c.listened = identity
	if c.noAudio {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.audioErr != nil {
		return nil, c.audioErr
	}
	return silence{}, nil
}

func (c *fakeConn) PublishAudio(name string) (telephony.RTPWriter, error) {
	c.steps.add("publish")
	return discard{}, nil
}

type silence struct{}

func (silence) ReadRTP() (*rtp.Packet, error) { return nil, io.EOF }

type discard struct{}

func (discard) WriteRTP(*rtp.Packet) error { return nil }

type fakeConnector struct {
	steps *steps
	conn  *fakeConn
	err   error
	req   telephony.ConnectRequest
}

func (f *fakeConnector) Connect(ctx context.Context, req telephony.ConnectRequest) (telephony.RoomConn, error) {
	f.steps.add("connect")
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

type fakeRooms struct {
	steps   *steps
	deleted []string
}

func (f *fakeRooms) CreateRoom(ctx context.Context, req telephony.CreateRoomRequest) (telephony.Room, error) {
	return telephony.Room{Name: req.Name}, nil
}

func (f *fakeRooms) DeleteRoom(ctx context.Context, name string) error {
	f.steps.add("delete_room")
	f.deleted = append(f.deleted, name)
	return nil
}

type fakeDialer struct {
	steps *steps
	req   telephony.DialRequest
	err   error
	// block makes Dial wait for ctx to expire.
	block bool
}

func (f *fakeDialer) Dial(ctx context.Context, req telephony.DialRequest) (telephony.DialResult, error) {
	f.steps.add("dial")
	f.req = req
	if f.block {
		<-ctx.Done()
		return telephony.DialResult{}, ctx.Err()
	}
	if f.err != nil {
		return telephony.DialResult{}, f.err
	}
	return telephony.DialResult{ParticipantID: "PA_1", ParticipantIdentity: req.ParticipantIdentity}, nil
}

type fakeSession struct {
	steps      *steps
	replies    []string
	replyErr   error
	history    []any
	historyErr error
	closed     bool
}

func (s *fakeSession) GenerateReply(ctx context.Context, instructions string) error {
	s.steps.add("greeting")
	s.replies = append(s.replies, instructions)
	return s.replyErr
}

func (s *fakeSession) History() ([]any, error) { return s.history, s.historyErr }

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeRuntime struct {
	steps   *steps
	session *fakeSession
	spec    agent.Spec
	err     error
}

func (f *fakeRuntime) Start(ctx context.Context, spec agent.Spec) (agent.Session, error) {
	f.steps.add("agent_start")
	f.spec = spec
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeDelivery struct {
	mu   sync.Mutex
	recs []calls.TranscriptRecord
}

func (f *fakeDelivery) Deliver(ctx context.Context, rec calls.TranscriptRecord) (webhook.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return webhook.Report{Attempts: 1, Status: 200}, nil
}

func (f *fakeDelivery) records() []calls.TranscriptRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]calls.TranscriptRecord(nil), f.recs...)
}

var errBusy = errors.New("sip status 486: busy here")

func turn(role, text string) map[string]any {
	return map[string]any{
		"type": "message",
		"role": role,
		"content": []any{
			map[string]any{"type": "text", "text": text},
		},
	}
}
