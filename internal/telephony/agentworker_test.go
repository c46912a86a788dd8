package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/proto"
)

type staticWorkerTokens struct{}

func (staticWorkerTokens) WorkerToken(time.Time, string) (string, error) { return "worker-token", nil }

type recordingHandler struct {
	mu         sync.Mutex
	rooms      map[string]bool
	assigned   []Assignment
	done       func(error)
	terminated []string
	assignErr  error
}

func (h *recordingHandler) Available(offer JobOffer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[offer.Room]
}

func (h *recordingHandler) Assign(a Assignment, done func(error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.assignErr != nil {
		return h.assignErr
	}
	h.assigned = append(h.assigned, a)
	h.done = done
	return nil
}

func (h *recordingHandler) Terminate(jobID string) {
	h.mu.Lock()
	h.terminated = append(h.terminated, jobID)
	h.mu.Unlock()
}

func (h *recordingHandler) finish(err error) {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	done(err)
}

// fakeAgentServer accepts one worker link and lets the test script it.
type fakeAgentServer struct {
	srv  *httptest.Server
	auth chan string
	conn chan *websocket.Conn
}

func newFakeAgentServer(t *testing.T) *fakeAgentServer {
	f := &fakeAgentServer{auth: make(chan string, 4), conn: make(chan *websocket.Conn, 4)}
	up := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent" {
			http.NotFound(w, r)
			return
		}
		f.auth <- r.Header.Get("Authorization")
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conn <- c
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAgentServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-f.conn:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("worker never connected")
		return nil
	}
}

func readWorkerMessage(t *testing.T, c *websocket.Conn) *livekit.WorkerMessage {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg livekit.WorkerMessage
		if err := proto.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if _, ping := msg.GetMessage().(*livekit.WorkerMessage_Ping); ping {
			continue
		}
		return &msg
	}
}

func writeServerMessage(t *testing.T, c *websocket.Conn, msg *livekit.ServerMessage) {
	t.Helper()
	raw, err := proto.Marshal(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := c.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func roomJob(id, room string) *livekit.Job {
	return &livekit.Job{Id: id, DispatchId: "AD_" + id, Type: livekit.JobType_JT_ROOM, Room: &livekit.Room{Name: room}, AgentName: "outbound-agent", Metadata: `{"phone_number":"+351912345678"}`}
}

func startWorker(t *testing.T, f *fakeAgentServer, h JobHandler) context.CancelFunc {
	t.Helper()
	w, err := NewAgentWorker(AgentWorkerConfig{URL: f.srv.URL, AgentName: "outbound-agent", Identity: "chamada-agent"}, staticWorkerTokens{}, h)
	if err != nil {
		t.Fatalf("NewAgentWorker: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestAgentWorker_RegistersAndRunsOwnJobs(t *testing.T) {
	f := newFakeAgentServer(t)
	h := &recordingHandler{rooms: map[string]bool{"call_clinica_ab12cd34": true}}
	startWorker(t, f, h)

	c := f.accept(t)
	if got := <-f.auth; got != "Bearer worker-token" {
		t.Fatalf("authorization = %q", got)
	}

	reg := readWorkerMessage(t, c).GetRegister()
	if reg == nil || reg.AgentName != "outbound-agent" || reg.Type != livekit.JobType_JT_ROOM {
		t.Fatalf("unexpected register: %v", reg)
	}
	writeServerMessage(t, c, &livekit.ServerMessage{Message: &livekit.ServerMessage_Register{Register: &livekit.RegisterWorkerResponse{WorkerId: "W_1"}}})

	// A room this process did not create is declined.
	writeServerMessage(t, c, &livekit.ServerMessage{Message: &livekit.ServerMessage_Availability{Availability: &livekit.AvailabilityRequest{Job: roomJob("J_other", "call_other_00000000")}}})
	if av := readWorkerMessage(t, c).GetAvailability(); av == nil || av.JobId != "J_other" || av.Available {
		t.Fatalf("expected decline, got %v", av)
	}

	writeServerMessage(t, c, &livekit.ServerMessage{Message: &livekit.ServerMessage_Availability{Availability: &livekit.AvailabilityRequest{Job: roomJob("J_1", "call_clinica_ab12cd34")}}})
	av := readWorkerMessage(t, c).GetAvailability()
	if av == nil || !av.Available || av.ParticipantIdentity != "chamada-agent" {
		t.Fatalf("expected acceptance, got %v", av)
	}

	lkURL := "wss://lk.example.com"
	writeServerMessage(t, c, &livekit.ServerMessage{Message: &livekit.ServerMessage_Assignment{Assignment: &livekit.JobAssignment{Job: roomJob("J_1", "call_clinica_ab12cd34"), Token: "job-token", Url: &lkURL}}})
	if st := readWorkerMessage(t, c).GetUpdateJob(); st == nil || st.JobId != "J_1" || st.Status != livekit.JobStatus_JS_RUNNING {
		t.Fatalf("expected running, got %v", st)
	}

	h.mu.Lock()
	if len(h.assigned) != 1 {
		h.mu.Unlock()
		t.Fatalf("expected one assignment, got %d", len(h.assigned))
	}
	a := h.assigned[0]
	h.mu.Unlock()
	if a.Token != "job-token" || a.URL != lkURL || a.DispatchID != "AD_J_1" || a.Room != "call_clinica_ab12cd34" {
		t.Fatalf("unexpected assignment %+v", a)
	}

	h.finish(nil)
	if st := readWorkerMessage(t, c).GetUpdateJob(); st == nil || st.Status != livekit.JobStatus_JS_SUCCESS {
		t.Fatalf("expected success, got %v", st)
	}

	writeServerMessage(t, c, &livekit.ServerMessage{Message: &livekit.ServerMessage_Termination{Termination: &livekit.JobTermination{JobId: "J_1"}}})
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.Lock()
		n := len(h.terminated)
		h.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("termination not forwarded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAgentWorker_RefusedAssignmentFailsJob(t *testing.T) {
	f := newFakeAgentServer(t)
	h := &recordingHandler{assignErr: errors.New("dispatch: no pending call for room")}
	startWorker(t, f, h)

	c := f.accept(t)
	readWorkerMessage(t, c)
	writeServerMessage(t, c, &livekit.ServerMessage{Message: &livekit.ServerMessage_Assignment{Assignment: &livekit.JobAssignment{Job: roomJob("J_2", "call_late_00000000"), Token: "t"}}})

	st := readWorkerMessage(t, c).GetUpdateJob()
	if st == nil || st.JobId != "J_2" || st.Status != livekit.JobStatus_JS_FAILED || st.Error == "" {
		t.Fatalf("expected failed job, got %v", st)
	}
}

func TestAgentWorker_DrainsOnShutdown(t *testing.T) {
	f := newFakeAgentServer(t)
	cancel := startWorker(t, f, &recordingHandler{})

	c := f.accept(t)
	readWorkerMessage(t, c)
	cancel()

	st := readWorkerMessage(t, c).GetUpdateWorker()
	if st == nil || st.GetStatus() != livekit.WorkerStatus_WS_FULL {
		t.Fatalf("expected full status, got %v", st)
	}
}

func TestAgentURL(t *testing.T) {
	cases := map[string]string{
		"https://lk.example.com": "wss://lk.example.com/agent",
		"wss://lk.example.com/":  "wss://lk.example.com/agent",
		"http://127.0.0.1:7880":  "ws://127.0.0.1:7880/agent",
	}
	for in, want := range cases {
		if got := agentURL(in); got != want {
			t.Fatalf("agentURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewAgentWorker_RequiresConfig(t *testing.T) {
	if _, err := NewAgentWorker(AgentWorkerConfig{}, staticWorkerTokens{}, &recordingHandler{}); err == nil {
		t.Fatalf("expected config error")
	}
}
