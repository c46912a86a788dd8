package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chamada/internal/audit"
	"chamada/internal/calls"
	"chamada/internal/dedup"
	"chamada/internal/telephony"
	"chamada/internal/webhook"
	"chamada/pkg/backoff"
)

type harness struct {
	steps     *steps
	conn      *fakeConn
	connector *fakeConnector
	rooms     *fakeRooms
	dialer    *fakeDialer
	session   *fakeSession
	runtime   *fakeRuntime
	delivery  *fakeDelivery
	events    *audit.MemoryRepo
}

func newHarness() *harness {
	s := &steps{}
	conn := newFakeConn(s)
	sess := &fakeSession{steps: s}
	return &harness{
		steps:     s,
		conn:      conn,
		connector: &fakeConnector{steps: s, conn: conn},
		rooms:     &fakeRooms{steps: s},
		dialer:    &fakeDialer{steps: s},
		session:   sess,
		runtime:   &fakeRuntime{steps: s, session: sess},
		delivery:  &fakeDelivery{},
		events:    audit.NewMemoryRepo(),
	}
}

func (h *harness) orchestrator(t *testing.T, delivery Delivery) *Orchestrator {
	t.Helper()
	if delivery == nil {
		delivery = h.delivery
	}
	o, err := New(Config{
		TrunkID:         "ST_trunk",
		CallerID:        "+351210000000",
		TransferTo:      "+351210000001",
		FallbackPhone:   "+351933000000",
		DialTimeout:     time.Second,
		GreetingTimeout: time.Second,
		Now:             func() time.Time { return time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC) },
	}, Deps{
		Connector: h.connector,
		Rooms:     h.rooms,
		Dialer:    h.dialer,
		Transfers: noTransfer{},
		Agents:    h.runtime,
		Delivery:  delivery,
		Audit:     audit.NewService(h.events),
	})
	require.NoError(t, err)
	return o
}

type noTransfer struct{}

func (noTransfer) Transfer(context.Context, telephony.TransferRequest) error { return nil }

func mariaJob() Job {
	meta, _ := json.Marshal(calls.CallRequest{
		PhoneNumber:  "+351912345678",
		Persona:      calls.PersonaClinic,
		CustomerName: "Maria",
	}.Metadata("req-1"))
	return Job{CallID: "AD_call1", RoomName: "call_clinica_ab12cd34", Metadata: string(meta)}
}

func TestRun_FailedDialNeverStartsAgent(t *testing.T) {
	h := newHarness()
	h.dialer.err = &telephony.ProviderError{Op: "dial", Code: "unavailable", Message: "busy", Meta: map[string]string{"sip_status_code": "486"}, Err: errBusy}
	o := h.orchestrator(t, nil)

	err := o.Run(context.Background(), mariaJob())

	var de *DialError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "ST_trunk", de.TrunkID)
	assert.Equal(t, "+351912345678", de.Destination)
	assert.Equal(t, "486", de.Meta["sip_status_code"])
	assert.False(t, de.Timeout)
	assert.NotContains(t, de.Error(), "+351912345678")

	assert.Equal(t, []string{"connect", "dial", "disconnect", "delete_room"}, h.steps.list())
	assert.Empty(t, h.delivery.records())

	evs := h.events.ForCall("AD_call1")
	last := evs[len(evs)-1]
	assert.Equal(t, audit.EventTypeFailed, last.Type)
	assert.Equal(t, "dial", last.ErrorKind)
}

func TestRun_DialTimeoutIsDialError(t *testing.T) {
	h := newHarness()
	h.dialer.block = true
	o := h.orchestrator(t, nil)
	o.cfg.DialTimeout = 20 * time.Millisecond

	err := o.Run(context.Background(), mariaJob())

	var de *DialError
	require.ErrorAs(t, err, &de)
	assert.True(t, de.Timeout)
	assert.Equal(t, "dial_timeout", Kind(err))
	assert.NotContains(t, h.steps.list(), "agent_start")
}

func TestRun_ConnectFailureDeletesRoomAndSkipsDial(t *testing.T) {
	h := newHarness()
	h.connector.err = errors.New("ws: handshake failed")
	o := h.orchestrator(t, nil)

	err := o.Run(context.Background(), mariaJob())

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"connect", "delete_room"}, h.steps.list())
	assert.Equal(t, []string{"call_clinica_ab12cd34"}, h.rooms.deleted)
}

func TestRun_AgentStartFailureKeepsCallee(t *testing.T) {
	h := newHarness()
	h.runtime.err = errors.New("model unavailable")
	o := h.orchestrator(t, nil)

	err := o.Run(context.Background(), mariaJob())

	var ae *AgentStartError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, []string{"connect", "dial", "subscribe", "publish", "agent_start", "disconnect"}, h.steps.list())
	assert.Empty(t, h.rooms.deleted)
}

func TestRun_CalleeAudioMissingIsAgentStartError(t *testing.T) {
	h := newHarness()
	h.conn.noAudio = true
	o := h.orchestrator(t, nil)
	o.cfg.AudioTimeout = 20 * time.Millisecond

	err := o.Run(context.Background(), mariaJob())

	var ae *AgentStartError
	require.ErrorAs(t, err, &ae)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"connect", "dial", "subscribe", "disconnect"}, h.steps.list())
	assert.Empty(t, h.rooms.deleted)
	assert.Empty(t, h.delivery.records())
}

func TestRun_BridgesCalleeAudioToAgent(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t, nil)
	job := mariaJob()
	job.Token = "assigned-token"
	job.URL = "wss://lk.example.com"

	go h.conn.hangup()
	require.NoError(t, o.Run(context.Background(), job))
	o.Wait()

	assert.Equal(t, telephony.ConnectRequest{Room: job.RoomName, Identity: DefaultIdentity, Token: "assigned-token", URL: "wss://lk.example.com"}, h.connector.req)
	assert.Equal(t, "sip_351912345678", h.conn.listened)
	assert.NotNil(t, h.runtime.spec.Audio.In)
	assert.NotNil(t, h.runtime.spec.Audio.Out)
}

func TestRun_RecordCarriesOnlyHashedIdentifiers(t *testing.T) {
	h := newHarness()
	h.session.history = []any{turn("assistant", "Olá Maria"), turn("user", "Bom dia")}
	o := h.orchestrator(t, nil)

	go h.conn.hangup()
	require.NoError(t, o.Run(context.Background(), mariaJob()))
	o.Wait()

	recs := h.delivery.records()
	require.Len(t, recs, 1)
	assert.Equal(t, calls.HashIdentifier("+351912345678"), recs[0].PhoneHash)
	assert.Equal(t, calls.HashIdentifier("Maria"), recs[0].CustomerHash)

	raw, err := json.Marshal(recs[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "+351912345678")
	assert.NotContains(t, string(raw), "351912345678")
	assert.NotContains(t, string(raw), `"Maria"`)
}

func TestNew_DeliveryTimeoutFollowsRetryBudget(t *testing.T) {
	engine, err := webhook.New(webhook.Config{URL: "http://hook", MaxAttempts: 10, Timeout: 10 * time.Second}, dedup.NewCache(time.Hour, 0))
	require.NoError(t, err)

	h := newHarness()
	o := h.orchestrator(t, engine)
	assert.Equal(t, engine.Budget()+deliverySlack, o.cfg.DeliveryTimeout)
	assert.Greater(t, o.cfg.DeliveryTimeout, DefaultDeliveryTimeout)

	plain := h.orchestrator(t, nil)
	assert.Equal(t, DefaultDeliveryTimeout, plain.cfg.DeliveryTimeout)
}

func TestRun_SlowWebhookGetsEveryAttempt(t *testing.T) {
	var posts atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	engine, err := webhook.New(webhook.Config{
		URL:         srv.URL,
		MaxAttempts: 10,
		Timeout:     100 * time.Millisecond,
		Policy:      backoff.Policy{Base: 10 * time.Millisecond, Max: 20 * time.Millisecond, Factor: 2},
	}, dedup.NewCache(time.Hour, 0))
	require.NoError(t, err)

	h := newHarness()
	o := h.orchestrator(t, engine)

	go h.conn.hangup()
	require.NoError(t, o.Run(context.Background(), mariaJob()))
	o.Wait()

	assert.EqualValues(t, 10, posts.Load())
}

func TestRun_GreetingFailureIsNotFatal(t *testing.T) {
	h := newHarness()
	h.session.replyErr = errors.New("socket closed")
	h.session.history = []any{turn("assistant", "Olá Maria"), turn("user", "Bom dia")}
	o := h.orchestrator(t, nil)

	go h.conn.hangup()
	require.NoError(t, o.Run(context.Background(), mariaJob()))
	o.Wait()

	recs := h.delivery.records()
	require.Len(t, recs, 1)
	assert.Equal(t, calls.OutcomeCompleted, recs[0].Outcome)

	var greetingFailed bool
	for _, e := range h.events.ForCall("AD_call1") {
		if e.Type == audit.EventTypeGreetingFailed {
			greetingFailed = true
		}
		assert.NotEqual(t, string(calls.StateGreetingSent), e.State)
	}
	assert.True(t, greetingFailed)
}

func TestRun_HistoryFailureDeliversUnavailable(t *testing.T) {
	h := newHarness()
	h.session.historyErr = errors.New("session gone")
	o := h.orchestrator(t, nil)

	go h.conn.hangup()
	require.NoError(t, o.Run(context.Background(), mariaJob()))
	o.Wait()

	recs := h.delivery.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "Transcript unavailable.", recs[0].FormattedText)
	assert.Equal(t, calls.OutcomeError, recs[0].Outcome)
}

func TestRun_ShutdownEndsCallAndDelivers(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, o.Run(ctx, mariaJob()))
	o.Wait()

	recs := h.delivery.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "No conversation found.", recs[0].FormattedText)
	assert.Equal(t, calls.OutcomeNoConversation, recs[0].Outcome)
	assert.True(t, h.session.closed)
}

func TestTerminalHandler_RunsOnce(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t, nil)
	job := mariaJob()
	sess := calls.NewCallSession(job.CallID, job.RoomName, calls.SessionMetadata{}, time.Now())

	onEnd := o.terminalHandler(context.Background(), sess, h.session, h.conn)
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() { onEnd(); done <- struct{}{} }()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	o.Wait()

	assert.Len(t, h.delivery.records(), 1)
	assert.Equal(t, calls.StateEnded, sess.State())
}

func TestRun_MariaClinicCallDeliveredOnce(t *testing.T) {
	var posts atomic.Int32
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	engine, err := webhook.New(webhook.Config{URL: srv.URL, MaxAttempts: 3}, dedup.NewCache(time.Hour, 100))
	require.NoError(t, err)

	h := newHarness()
	h.session.history = []any{
		turn("assistant", "Olá Maria, fala a Clínica Sorriso."),
		turn("user", "Bom dia, queria marcar uma consulta."),
		turn("assistant", "Claro, que dia prefere?"),
		turn("user", "Quinta de manhã."),
	}
	o := h.orchestrator(t, engine)

	go h.conn.hangup()
	require.NoError(t, o.Run(context.Background(), mariaJob()))
	o.Wait()

	assert.Equal(t, []string{"connect", "dial", "subscribe", "publish", "agent_start", "greeting", "disconnect"}, h.steps.list())
	assert.Equal(t, "sip_351912345678", h.conn.watched)
	assert.Equal(t, "+351912345678", h.dialer.req.To)
	assert.Equal(t, "ST_trunk", h.dialer.req.TrunkID)

	assert.Contains(t, h.runtime.spec.Instructions, "Maria")
	assert.Equal(t, "alloy", h.runtime.spec.Voice)
	require.Len(t, h.runtime.spec.Tools, 1)
	assert.Equal(t, "transfer_human", h.runtime.spec.Tools[0].Name())
	require.Len(t, h.session.replies, 1)
	assert.Contains(t, h.session.replies[0], "Maria")

	require.EqualValues(t, 1, posts.Load())
	var p webhook.Payload
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, "completed", p.Outcome)
	assert.Equal(t, "AD_call1", p.CallID)
	assert.NotEqual(t, "Maria", p.CustomerHash)
	assert.Len(t, p.CustomerHash, calls.HashLen)
	assert.NotContains(t, string(body), "+351912345678")
	assert.True(t, strings.Contains(p.Transcript, "User:") && strings.Contains(p.Transcript, "Agent:"))
	assert.Equal(t, 2, p.Analytics.MessageCounts["user"])

	// A second termination for the same call id is suppressed by the dedup gate.
	rep, err := engine.Deliver(context.Background(), calls.TranscriptRecord{CallID: "AD_call1"})
	require.NoError(t, err)
	assert.True(t, rep.Suppressed)
	assert.EqualValues(t, 1, posts.Load())
}

func TestMaskNumber(t *testing.T) {
	assert.Equal(t, "+351*******78", MaskNumber("+351912345678"))
	assert.Equal(t, "****", MaskNumber("1234"))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}
