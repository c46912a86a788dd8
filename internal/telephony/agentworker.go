package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"google.golang.org/protobuf/proto"

	"chamada/pkg/backoff"
	"chamada/pkg/logger"
)

var errNoWorkerLink = errors.New("telephony: agent worker not connected")

const (
	defaultPingInterval = 30 * time.Second
	workerWriteTimeout  = 10 * time.Second
)

// JobOffer is a dispatch the platform offers to this worker.
type JobOffer struct {
	JobID      string
	DispatchID string
	Room       string
	AgentName  string
	Metadata   string
}

// Assignment is an accepted job together with the credentials to join its
// room.
type Assignment struct {
	JobOffer
	Token string
	URL   string
}

// JobHandler decides on and runs the jobs offered to an AgentWorker.
type JobHandler interface {
	Available(offer JobOffer) bool
	// Assign starts the job. done is called once when it ends.
	Assign(a Assignment, done func(error)) error
	Terminate(jobID string)
}

// WorkerTokens mints the registration token of an agent worker.
type WorkerTokens interface {
	WorkerToken(now time.Time, identity string) (string, error)
}

type AgentWorkerConfig struct {
	URL       string
	AgentName string
	// Identity is the participant identity this worker joins rooms as.
	Identity     string
	Version      string
	PingInterval time.Duration
}

// AgentWorker registers with the platform under an agent name and receives
// the jobs dispatched to that name. The platform assigns every dispatch to a
// single worker.
type AgentWorker struct {
	cfg     AgentWorkerConfig
	tokens  WorkerTokens
	handler JobHandler
	dialer  *websocket.Dialer
	policy  backoff.Policy
	now     func() time.Time

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewAgentWorker(cfg AgentWorkerConfig, tokens WorkerTokens, handler JobHandler) (*AgentWorker, error) {
	if cfg.URL == "" || cfg.AgentName == "" || cfg.Identity == "" {
		return nil, errors.New("telephony: agent worker needs url, agent name and identity")
	}
	if tokens == nil || handler == nil {
		return nil, errors.New("telephony: agent worker needs tokens and a job handler")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	return &AgentWorker{
		cfg:     cfg,
		tokens:  tokens,
		handler: handler,
		dialer:  &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		policy:  backoff.Policy{Base: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: 0.2},
		now:     time.Now,
	}, nil
}

func agentURL(url string) string {
	return strings.TrimRight(lksdk.ToWebsocketURL(url), "/") + "/agent"
}

// Run keeps the worker registered until ctx is done, reconnecting with
// backoff after a dropped link.
func (w *AgentWorker) Run(ctx context.Context) error {
	log := logger.From(ctx).With("agent", w.cfg.AgentName)
	ctx = logger.With(ctx, log)

	attempt := 0
	for {
		registered, err := w.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if registered {
			attempt = 0
		}
		attempt++
		d := w.policy.Delay(attempt)
		log.Warn("agent worker link lost, reconnecting", "err", err, "retry_in", d)
		if err := backoff.SleepWithContext(ctx, d); err != nil {
			return nil
		}
	}
}

// session runs one link. It reports whether the platform accepted the
// registration.
func (w *AgentWorker) session(ctx context.Context) (bool, error) {
	token, err := w.tokens.WorkerToken(w.now(), w.cfg.Identity)
	if err != nil {
		return false, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)

	conn, _, err := w.dialer.DialContext(ctx, agentURL(w.cfg.URL), h)
	if err != nil {
		return false, fmt.Errorf("telephony: agent worker dial: %w", err)
	}
	w.setConn(conn)
	defer w.setConn(nil)

	if err := w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_Register{Register: &livekit.RegisterWorkerRequest{
		Type:         livekit.JobType_JT_ROOM,
		AgentName:    w.cfg.AgentName,
		Version:      w.cfg.Version,
		PingInterval: uint32(w.cfg.PingInterval / time.Second),
	}}}); err != nil {
		conn.Close()
		return false, fmt.Errorf("telephony: agent worker register: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sctx.Done()
		if ctx.Err() != nil {
			w.drain(ctx)
		}
		conn.Close()
	}()
	go w.pingLoop(sctx)

	registered := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return registered, nil
			}
			return registered, err
		}
		var msg livekit.ServerMessage
		if err := proto.Unmarshal(raw, &msg); err != nil {
			logger.From(ctx).Warn("agent worker message decode failed", "err", err)
			continue
		}
		if w.handle(ctx, &msg) {
			registered = true
		}
	}
}

// handle reacts to one server message and reports whether it confirmed the
// registration.
func (w *AgentWorker) handle(ctx context.Context, msg *livekit.ServerMessage) bool {
	log := logger.From(ctx)
	switch m := msg.GetMessage().(type) {
	case *livekit.ServerMessage_Register:
		log.Info("agent worker registered", "worker_id", m.Register.GetWorkerId())
		return true

	case *livekit.ServerMessage_Availability:
		offer := offerFrom(m.Availability.GetJob())
		ok := w.handler.Available(offer)
		log.Debug("job offered", "job_id", offer.JobID, "room", offer.Room, "accepted", ok)
		w.sendOrLog(ctx, &livekit.WorkerMessage{Message: &livekit.WorkerMessage_Availability{Availability: &livekit.AvailabilityResponse{
			JobId:               offer.JobID,
			Available:           ok,
			ParticipantIdentity: w.cfg.Identity,
			ParticipantName:     w.cfg.Identity,
		}}})

	case *livekit.ServerMessage_Assignment:
		a := Assignment{
			JobOffer: offerFrom(m.Assignment.GetJob()),
			Token:    m.Assignment.GetToken(),
			URL:      m.Assignment.GetUrl(),
		}
		if a.URL == "" {
			a.URL = w.cfg.URL
		}
		jobID := a.JobID
		if err := w.handler.Assign(a, func(err error) { w.updateJob(ctx, jobID, err) }); err != nil {
			log.Warn("job assignment refused", "job_id", jobID, "room", a.Room, "err", err)
			w.updateJob(ctx, jobID, err)
			return false
		}
		w.sendOrLog(ctx, jobStatus(jobID, livekit.JobStatus_JS_RUNNING, ""))

	case *livekit.ServerMessage_Termination:
		log.Info("job terminated by platform", "job_id", m.Termination.GetJobId())
		w.handler.Terminate(m.Termination.GetJobId())
	}
	return false
}

func offerFrom(job *livekit.Job) JobOffer {
	return JobOffer{
		JobID:      job.GetId(),
		DispatchID: job.GetDispatchId(),
		Room:       job.GetRoom().GetName(),
		AgentName:  job.GetAgentName(),
		Metadata:   job.GetMetadata(),
	}
}

func jobStatus(jobID string, status livekit.JobStatus, errMsg string) *livekit.WorkerMessage {
	return &livekit.WorkerMessage{Message: &livekit.WorkerMessage_UpdateJob{UpdateJob: &livekit.UpdateJobStatus{
		JobId:  jobID,
		Status: status,
		Error:  errMsg,
	}}}
}

func (w *AgentWorker) updateJob(ctx context.Context, jobID string, err error) {
	if err != nil {
		w.sendOrLog(ctx, jobStatus(jobID, livekit.JobStatus_JS_FAILED, err.Error()))
		return
	}
	w.sendOrLog(ctx, jobStatus(jobID, livekit.JobStatus_JS_SUCCESS, ""))
}

// drain takes the worker out of the pool before the link closes.
func (w *AgentWorker) drain(ctx context.Context) {
	w.sendOrLog(ctx, &livekit.WorkerMessage{Message: &livekit.WorkerMessage_UpdateWorker{UpdateWorker: &livekit.UpdateWorkerStatus{
		Status: livekit.WorkerStatus_WS_FULL.Enum(),
	}}})
}

func (w *AgentWorker) pingLoop(ctx context.Context) {
	t := time.NewTicker(w.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.sendOrLog(ctx, &livekit.WorkerMessage{Message: &livekit.WorkerMessage_Ping{Ping: &livekit.WorkerPing{Timestamp: w.now().UnixMilli()}}})
		}
	}
}

func (w *AgentWorker) setConn(c *websocket.Conn) {
	w.mu.Lock()
	w.conn = c
	w.mu.Unlock()
}

func (w *AgentWorker) send(msg *livekit.WorkerMessage) error {
	raw, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return errNoWorkerLink
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(workerWriteTimeout))
	return w.conn.WriteMessage(websocket.BinaryMessage, raw)
}

func (w *AgentWorker) sendOrLog(ctx context.Context, msg *livekit.WorkerMessage) {
	if err := w.send(msg); err != nil {
		logger.From(ctx).Warn("agent worker message not sent", "err", err)
	}
}
