// Package orchestrator drives one outbound call from room join to transcript
// delivery:
//
//	Created -> Connected -> Dialing -> AgentAttached -> GreetingSent -> Ended
//
// with Failed reachable from any non-terminal state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chamada/internal/agent"
	"chamada/internal/audit"
	"chamada/internal/calls"
	"chamada/internal/metrics"
	"chamada/internal/persona"
	"chamada/internal/telephony"
	"chamada/internal/transcript"
	"chamada/internal/webhook"
	"chamada/pkg/logger"
)

const (
	DefaultIdentity        = "chamada-agent"
	DefaultDialTimeout     = 45 * time.Second
	DefaultGreetingTimeout = 10 * time.Second
	DefaultAudioTimeout    = 10 * time.Second
	DefaultDeliveryTimeout = 90 * time.Second
	cleanupTimeout         = 10 * time.Second
	deliverySlack          = 5 * time.Second
	agentTrackName         = "agent-voice"
)

// Job is one agent dispatch: the room it runs in and the metadata JSON the
// dispatch was created with. Token and URL come from the job assignment.
type Job struct {
	CallID   string
	RoomName string
	Metadata string
	Token    string
	URL      string
}

// Delivery consumes the transcript of an ended call.
type Delivery interface {
	Deliver(ctx context.Context, rec calls.TranscriptRecord) (webhook.Report, error)
}

// budgeted is a Delivery that knows how long its full retry schedule can take.
type budgeted interface {
	Budget() time.Duration
}

type Config struct {
	TrunkID       string
	CallerID      string
	TransferTo    string
	FallbackPhone string
	// Identity is the orchestrator's own participant identity in the room.
	Identity string

	DialTimeout     time.Duration
	GreetingTimeout time.Duration
	// AudioTimeout bounds the wait for the callee's audio track.
	AudioTimeout time.Duration
	// DeliveryTimeout bounds transcript delivery. Zero means the delivery's
	// own retry budget plus slack, or DefaultDeliveryTimeout.
	DeliveryTimeout time.Duration

	Now func() time.Time
}

type Deps struct {
	Connector telephony.RoomConnector
	Rooms     telephony.RoomService
	Dialer    telephony.Dialer
	Transfers telephony.Transferer
	Agents    agent.Runtime
	Delivery  Delivery

	Audit   *audit.Service
	Metrics *metrics.Metrics
}

type Orchestrator struct {
	cfg  Config
	deps Deps
	wg   sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Connector == nil || deps.Rooms == nil || deps.Dialer == nil || deps.Agents == nil || deps.Delivery == nil {
		return nil, errors.New("orchestrator: connector, rooms, dialer, agents and delivery are required")
	}
	if cfg.TransferTo != "" && deps.Transfers == nil {
		return nil, errors.New("orchestrator: transfer number set without a transferer")
	}
	if cfg.Identity == "" {
		cfg.Identity = DefaultIdentity
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.GreetingTimeout <= 0 {
		cfg.GreetingTimeout = DefaultGreetingTimeout
	}
	if cfg.AudioTimeout <= 0 {
		cfg.AudioTimeout = DefaultAudioTimeout
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
		if b, ok := deps.Delivery.(budgeted); ok {
			cfg.DeliveryTimeout = b.Budget() + deliverySlack
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// Run drives job to a terminal state and blocks until the call ends or ctx
// is cancelled. It returns the fatal setup error, if any. Transcript
// delivery continues in the background after Run returns; see Wait.
func (o *Orchestrator) Run(ctx context.Context, job Job) error {
	if job.CallID == "" {
		job.CallID = job.RoomName
	}
	ctx = logger.ForCall(ctx, job.CallID, job.RoomName)
	log := logger.From(ctx)

	meta, err := calls.ParseJobMetadata(job.Metadata, o.cfg.FallbackPhone)
	if err != nil {
		log.Warn("job metadata unreadable, using fallback destination", "err", err)
	}
	req := meta.Request()
	p := persona.ForTag(req.Persona)

	now := o.cfg.Now()
	sess := calls.NewCallSession(job.CallID, job.RoomName, calls.SessionMetadata{
		Request:      req,
		RequestID:    meta.WebsiteRequestID,
		Voice:        p.Voice(meta),
		SystemPrompt: p.SystemPrompt(meta, now),
	}, now)

	log.Info("call starting", "persona", req.Persona, "kind", p.Kind().String())
	o.deps.Metrics.CallStarted(string(req.Persona))
	defer o.deps.Metrics.TrackActive()()

	conn, err := o.deps.Connector.Connect(ctx, telephony.ConnectRequest{
		Room:     job.RoomName,
		Identity: o.cfg.Identity,
		Token:    job.Token,
		URL:      job.URL,
	})
	if err != nil {
		return o.fail(ctx, sess, &ConnectionError{Room: job.RoomName, Err: err}, nil, true)
	}
	o.transition(ctx, sess, calls.StateConnected)

	o.transition(ctx, sess, calls.StateDialing)
	dial, err := o.dial(ctx, sess)
	if err != nil {
		return o.fail(ctx, sess, err, conn, true)
	}
	conn.Watch(dial.ParticipantIdentity)
	log.Info("callee answered", "participant", dial.ParticipantID)

	callCtx := agent.CallContext{
		CallID:              job.CallID,
		RoomName:            job.RoomName,
		ParticipantIdentity: dial.ParticipantIdentity,
		TransferTo:          o.cfg.TransferTo,
	}
	var tools []agent.Tool
	if o.cfg.TransferTo != "" {
		tools = append(tools, agent.NewTransferHuman(callCtx, o.deps.Transfers))
	}
	audio, err := o.attachAudio(ctx, conn, dial.ParticipantIdentity)
	if err != nil {
		return o.fail(ctx, sess, &AgentStartError{Room: job.RoomName, Err: err}, conn, false)
	}
	session, err := o.deps.Agents.Start(ctx, agent.Spec{
		CallID:       job.CallID,
		Room:         job.RoomName,
		Instructions: sess.Metadata.SystemPrompt,
		Voice:        sess.Metadata.Voice,
		Temperature:  p.Temperature(),
		Tools:        tools,
		Audio:        audio,
	})
	if err != nil {
		// The callee stays on the line for an operator to pick up.
		return o.fail(ctx, sess, &AgentStartError{Room: job.RoomName, Err: err}, conn, false)
	}
	o.transition(ctx, sess, calls.StateAgentAttached)

	onEnd := o.terminalHandler(ctx, sess, session, conn)

	o.greet(ctx, sess, session, p.Greeting(meta))

	select {
	case <-conn.Done():
		log.Info("call ended by platform")
	case <-ctx.Done():
		log.Info("call interrupted by shutdown", "err", ctx.Err())
	}
	onEnd()
	return nil
}

// Wait blocks until every detached transcript delivery has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) dial(ctx context.Context, sess *calls.CallSession) (telephony.DialResult, error) {
	req := sess.Metadata.Request
	identity := telephony.SIPIdentity(req.PhoneNumber)

	dialCtx, cancel := context.WithTimeout(ctx, o.cfg.DialTimeout)
	defer cancel()

	logger.From(ctx).Info("dialing", "trunk", o.cfg.TrunkID, "to", MaskNumber(req.PhoneNumber))
	res, err := o.deps.Dialer.Dial(dialCtx, telephony.DialRequest{
		TrunkID:             o.cfg.TrunkID,
		To:                  telephony.DialTarget(req.PhoneNumber),
		From:                o.cfg.CallerID,
		Room:                sess.RoomName,
		ParticipantIdentity: identity,
		ParticipantName:     req.CustomerName,
	})
	if err != nil {
		timedOut := errors.Is(dialCtx.Err(), context.DeadlineExceeded)
		var pe *telephony.ProviderError
		if errors.As(err, &pe) && pe.Timeout() {
			timedOut = true
		}
		return telephony.DialResult{}, &DialError{
			TrunkID:     o.cfg.TrunkID,
			Destination: req.PhoneNumber,
			Room:        sess.RoomName,
			Timeout:     timedOut,
			Meta:        telephony.ProviderMeta(err),
			Err:         err,
		}
	}
	if res.ParticipantIdentity == "" {
		res.ParticipantIdentity = identity
	}
	return res, nil
}

// attachAudio links the callee's track and a published agent track so the
// model hears and is heard.
func (o *Orchestrator) attachAudio(ctx context.Context, conn telephony.RoomConn, callee string) (agent.Audio, error) {
	actx, cancel := context.WithTimeout(ctx, o.cfg.AudioTimeout)
	defer cancel()
	in, err := conn.RemoteAudio(actx, callee)
	if err != nil {
		return agent.Audio{}, fmt.Errorf("callee audio: %w", err)
	}
	out, err := conn.PublishAudio(agentTrackName)
	if err != nil {
		return agent.Audio{}, fmt.Errorf("agent audio: %w", err)
	}
	return agent.Audio{In: in, Out: out}, nil
}

func (o *Orchestrator) greet(ctx context.Context, sess *calls.CallSession, session agent.Session, greeting string) {
	gctx, cancel := context.WithTimeout(ctx, o.cfg.GreetingTimeout)
	defer cancel()

	if err := session.GenerateReply(gctx, greetingInstruction(greeting)); err != nil {
		gerr := &GreetingError{Room: sess.RoomName, Err: err}
		logger.From(ctx).Warn("greeting not sent, conversation continues", "err", gerr)
		o.deps.Metrics.GreetingFailed()
		o.record(ctx, func(a *audit.Service) error {
			return a.LogGreetingFailed(ctx, sess.CallID, sess.RoomName, gerr)
		})
		return
	}
	o.transition(ctx, sess, calls.StateGreetingSent)
}

func greetingInstruction(greeting string) string {
	return fmt.Sprintf("Diz apenas '%s' usando EXCLUSIVAMENTE Português de Portugal (não do Brasil). "+
		"Usa expressões, vocabulário e sotaque típicos de Portugal, nunca do Brasil. Espera pela resposta.", greeting)
}

// terminalHandler returns the function that ends the session. The first call
// moves the session to Ended and starts transcript delivery in a detached
// goroutine; later calls do nothing.
func (o *Orchestrator) terminalHandler(ctx context.Context, sess *calls.CallSession, session agent.Session, conn telephony.RoomConn) func() {
	var once sync.Once
	log := logger.From(ctx)
	return func() {
		once.Do(func() {
			o.transition(ctx, sess, calls.StateEnded)
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				defer func() {
					if r := recover(); r != nil {
						log.Error("transcript pipeline panicked", "panic", r)
					}
				}()
				o.finish(logger.With(context.WithoutCancel(ctx), log), sess, session, conn)
			}()
		})
	}
}

func (o *Orchestrator) finish(ctx context.Context, sess *calls.CallSession, session agent.Session, conn telephony.RoomConn) {
	log := logger.From(ctx)

	history, herr := session.History()
	if err := session.Close(); err != nil {
		log.Debug("agent session close", "err", err)
	}
	conn.Disconnect()

	rec := o.buildRecord(ctx, sess, history, herr)
	o.deps.Metrics.CallEnded(string(rec.Outcome))

	dctx, cancel := context.WithTimeout(ctx, o.cfg.DeliveryTimeout)
	defer cancel()
	rep, err := o.deps.Delivery.Deliver(dctx, rec)
	if err != nil {
		log.Error("transcript not delivered", "outcome", rec.Outcome, "attempts", rep.Attempts, "err", err)
	}
	o.record(ctx, func(a *audit.Service) error {
		return a.LogDelivery(ctx, sess.CallID, sess.RoomName, string(rec.Outcome), rep.Attempts, rep.Suppressed, err)
	})
}

func (o *Orchestrator) buildRecord(ctx context.Context, sess *calls.CallSession, history []any, herr error) calls.TranscriptRecord {
	req := sess.Metadata.Request
	end := sess.EndTime()
	if end.IsZero() {
		end = o.cfg.Now()
	}
	rec := calls.TranscriptRecord{
		CallID:          sess.CallID,
		RoomName:        sess.RoomName,
		Persona:         req.Persona,
		PhoneHash:       calls.HashIdentifier(req.PhoneNumber),
		CustomerHash:    calls.HashIdentifier(req.CustomerName),
		StartTime:       sess.StartTime,
		EndTime:         end,
		DurationSeconds: end.Sub(sess.StartTime).Seconds(),
	}

	if herr != nil {
		terr := &TranscriptExtractionError{CallID: sess.CallID, Err: herr}
		logger.From(ctx).Warn("conversation history unavailable", "err", terr)
		rec.FormattedText = transcript.Unavailable
		rec.MessageCounts = map[string]int{}
		rec.Outcome = calls.OutcomeError
		return rec
	}

	res := transcript.Format(ctx, history)
	an := transcript.Analyze(res)
	rec.FormattedText = res.Text
	rec.MessageCounts = an.MessageCounts
	rec.Turns = an.Turns
	rec.AvgMessageLen = an.AvgMessageLen
	rec.Outcome = transcript.Classify(res)
	return rec
}

// fail moves sess to Failed and releases what was acquired. deleteRoom is
// false once a callee is on the line.
func (o *Orchestrator) fail(ctx context.Context, sess *calls.CallSession, cause error, conn telephony.RoomConn, deleteRoom bool) error {
	kind := Kind(cause)
	attrs := []any{"kind", kind, "state", sess.State(), "err", cause}
	var de *DialError
	if errors.As(cause, &de) && len(de.Meta) > 0 {
		attrs = append(attrs, slog.Any("provider", de.Meta))
	}
	logger.From(ctx).Error("call failed", attrs...)

	o.transition(ctx, sess, calls.StateFailed)
	o.deps.Metrics.CallFailed(kind)
	o.record(ctx, func(a *audit.Service) error {
		return a.LogFailure(ctx, sess.CallID, sess.RoomName, kind, cause)
	})

	if conn != nil {
		conn.Disconnect()
	}
	if deleteRoom {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if err := o.deps.Rooms.DeleteRoom(cctx, sess.RoomName); err != nil {
			logger.From(ctx).Warn("room cleanup failed", "err", err)
		}
	}
	return cause
}

func (o *Orchestrator) transition(ctx context.Context, sess *calls.CallSession, next calls.SessionState) {
	if err := sess.Transition(next, o.cfg.Now()); err != nil {
		logger.From(ctx).Warn("state transition rejected", "err", err)
		return
	}
	logger.From(ctx).Debug("state changed", "state", next)
	o.record(ctx, func(a *audit.Service) error {
		return a.LogTransition(ctx, sess.CallID, sess.RoomName, string(next))
	})
}

// record writes an audit event. Audit failures never affect the call.
func (o *Orchestrator) record(ctx context.Context, fn func(*audit.Service) error) {
	if o.deps.Audit == nil {
		return
	}
	if err := fn(o.deps.Audit); err != nil {
		logger.From(ctx).Warn("audit append failed", "err", err)
	}
}
