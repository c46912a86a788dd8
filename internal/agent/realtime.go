package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"chamada/internal/config"
	"chamada/internal/telephony"
	"chamada/pkg/logger"
)

// ErrSessionClosed is returned by writes after Close or a dropped link.
var ErrSessionClosed = errors.New("agent: session closed")

const eventsLabel = "oai-events"

// Realtime runs sessions against a speech-to-speech model over WebRTC. The
// callee's audio goes up on an Opus track, the model's speech comes back on
// another, and events travel on a data channel.
type Realtime struct {
	apiKey       string
	endpoint     string
	model        string
	client       *http.Client
	readyTimeout time.Duration
}

func NewRealtime(cfg config.RealtimeConfig) *Realtime {
	return &Realtime{
		apiKey:       cfg.APIKey,
		endpoint:     cfg.URL,
		model:        cfg.Model,
		client:       &http.Client{Timeout: 15 * time.Second},
		readyTimeout: 15 * time.Second,
	}
}

type sessionConfig struct {
	Modalities              []string       `json:"modalities"`
	Instructions            string         `json:"instructions"`
	Voice                   string         `json:"voice,omitempty"`
	Temperature             float64        `json:"temperature"`
	InputAudioTranscription map[string]any `json:"input_audio_transcription"`
	TurnDetection           map[string]any `json:"turn_detection"`
	Tools                   []toolDef      `json:"tools,omitempty"`
	ToolChoice              string         `json:"tool_choice,omitempty"`
}

type toolDef struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// serverEvent covers the fields read from every server event type we handle.
type serverEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
	Name       string `json:"name"`
	CallID     string `json:"call_id"`
	Arguments  string `json:"arguments"`
	Error      *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Realtime model temperature bounds.
func clampTemperature(t float64) float64 {
	switch {
	case t < 0.6:
		return 0.6
	case t > 1.2:
		return 1.2
	default:
		return t
	}
}

func buildSessionConfig(spec Spec) sessionConfig {
	cfg := sessionConfig{
		Modalities:              []string{"audio", "text"},
		Instructions:            spec.Instructions,
		Voice:                   spec.Voice,
		Temperature:             clampTemperature(spec.Temperature),
		InputAudioTranscription: map[string]any{"model": "whisper-1"},
		TurnDetection: map[string]any{
			"type":               "semantic_vad",
			"eagerness":          "auto",
			"create_response":    true,
			"interrupt_response": true,
		},
	}
	for _, t := range spec.Tools {
		cfg.Tools = append(cfg.Tools, toolDef{Type: "function", Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	if len(cfg.Tools) > 0 {
		cfg.ToolChoice = "auto"
	}
	return cfg
}

func (r *Realtime) Start(ctx context.Context, spec Spec) (Session, error) {
	if r.apiKey == "" {
		return nil, errors.New("agent: realtime api key not configured")
	}
	ctx = logger.ForCall(ctx, spec.CallID, spec.Room)

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("agent: peer connection: %w", err)
	}
	toModel, err := telephony.NewOpusTrack("callee-audio", spec.CallID)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	sender, err := pc.AddTrack(toModel)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("agent: add track: %w", err)
	}
	go drainRTCP(sender)

	dc, err := pc.CreateDataChannel(eventsLabel, nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("agent: data channel: %w", err)
	}

	s := newSession(logger.From(ctx), dc, pc, spec)
	dc.OnOpen(func() {
		if err := s.configure(buildSessionConfig(spec)); err != nil {
			s.signalReady(fmt.Errorf("agent: session.update: %w", err))
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { s.receive(msg.Data) })
	dc.OnClose(s.finish)
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		if st == webrtc.PeerConnectionStateFailed || st == webrtc.PeerConnectionStateClosed {
			s.finish()
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio || spec.Audio.Out == nil {
			return
		}
		n, err := telephony.Pump(telephony.TrackReader(track), spec.Audio.Out)
		s.log.Debug("model audio ended", "packets", n, "err", err)
	})

	if err := r.negotiate(ctx, pc); err != nil {
		_ = s.Close()
		return nil, err
	}
	if spec.Audio.In != nil {
		go func() {
			n, err := telephony.Pump(spec.Audio.In, toModel)
			s.log.Debug("callee audio ended", "packets", n, "err", err)
		}()
	}

	if err := s.awaitReady(ctx, r.readyTimeout); err != nil {
		return nil, err
	}
	return s, nil
}

// negotiate sends the local offer once ICE gathering completes and applies
// the model's answer.
func (r *Realtime) negotiate(ctx context.Context, pc *webrtc.PeerConnection) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("agent: create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("agent: set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, err := r.exchangeSDP(ctx, pc.LocalDescription().SDP)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fmt.Errorf("agent: set remote description: %w", err)
	}
	return nil
}

// exchangeSDP posts the offer and returns the answer SDP.
func (r *Realtime) exchangeSDP(ctx context.Context, offer string) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", fmt.Errorf("agent: realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", r.model)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewBufferString(offer))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent: realtime offer: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("agent: realtime answer: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent: realtime offer rejected: %d %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return string(body), nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	for {
		if _, _, err := sender.ReadRTCP(); err != nil {
			return
		}
	}
}

// eventChannel is the event side of the link: the WebRTC data channel in
// production.
type eventChannel interface {
	SendText(s string) error
	Close() error
}

type realtimeSession struct {
	events eventChannel
	peer   io.Closer
	log    *slog.Logger
	tools  map[string]Tool

	mu        sync.Mutex
	history   []any
	closed    bool
	readyOnce sync.Once
	ready     chan error
	doneOnce  sync.Once
	done      chan struct{}
}

func newSession(log *slog.Logger, events eventChannel, peer io.Closer, spec Spec) *realtimeSession {
	s := &realtimeSession{
		events: events,
		peer:   peer,
		log:    log,
		tools:  map[string]Tool{},
		ready:  make(chan error, 1),
		done:   make(chan struct{}),
	}
	for _, t := range spec.Tools {
		s.tools[t.Name()] = t
	}
	return s
}

func (s *realtimeSession) configure(cfg sessionConfig) error {
	return s.send(map[string]any{"type": "session.update", "session": cfg})
}

// awaitReady waits for the model to acknowledge the session. Every failure
// closes the link.
func (s *realtimeSession) awaitReady(ctx context.Context, timeout time.Duration) error {
	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case err := <-s.ready:
		if err != nil {
			_ = s.Close()
			return err
		}
		return nil
	case <-s.done:
		_ = s.Close()
		return errors.New("agent: realtime link closed during setup")
	case <-readyCtx.Done():
		_ = s.Close()
		return fmt.Errorf("agent: waiting for session.updated: %w", readyCtx.Err())
	}
}

func (s *realtimeSession) send(v any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.events.SendText(string(raw))
}

func (s *realtimeSession) GenerateReply(ctx context.Context, instructions string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.send(map[string]any{
		"type":     "response.create",
		"response": map[string]any{"instructions": instructions},
	})
}

func (s *realtimeSession) History() ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.history))
	copy(out, s.history)
	return out, nil
}

func (s *realtimeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.events.Close()
	if s.peer != nil {
		if perr := s.peer.Close(); err == nil {
			err = perr
		}
	}
	s.finish()
	return err
}

func (s *realtimeSession) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *realtimeSession) signalReady(err error) {
	s.readyOnce.Do(func() { s.ready <- err })
}

func (s *realtimeSession) append(item any) {
	s.mu.Lock()
	s.history = append(s.history, item)
	s.mu.Unlock()
}

func (s *realtimeSession) receive(msg []byte) {
	var ev serverEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		s.log.Warn("realtime event decode failed", "err", err)
		return
	}
	s.handle(ev)
}

func (s *realtimeSession) handle(ev serverEvent) {
	switch ev.Type {
	case "session.updated":
		s.signalReady(nil)
	case "error":
		msg := "unknown error"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		s.signalReady(fmt.Errorf("agent: realtime error: %s", msg))
		s.log.Warn("realtime error event", "message", msg)
	case "conversation.item.input_audio_transcription.completed":
		if ev.Transcript != "" {
			s.append(messageItem("user", ev.Transcript))
		}
	case "response.audio_transcript.done":
		if ev.Transcript != "" {
			s.append(messageItem("assistant", ev.Transcript))
		}
	case "response.text.done":
		if ev.Text != "" {
			s.append(messageItem("assistant", ev.Text))
		}
	case "response.function_call_arguments.done":
		s.append(map[string]any{"type": "function_call", "name": ev.Name, "call_id": ev.CallID, "arguments": ev.Arguments})
		go s.runTool(ev.Name, ev.CallID, ev.Arguments)
	}
}

func (s *realtimeSession) runTool(name, callID, args string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tool panicked", "tool", name, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(logger.With(context.Background(), s.log), 45*time.Second)
	defer cancel()

	var output any
	tool, ok := s.tools[name]
	if !ok {
		output = map[string]any{"ok": false, "error": "unknown tool"}
	} else {
		res, err := tool.Call(ctx, json.RawMessage(args))
		if err != nil {
			s.log.Warn("tool call failed", "tool", name, "err", err)
			output = map[string]any{"ok": false, "error": err.Error()}
		} else {
			output = res
		}
	}

	raw, err := json.Marshal(output)
	if err != nil {
		raw = []byte(`{"ok":false,"error":"unencodable tool output"}`)
	}
	if err := s.send(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{"type": "function_call_output", "call_id": callID, "output": string(raw)},
	}); err != nil {
		s.log.Warn("tool output not sent", "tool", name, "err", err)
		return
	}
	if err := s.send(map[string]any{"type": "response.create"}); err != nil {
		s.log.Warn("post-tool response not requested", "tool", name, "err", err)
	}
}
