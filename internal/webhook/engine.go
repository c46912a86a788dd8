// Package webhook delivers call transcripts to an external HTTP endpoint at
// most once per call id, retrying transient failures with capped exponential
// backoff.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"chamada/internal/calls"
	"chamada/internal/dedup"
	"chamada/internal/metrics"
	"chamada/pkg/backoff"
	"chamada/pkg/logger"
)

var (
	ErrNotConfigured      = errors.New("webhook: url not configured")
	ErrPermanentRejection = errors.New("webhook: permanently rejected")
	ErrDeliveryFailed     = errors.New("webhook: delivery failed")
)

// DeliveryError describes a failed delivery. It wraps ErrPermanentRejection
// or ErrDeliveryFailed.
type DeliveryError struct {
	CallID     string
	Attempts   int
	LastStatus int
	Err        error
	Cause      error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("%v: call_id=%s attempts=%d", e.Err, e.CallID, e.Attempts)
	if e.LastStatus != 0 {
		msg += " status=" + strconv.Itoa(e.LastStatus)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// statusError is a non-2xx response.
type statusError struct{ code int }

func (e statusError) Error() string { return "unexpected status " + strconv.Itoa(e.code) }

// Config for Engine. Timeout bounds each HTTP attempt.
type Config struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
	Policy      backoff.Policy
}

// Report summarizes one Deliver call.
type Report struct {
	Suppressed bool
	Attempts   int
	Status     int
}

type Engine struct {
	cfg     Config
	client  *http.Client
	store   dedup.Store
	sleep   backoff.Sleeper
	now     func() time.Time
	metrics *metrics.Metrics
}

type Option func(*Engine)

func WithHTTPClient(c *http.Client) Option  { return func(e *Engine) { e.client = c } }
func WithSleeper(s backoff.Sleeper) Option  { return func(e *Engine) { e.sleep = s } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func New(cfg Config, store dedup.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("webhook: dedup store is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Policy.Base <= 0 {
		cfg.Policy = backoff.WebhookPolicy()
	}

	e := &Engine{
		cfg:   cfg,
		store: store,
		sleep: backoff.SleepWithContext,
		now:   time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.client == nil {
		e.client = &http.Client{Timeout: cfg.Timeout}
	}
	return e, nil
}

// Deliver sends rec once. A call id that was already delivered (or is being
// delivered) returns Report{Suppressed: true} without any network call.
func (e *Engine) Deliver(ctx context.Context, rec calls.TranscriptRecord) (Report, error) {
	ctx = logger.ForCall(ctx, rec.CallID, rec.RoomName)
	log := logger.From(ctx)

	if e.cfg.URL == "" {
		log.Warn("webhook url not configured, transcript dropped")
		e.metrics.WebhookDelivery("error", 0)
		return Report{}, ErrNotConfigured
	}

	first, err := e.store.Mark(ctx, rec.CallID)
	if err != nil {
		// A broken shared store must not lose the transcript.
		log.Error("dedup store unavailable, delivering without gate", "err", err)
		first = true
	}
	if !first {
		log.Info("webhook delivery suppressed, call already delivered")
		e.metrics.WebhookDelivery("suppressed", 0)
		return Report{Suppressed: true}, nil
	}

	body, err := json.Marshal(buildPayload(rec, e.now()))
	if err != nil {
		e.metrics.WebhookDelivery("error", 0)
		return Report{}, fmt.Errorf("webhook: encode payload: %w", err)
	}

	var rep Report
	res, err := backoff.Retry(ctx, e.cfg.Policy, e.cfg.MaxAttempts, e.sleep, func(attempt int) error {
		status, err := e.post(ctx, body)
		rep.Status = status
		switch {
		case err != nil:
			log.Warn("webhook attempt failed", "attempt", attempt, "err", err)
			return err
		case status >= 200 && status < 300:
			return nil
		case status >= 400 && status < 500:
			log.Warn("webhook rejected", "attempt", attempt, "status", status)
			return backoff.Permanent(statusError{code: status})
		default:
			log.Warn("webhook attempt failed", "attempt", attempt, "status", status)
			return statusError{code: status}
		}
	})
	rep.Attempts = res.Attempts

	if err == nil {
		log.Info("webhook delivered", "attempts", rep.Attempts, "status", rep.Status)
		e.metrics.WebhookDelivery("delivered", rep.Attempts)
		return rep, nil
	}

	derr := &DeliveryError{CallID: rec.CallID, Attempts: rep.Attempts, LastStatus: rep.Status, Err: ErrDeliveryFailed, Cause: res.LastError}
	var se statusError
	if errors.As(err, &se) && se.code >= 400 && se.code < 500 {
		derr.Err = ErrPermanentRejection
		e.metrics.WebhookDelivery("rejected", rep.Attempts)
	} else {
		e.metrics.WebhookDelivery("exhausted", rep.Attempts)
	}
	log.Error("webhook delivery failed", "attempts", rep.Attempts, "status", rep.Status, "err", derr)
	return rep, derr
}

// Budget is the longest a Deliver call can take: every attempt hitting its
// timeout plus every backoff wait.
func (e *Engine) Budget() time.Duration {
	return time.Duration(e.cfg.MaxAttempts)*e.cfg.Timeout + e.cfg.Policy.Total(e.cfg.MaxAttempts)
}

func (e *Engine) post(ctx context.Context, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "chamada-webhook/1")
	if e.cfg.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.Secret)
		req.Header.Set("X-Timestamp", strconv.FormatInt(e.now().Unix(), 10))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
