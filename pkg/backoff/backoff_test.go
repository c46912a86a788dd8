package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTemporary = errors.New("temporary error")

func TestWebhookPolicy_Delays(t *testing.T) {
	p := WebhookPolicy()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestPolicy_JitterStaysUnderMax(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Max: 150 * time.Millisecond, Factor: 2, Jitter: 0.5}
	if got := p.delay(1, 0.99); got < 100*time.Millisecond || got > 150*time.Millisecond {
		t.Fatalf("delay out of range: %v", got)
	}
	if got := p.delay(5, 0.5); got != 150*time.Millisecond {
		t.Fatalf("expected clamp to max, got %v", got)
	}
}

func TestPolicy_Total(t *testing.T) {
	if got := WebhookPolicy().Total(5); got != 15*time.Second {
		t.Fatalf("Total(5) = %v, want 15s", got)
	}
	if got := WebhookPolicy().Total(1); got != 0 {
		t.Fatalf("Total(1) = %v, want 0", got)
	}
	p := Policy{Base: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}
	if got := p.Total(3); got != 450*time.Millisecond {
		t.Fatalf("Total(3) with jitter = %v, want 450ms", got)
	}
}

func recordingSleeper(out *[]time.Duration) Sleeper {
	return func(_ context.Context, d time.Duration) error {
		*out = append(*out, d)
		return nil
	}
}

func TestRetry_ExhaustsWithGrowingDelays(t *testing.T) {
	var slept []time.Duration
	calls := 0
	res, err := Retry(context.Background(), WebhookPolicy(), 3, recordingSleeper(&slept), func(int) error {
		calls++
		return errTemporary
	})
	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrMaxAttemptsExhausted", err)
	}
	if calls != 3 || res.Attempts != 3 {
		t.Fatalf("calls = %d attempts = %d, want 3", calls, res.Attempts)
	}
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 2*time.Second {
		t.Fatalf("unexpected sleeps: %v", slept)
	}
	if !errors.Is(res.LastError, errTemporary) {
		t.Fatalf("last error = %v", res.LastError)
	}
}

func TestRetry_PermanentStops(t *testing.T) {
	var slept []time.Duration
	calls := 0
	errRejected := errors.New("rejected")
	res, err := Retry(context.Background(), WebhookPolicy(), 5, recordingSleeper(&slept), func(int) error {
		calls++
		return Permanent(errRejected)
	})
	if !errors.Is(err, errRejected) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 || res.Attempts != 1 || len(slept) != 0 {
		t.Fatalf("calls=%d attempts=%d sleeps=%v", calls, res.Attempts, slept)
	}
}

func TestRetry_SucceedsAfterFailure(t *testing.T) {
	var slept []time.Duration
	res, err := Retry(context.Background(), WebhookPolicy(), 3, recordingSleeper(&slept), func(attempt int) error {
		if attempt < 2 {
			return errTemporary
		}
		return nil
	})
	if err != nil || res.Attempts != 2 {
		t.Fatalf("err=%v attempts=%d", err, res.Attempts)
	}
}

func TestSleepWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepWithContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
