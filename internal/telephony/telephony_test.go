package telephony

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/twitchtv/twirp"
)

func TestSIPIdentity(t *testing.T) {
	cases := map[string]string{
		"+351912345678":     "sip_351912345678",
		"tel:+351912345678": "sip_351912345678",
		"351 912 345 678":   "sip_351912345678",
	}
	for in, want := range cases {
		if got := SIPIdentity(in); got != want {
			t.Fatalf("SIPIdentity(%q) = %q, want %q", in, got, want)
		}
	}
	if !IsSIPIdentity("sip_1") || IsSIPIdentity("agent") {
		t.Fatalf("IsSIPIdentity misclassified")
	}
}

func TestTargets(t *testing.T) {
	if got := TransferTarget("+351210000000"); got != "tel:+351210000000" {
		t.Fatalf("got %q", got)
	}
	if got := TransferTarget("tel:+351210000000"); got != "tel:+351210000000" {
		t.Fatalf("got %q", got)
	}
	if got := DialTarget("tel:+351912345678"); got != "+351912345678" {
		t.Fatalf("got %q", got)
	}
}

func TestWrapProviderError_KeepsTwirpMeta(t *testing.T) {
	twerr := twirp.NewError(twirp.Unavailable, "callee busy").
		WithMeta("sip_status_code", "486").
		WithMeta("sip_status", "Busy Here")

	err := wrapProviderError("create_sip_participant", twerr)

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if pe.Code != string(twirp.Unavailable) || pe.Message != "callee busy" {
		t.Fatalf("unexpected code/message: %+v", pe)
	}
	if ProviderMeta(err)["sip_status_code"] != "486" {
		t.Fatalf("expected sip status meta, got %v", pe.Meta)
	}
	if pe.Timeout() {
		t.Fatalf("busy is not a timeout")
	}
}

func TestWrapProviderError_PlainAndNil(t *testing.T) {
	if wrapProviderError("x", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	base := errors.New("dial tcp: refused")
	err := wrapProviderError("create_room", base)
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped base error")
	}
	if ProviderMeta(err) != nil {
		t.Fatalf("expected no meta")
	}
}

func TestRoomConn_CloseOnce(t *testing.T) {
	c := newRoomConn()
	c.Watch("sip_1")
	if !c.watches("sip_1") || c.watches("sip_2") {
		t.Fatalf("watch set wrong")
	}
	c.close()
	c.close()
	c.Disconnect()
	select {
	case <-c.Done():
	default:
		t.Fatalf("expected done to be closed")
	}
}

func TestRoomConn_RemoteAudioWaitsForSubscription(t *testing.T) {
	c := newRoomConn()
	got := make(chan error, 1)
	go func() {
		_, err := c.RemoteAudio(context.Background(), "sip_1")
		got <- err
	}()

	c.addAudio("other", nil)
	select {
	case err := <-got:
		t.Fatalf("returned before sip_1 subscribed: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	c.addAudio("sip_1", nil)
	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("RemoteAudio: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("RemoteAudio did not wake up")
	}
}

func TestRoomConn_RemoteAudioEndsWithRoom(t *testing.T) {
	c := newRoomConn()
	c.close()
	if _, err := c.RemoteAudio(context.Background(), "sip_1"); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newRoomConn().RemoteAudio(ctx, "sip_1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := newRoomConn().PublishAudio("agent"); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("publish without a room should fail, got %v", err)
	}
}
