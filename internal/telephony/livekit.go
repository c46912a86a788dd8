package telephony

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"chamada/internal/config"
)

// TokenIssuer mints room-join tokens for Connect.
type TokenIssuer interface {
	RoomJoin(now time.Time, room, identity string) (string, error)
}

// LiveKit implements every telephony interface on top of the LiveKit
// server APIs and its SIP bridge.
type LiveKit struct {
	url    string
	rooms  *lksdk.RoomServiceClient
	agents *lksdk.AgentDispatchClient
	sip    *lksdk.SIPClient
	tokens TokenIssuer
	now    func() time.Time
}

var (
	_ RoomService   = (*LiveKit)(nil)
	_ Dispatcher    = (*LiveKit)(nil)
	_ Dialer        = (*LiveKit)(nil)
	_ Transferer    = (*LiveKit)(nil)
	_ RoomConnector = (*LiveKit)(nil)
)

func NewLiveKit(cfg config.LiveKitConfig, tokens TokenIssuer) (*LiveKit, error) {
	if !cfg.Configured() {
		return nil, errors.New("telephony: livekit url and credentials are required")
	}
	if tokens == nil {
		return nil, errors.New("telephony: token issuer is required")
	}
	return &LiveKit{
		url:    cfg.URL,
		rooms:  lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		agents: lksdk.NewAgentDispatchServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		sip:    lksdk.NewSIPClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		tokens: tokens,
		now:    time.Now,
	}, nil
}

func (l *LiveKit) CreateRoom(ctx context.Context, req CreateRoomRequest) (Room, error) {
	r, err := l.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            req.Name,
		EmptyTimeout:    uint32(req.EmptyTimeout / time.Second),
		MaxParticipants: req.MaxParticipants,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return Room{}, wrapProviderError("create_room", err)
	}
	return Room{Name: r.GetName(), SID: r.GetSid()}, nil
}

func (l *LiveKit) DeleteRoom(ctx context.Context, name string) error {
	_, err := l.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: name})
	return wrapProviderError("delete_room", err)
}

func (l *LiveKit) CreateDispatch(ctx context.Context, req DispatchRequest) (Dispatch, error) {
	d, err := l.agents.CreateDispatch(ctx, &livekit.CreateAgentDispatchRequest{
		AgentName: req.AgentName,
		Room:      req.Room,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return Dispatch{}, wrapProviderError("create_dispatch", err)
	}
	return Dispatch{ID: d.GetId(), Room: d.GetRoom()}, nil
}

func (l *LiveKit) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	info, err := l.sip.CreateSIPParticipant(ctx, &livekit.CreateSIPParticipantRequest{
		SipTrunkId:          req.TrunkID,
		SipCallTo:           DialTarget(req.To),
		SipNumber:           req.From,
		RoomName:            req.Room,
		ParticipantIdentity: req.ParticipantIdentity,
		ParticipantName:     req.ParticipantName,
		WaitUntilAnswered:   true,
		KrispEnabled:        true,
	})
	if err != nil {
		return DialResult{}, wrapProviderError("create_sip_participant", err)
	}
	return DialResult{
		ParticipantID:       info.GetParticipantId(),
		ParticipantIdentity: info.GetParticipantIdentity(),
		SIPCallID:           info.GetSipCallId(),
	}, nil
}

func (l *LiveKit) Transfer(ctx context.Context, req TransferRequest) error {
	_, err := l.sip.TransferSIPParticipant(ctx, &livekit.TransferSIPParticipantRequest{
		ParticipantIdentity: req.ParticipantIdentity,
		RoomName:            req.Room,
		TransferTo:          TransferTarget(req.To),
		PlayDialtone:        false,
	})
	return wrapProviderError("transfer_sip_participant", err)
}

// Connect joins req.Room. A job assignment supplies its own token and url;
// otherwise a token is minted for req.Identity. The SDK connect call is not
// cancellable, so a connection that completes after ctx is done is closed
// straight away.
func (l *LiveKit) Connect(ctx context.Context, req ConnectRequest) (RoomConn, error) {
	token := req.Token
	if token == "" {
		var err error
		if token, err = l.tokens.RoomJoin(l.now(), req.Room, req.Identity); err != nil {
			return nil, err
		}
	}
	url := req.URL
	if url == "" {
		url = l.url
	}

	conn := newRoomConn()
	cb := &lksdk.RoomCallback{
		OnDisconnected: conn.close,
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			if conn.watches(rp.Identity()) {
				conn.close()
			}
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() == webrtc.RTPCodecTypeAudio {
					conn.addAudio(rp.Identity(), track)
				}
			},
		},
	}

	type result struct {
		room *lksdk.Room
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		r, err := lksdk.ConnectToRoomWithToken(url, token, cb, lksdk.WithAutoSubscribe(true))
		ch <- result{room: r, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, wrapProviderError("connect_room", res.err)
		}
		conn.room = res.room
		return conn, nil
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.room != nil {
				res.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

type roomConn struct {
	room *lksdk.Room

	mu      sync.Mutex
	watched map[string]struct{}
	audio   map[string]*webrtc.TrackRemote
	arrived chan struct{}
	done    chan struct{}
	closed  bool
}

func newRoomConn() *roomConn {
	return &roomConn{
		watched: map[string]struct{}{},
		audio:   map[string]*webrtc.TrackRemote{},
		arrived: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *roomConn) Done() <-chan struct{} { return c.done }

func (c *roomConn) Watch(identity string) {
	c.mu.Lock()
	c.watched[identity] = struct{}{}
	c.mu.Unlock()
}

func (c *roomConn) watches(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watched[identity]
	return ok
}

// addAudio records a subscribed audio track and wakes RemoteAudio waiters.
func (c *roomConn) addAudio(identity string, t *webrtc.TrackRemote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio[identity] = t
	close(c.arrived)
	c.arrived = make(chan struct{})
}

// RemoteAudio returns identity's audio track, waiting for the subscription
// when the participant has not published yet.
func (c *roomConn) RemoteAudio(ctx context.Context, identity string) (RTPReader, error) {
	for {
		c.mu.Lock()
		t, ok := c.audio[identity]
		arrived := c.arrived
		c.mu.Unlock()
		if ok {
			return TrackReader(t), nil
		}

		select {
		case <-arrived:
		case <-c.done:
			return nil, ErrRoomClosed
		case <-ctx.Done():
			return nil, fmt.Errorf("telephony: waiting for %s audio: %w", identity, ctx.Err())
		}
	}
}

// PublishAudio publishes an Opus microphone track named name.
func (c *roomConn) PublishAudio(name string) (RTPWriter, error) {
	if c.room == nil {
		return nil, ErrRoomClosed
	}
	track, err := NewOpusTrack(name, name)
	if err != nil {
		return nil, err
	}
	if _, err := c.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   name,
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		return nil, wrapProviderError("publish_track", err)
	}
	return track, nil
}

func (c *roomConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

func (c *roomConn) Disconnect() {
	if c.room != nil {
		c.room.Disconnect()
	}
	c.close()
}
