package telephony

import (
	"context"
	"time"
)

// The interfaces below are the only way call logic talks to the telephony
// platform.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Request/response types stay provider-agnostic; provider diagnostics
//   travel in ProviderError.Meta.

// RoomService creates and removes conversation rooms.
type RoomService interface {
	CreateRoom(ctx context.Context, req CreateRoomRequest) (Room, error)
	DeleteRoom(ctx context.Context, name string) error
}

// Dispatcher asks the platform to run an agent job in a room.
type Dispatcher interface {
	CreateDispatch(ctx context.Context, req DispatchRequest) (Dispatch, error)
}

// Dialer places an outbound PSTN call into a room. Dial blocks until the
// callee answers, rejects, or ctx expires.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (DialResult, error)
}

// Transferer moves an answered SIP participant to another number.
type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) error
}

// RoomConnector joins a room as a participant.
type RoomConnector interface {
	Connect(ctx context.Context, req ConnectRequest) (RoomConn, error)
}

// ConnectRequest names the room to join. Token and URL come from a job
// assignment; when Token is empty the adapter mints one for Identity.
type ConnectRequest struct {
	Room     string
	Identity string
	Token    string
	URL      string
}

// RoomConn is a live room connection. Done is closed once the room is
// closed, this connection drops, or the watched participant leaves.
type RoomConn interface {
	Done() <-chan struct{}
	// Watch makes the departure of identity end the connection.
	Watch(identity string)
	// RemoteAudio waits for identity's audio track.
	RemoteAudio(ctx context.Context, identity string) (RTPReader, error)
	// PublishAudio publishes a local audio track into the room.
	PublishAudio(name string) (RTPWriter, error)
	Disconnect()
}

type CreateRoomRequest struct {
	Name            string
	EmptyTimeout    time.Duration
	MaxParticipants uint32
	Metadata        string
}

type Room struct {
	Name string
	SID  string
}

type DispatchRequest struct {
	Room      string
	AgentName string
	Metadata  string
}

type Dispatch struct {
	ID   string
	Room string
}

type DialRequest struct {
	TrunkID             string
	To                  string
	From                string
	Room                string
	ParticipantIdentity string
	ParticipantName     string
}

type DialResult struct {
	ParticipantID       string
	ParticipantIdentity string
	SIPCallID           string
}

type TransferRequest struct {
	Room                string
	ParticipantIdentity string
	To                  string
}
