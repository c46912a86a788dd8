package telephony

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// OpusCodec is the codec of every audio track this service reads or writes.
// Room tracks and the model link both carry Opus, so packets are forwarded
// without transcoding.
var OpusCodec = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeOpus,
	ClockRate:   48000,
	Channels:    2,
	SDPFmtpLine: "minptime=10;useinbandfec=1",
}

// RTPReader yields the packets of a remote audio track.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, error)
}

// RTPWriter accepts packets for a local audio track.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// TrackReader adapts a subscribed WebRTC track to RTPReader.
func TrackReader(t *webrtc.TrackRemote) RTPReader { return remoteTrack{t: t} }

type remoteTrack struct{ t *webrtc.TrackRemote }

func (r remoteTrack) ReadRTP() (*rtp.Packet, error) {
	p, _, err := r.t.ReadRTP()
	return p, err
}

// NewOpusTrack returns a local Opus track that can be both published and
// written to.
func NewOpusTrack(id, stream string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(OpusCodec, id, stream)
}

// Pump forwards packets from src to dst until src fails, and returns how many
// packets were forwarded along with the read error. A write error drops only
// that packet.
func Pump(src RTPReader, dst RTPWriter) (forwarded int, err error) {
	for {
		p, err := src.ReadRTP()
		if err != nil {
			return forwarded, err
		}
		if werr := dst.WriteRTP(p); werr == nil {
			forwarded++
		}
	}
}
