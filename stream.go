package mppenc

import (
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pkg/errors"
)

// A PacketSink consumes the packets a session emits. Implementations take
// ownership of each packet and must release it.
type PacketSink interface {
	Consume(pkt *Packet) error
}

// A TrackSink writes packets as media samples into a local WebRTC track so a
// hardware encode session can feed a peer connection directly.
type TrackSink struct {
	track         *webrtc.TrackLocalStaticSample
	frameDuration time.Duration
}

// NewTrackSink creates a sink around a new local track carrying the given
// MIME type (see the codec bindings for theirs). frameDuration is the
// nominal duration of one frame, i.e. the reciprocal of the frame rate.
func NewTrackSink(mimeType, name string, frameDuration time.Duration) (*TrackSink, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType},
		name,
		name,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create local track")
	}
	return &TrackSink{track: track, frameDuration: frameDuration}, nil
}

// TrackLocal returns the underlying track to add to a peer connection.
func (ts *TrackSink) TrackLocal() webrtc.TrackLocal {
	return ts.track
}

// Consume writes the packet into the track and releases it. The sample data
// is copied out first since the packet's bytes return to the device on
// release.
func (ts *TrackSink) Consume(pkt *Packet) error {
	if pkt == nil {
		return nil
	}
	defer pkt.Release()

	data := make([]byte, len(pkt.Data))
	copy(data, pkt.Data)
	return ts.track.WriteSample(media.Sample{Data: data, Duration: ts.frameDuration})
}
