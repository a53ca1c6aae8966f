// Package media is the boundary between the negotiation engine and whatever
// produces and consumes audio/video. The engine only attaches local tracks
// and hands remote tracks over; it never buffers or inspects media.
package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrDeviceUnavailable is returned when no local capture source can be opened.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// Pipeline supplies outbound tracks and receives inbound ones.
type Pipeline interface {
	// AcquireLocalTracks opens the capture sources. Tracks keep producing
	// media until ctx is cancelled.
	AcquireLocalTracks(ctx context.Context) ([]webrtc.TrackLocal, error)

	// OnRemoteTrack is invoked once per inbound track.
	OnRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

// Capture pairs a Generator (outbound) with a Sink (inbound).
type Capture struct {
	*Generator
	*Sink
}

var _ Pipeline = (*Capture)(nil)

// NewCapture builds the default pipeline used by the endpoint application.
func NewCapture(cfg GeneratorConfig, rtcpWriter RTCPWriter) *Capture {
	return &Capture{
		Generator: NewGenerator(cfg),
		Sink:      NewSink(rtcpWriter),
	}
}
