package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/p2pcall/internal/util"
)

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = time.Second / 30
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// vp8Placeholder is a fixed payload standing in for an encoded frame; the
// receiving side only counts it.
var vp8Placeholder = append([]byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}, make([]byte, 512)...)

// GeneratorConfig selects which synthetic devices exist.
type GeneratorConfig struct {
	Audio    bool
	Video    bool
	StreamID string
}

// Generator is a synthetic capture device: it produces an Opus audio track
// and a VP8 video track filled with placeholder frames.
type Generator struct {
	cfg GeneratorConfig

	mu     sync.Mutex
	tracks []*webrtc.TrackLocalStaticSample
	cancel context.CancelFunc
	closed bool
	pumps  sync.WaitGroup
}

// NewGenerator creates a generator. Nothing is opened until AcquireLocalTracks.
func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.StreamID == "" {
		cfg.StreamID = "p2pcall"
	}
	return &Generator{cfg: cfg}
}

// AcquireLocalTracks opens the enabled sources and starts feeding them.
// Calling it again returns the already opened tracks.
func (g *Generator) AcquireLocalTracks(ctx context.Context) ([]webrtc.TrackLocal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, fmt.Errorf("%w: generator closed", ErrDeviceUnavailable)
	}

	if len(g.tracks) == 0 {
		if !g.cfg.Audio && !g.cfg.Video {
			return nil, fmt.Errorf("%w: audio and video are both disabled", ErrDeviceUnavailable)
		}

		ctx, g.cancel = context.WithCancel(ctx)

		if g.cfg.Audio {
			track, err := webrtc.NewTrackLocalStaticSample(
				webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
				"audio", g.cfg.StreamID,
			)
			if err != nil {
				g.stop()
				return nil, fmt.Errorf("%w: audio: %v", ErrDeviceUnavailable, err)
			}
			g.tracks = append(g.tracks, track)
			g.start(ctx, track, opusSilence, audioFrameInterval)
		}

		if g.cfg.Video {
			track, err := webrtc.NewTrackLocalStaticSample(
				webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
				"video", g.cfg.StreamID,
			)
			if err != nil {
				g.stop()
				g.tracks = nil
				return nil, fmt.Errorf("%w: video: %v", ErrDeviceUnavailable, err)
			}
			g.tracks = append(g.tracks, track)
			g.start(ctx, track, vp8Placeholder, videoFrameInterval)
		}
	}

	out := make([]webrtc.TrackLocal, len(g.tracks))
	for i, t := range g.tracks {
		out[i] = t
	}
	return out, nil
}

// Close stops feeding every opened track and waits for the feeders to exit.
// Safe to call more than once.
func (g *Generator) Close() error {
	g.mu.Lock()
	g.closed = true
	g.stop()
	g.mu.Unlock()

	g.pumps.Wait()
	return nil
}

func (g *Generator) start(ctx context.Context, track *webrtc.TrackLocalStaticSample, frame []byte, interval time.Duration) {
	g.pumps.Add(1)
	go func() {
		defer g.pumps.Done()
		pump(ctx, track, frame, interval)
	}()
}

// stop cancels the feeders. Callers hold g.mu.
func (g *Generator) stop() {
	if g.cancel != nil {
		g.cancel()
	}
}

// pump writes frame to track every interval until ctx is cancelled. Writes
// before the track is bound to a peer connection are discarded by pion.
func pump(ctx context.Context, track *webrtc.TrackLocalStaticSample, frame []byte, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := track.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
				util.LogDebug("%s sample write: %v", track.Kind(), err)
				continue
			}
			util.Stats.AddSent(len(frame))

		case <-ctx.Done():
			return
		}
	}
}
