package media

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/util"
)

// keyframeInterval is how often a PLI is sent for each remote video track.
const keyframeInterval = 3 * time.Second

// RTCPWriter is implemented by *webrtc.PeerConnection.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// TrackStats summarizes one remote track.
type TrackStats struct {
	ID      string
	Kind    webrtc.RTPCodecType
	Packets int64
	Bytes   int64
	Lost    int64
}

// Sink consumes remote tracks: it drains their RTP, counts it and asks video
// senders for periodic keyframes.
type Sink struct {
	writer RTCPWriter

	mu     sync.Mutex
	tracks map[string]*TrackStats
	first  chan struct{}
	once   sync.Once
}

// NewSink creates a sink. writer may be nil, in which case no PLIs are sent.
func NewSink(writer RTCPWriter) *Sink {
	return &Sink{
		writer: writer,
		tracks: make(map[string]*TrackStats),
		first:  make(chan struct{}),
	}
}

// FirstTrack returns a channel closed once any remote track has arrived.
func (s *Sink) FirstTrack() <-chan struct{} { return s.first }

// Tracks returns a snapshot of per-track counters.
func (s *Sink) Tracks() []TrackStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TrackStats, 0, len(s.tracks))
	for _, st := range s.tracks {
		out = append(out, *st)
	}
	return out
}

// OnRemoteTrack starts draining track in its own goroutine.
func (s *Sink) OnRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	st := &TrackStats{ID: track.ID(), Kind: track.Kind()}

	s.mu.Lock()
	s.tracks[st.ID] = st
	s.mu.Unlock()
	s.once.Do(func() { close(s.first) })

	util.LogInfo("remote %s track %s (%s)", track.Kind(), track.ID(), track.Codec().MimeType)

	done := make(chan struct{})
	go s.read(track, st, done)

	if track.Kind() == webrtc.RTPCodecTypeVideo && s.writer != nil {
		go s.requestKeyframes(uint32(track.SSRC()), done)
	}
}

func (s *Sink) read(track *webrtc.TrackRemote, st *TrackStats, done chan struct{}) {
	defer close(done)

	var (
		pkt  *rtp.Packet
		err  error
		last uint16
		seen bool
	)
	for {
		if pkt, _, err = track.ReadRTP(); err != nil {
			util.LogDebug("remote %s track %s ended: %v", st.Kind, st.ID, err)
			return
		}

		var gap uint16
		if seen {
			gap = seqGap(last, pkt.SequenceNumber)
		}
		last, seen = pkt.SequenceNumber, true

		s.mu.Lock()
		st.Packets++
		st.Bytes += int64(len(pkt.Payload))
		st.Lost += int64(gap)
		s.mu.Unlock()

		util.Stats.AddRecv(len(pkt.Payload))
		if gap > 0 {
			util.Stats.AddLoss(gap)
		}
	}
}

func (s *Sink) requestKeyframes(ssrc uint32, done <-chan struct{}) {
	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.writer.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
				util.LogDebug("PLI for %d: %v", ssrc, err)
			}
		case <-done:
			return
		}
	}
}

// seqGap returns how many packets are missing between prev and cur. Reordered
// or duplicate packets (cur not ahead of prev) count as no gap.
func seqGap(prev, cur uint16) uint16 {
	diff := cur - prev
	if diff == 0 || diff >= 0x8000 {
		return 0
	}
	return diff - 1
}
