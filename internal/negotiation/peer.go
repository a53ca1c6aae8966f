package negotiation

import (
	"fmt"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/util"
)

// PeerConnection is the part of a WebRTC peer connection the engine drives.
// Callbacks may fire on any goroutine.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) error

	// OnLocalCandidate is invoked for each gathered candidate; end of
	// gathering is not reported.
	OnLocalCandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnRemoteTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))

	Close() error
}

// PeerConfig configures the pion peer connection.
type PeerConfig struct {
	STUNServers []string

	// IncludeLoopback gathers 127.0.0.1 candidates, which pion skips by
	// default. Needed when both endpoints run on one host without a LAN.
	IncludeLoopback bool

	// DisableMDNS publishes raw host addresses instead of .local names.
	DisableMDNS bool
}

// NewAPI builds a pion API with default codecs and interceptors whose
// internal logging goes through util.
func NewAPI(cfg PeerConfig) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: util.NewPionLoggerFactory()}
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)
	if cfg.DisableMDNS {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

// PionPeer adapts *webrtc.PeerConnection to PeerConnection.
type PionPeer struct {
	pc *webrtc.PeerConnection
}

var _ PeerConnection = (*PionPeer)(nil)

// NewPionPeer creates a peer connection configured with cfg's STUN servers.
func NewPionPeer(cfg PeerConfig) (*PionPeer, error) {
	api, err := NewAPI(cfg)
	if err != nil {
		return nil, err
	}

	var servers []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}
	return &PionPeer{pc: pc}, nil
}

func (p *PionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *PionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *PionPeer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

func (p *PionPeer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

func (p *PionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// AddTrack attaches track and drains the sender's incoming RTCP so the
// interceptors (NACK, reports) keep working.
func (p *PionPeer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *PionPeer) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (p *PionPeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *PionPeer) OnRemoteTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.pc.OnTrack(fn)
}

// WriteRTCP lets the media sink send feedback on this connection.
func (p *PionPeer) WriteRTCP(pkts []rtcp.Packet) error {
	return p.pc.WriteRTCP(pkts)
}

func (p *PionPeer) Close() error {
	return p.pc.Close()
}
