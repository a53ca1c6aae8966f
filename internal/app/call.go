package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/media"
	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/util"
)

// Call is one endpoint: a relay channel, a peer connection with media
// attached, and the engine negotiating between them.
type Call struct {
	Engine  *negotiation.Engine
	Capture *media.Capture

	client *signaling.Client
	peer   *negotiation.PionPeer
	closed atomic.Bool
}

// Dial connects to the relay, creates the peer connection and attaches the
// synthetic capture. Nothing is negotiated until Start.
func Dial(ctx context.Context, cfg config.EndpointConfig) (*Call, error) {
	client, err := signaling.Dial(ctx, cfg.RelayURL)
	if err != nil {
		return nil, err
	}
	util.LogInfo("connected to relay as %s", client.ID())

	peer, err := negotiation.NewPionPeer(negotiation.PeerConfig{
		STUNServers:     cfg.STUNServers,
		IncludeLoopback: cfg.IncludeLoopback,
		DisableMDNS:     cfg.DisableMDNS,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	capture := media.NewCapture(media.GeneratorConfig{Audio: cfg.Audio, Video: cfg.Video}, peer)
	engine := negotiation.New(ctx, peer, client, negotiation.WithTimeout(cfg.NegotiationTimeout))

	if err := engine.AttachMedia(ctx, capture); err != nil {
		engine.Close()
		capture.Close()
		client.Close()
		return nil, err
	}

	return &Call{
		Engine:  engine,
		Capture: capture,
		client:  client,
		peer:    peer,
	}, nil
}

// ID returns the relay-assigned endpoint id.
func (c *Call) ID() string { return c.client.ID() }

// Start begins receiving relayed signaling. A caller also sends its offer;
// a callee waits for one.
func (c *Call) Start(ctx context.Context, role config.Role) error {
	go c.receive(ctx)

	if role != config.RoleCaller {
		return nil
	}
	return c.Engine.StartCall(ctx)
}

func (c *Call) receive(ctx context.Context) {
	err := c.client.Receive(ctx, c.Engine)
	if c.closed.Load() {
		return
	}
	select {
	case <-c.Engine.Connected():
		util.LogInfo("relay channel closed, media continues peer to peer: %v", err)
		return
	default:
	}
	util.LogWarning("relay channel lost: %v", err)
	c.Engine.TransportLost()
}

// Close ends the negotiation, stops the local media and leaves the relay.
func (c *Call) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.Engine.Close()
	if cerr := c.Capture.Close(); err == nil {
		err = cerr
	}
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// logTracks reports what each remote track delivered.
func (c *Call) logTracks() {
	for _, st := range c.Capture.Tracks() {
		util.LogWith("remote track",
			"id", st.ID,
			"kind", st.Kind.String(),
			"packets", st.Packets,
			"bytes", st.Bytes,
			"lost", st.Lost,
		)
	}
}
