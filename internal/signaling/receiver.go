package signaling

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/util"
)

// Handler reacts to signaling relayed from the other endpoint.
type Handler interface {
	HandleRemoteOffer(ctx context.Context, offer webrtc.SessionDescription) error
	HandleRemoteAnswer(ctx context.Context, answer webrtc.SessionDescription) error
	HandleRemoteCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error
}

// Receive reads envelopes until the channel fails and dispatches them to h
// in arrival order. Handler errors are logged and do not stop the loop; the
// returned error is always the read error that ended it.
func (c *Client) Receive(ctx context.Context, h Handler) error {
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("failed to read from relay: %w", err)
		}

		if err := dispatch(ctx, h, env); err != nil {
			util.LogWarning("signaling %s from %s: %v", env.Event, env.From, err)
		}
	}
}

func dispatch(ctx context.Context, h Handler, env Envelope) error {
	switch env.Event {
	case EventRequest:
		offer, err := DecodeOffer(env)
		if err != nil {
			return err
		}
		return h.HandleRemoteOffer(ctx, offer)

	case EventResponse:
		answer, err := DecodeAnswer(env)
		if err != nil {
			return err
		}
		return h.HandleRemoteAnswer(ctx, answer)

	case EventICECandidate:
		candidate, err := DecodeCandidate(env)
		if err != nil {
			return err
		}
		return h.HandleRemoteCandidate(ctx, candidate)

	default:
		util.LogDebug("ignoring signaling event %q", env.Event)
		return nil
	}
}
