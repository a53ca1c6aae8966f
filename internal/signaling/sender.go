package signaling

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// send writes an envelope to the WebSocket, guarded by a mutex.
func (c *Client) send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Event, err)
	}
	return nil
}

// SendOffer transmits a call envelope.
func (c *Client) SendOffer(offer webrtc.SessionDescription) error {
	env, err := NewEnvelope(EventCall, CallPayload{Offer: offer})
	if err != nil {
		return err
	}
	return c.send(env)
}

// SendAnswer transmits an answer envelope.
func (c *Client) SendAnswer(answer webrtc.SessionDescription) error {
	env, err := NewEnvelope(EventAnswer, AnswerPayload{Answer: answer})
	if err != nil {
		return err
	}
	return c.send(env)
}

// SendCandidate transmits a candidate envelope.
func (c *Client) SendCandidate(candidate webrtc.ICECandidateInit) error {
	env, err := NewEnvelope(EventCandidate, CandidatePayload{Candidate: candidate})
	if err != nil {
		return err
	}
	return c.send(env)
}
