// Package signaling defines the relay wire format and the endpoint-side
// WebSocket client that carries offers, answers and ICE candidates.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Event names the kind of envelope on the wire.
type Event string

// Endpoint → relay.
const (
	EventCall      Event = "call"
	EventAnswer    Event = "answer"
	EventCandidate Event = "candidate"
)

// Relay → endpoint.
const (
	EventRequest      Event = "request"
	EventResponse     Event = "response"
	EventICECandidate Event = "icecandidate"
	EventWelcome      Event = "welcome"
)

var (
	ErrUnknownEvent     = errors.New("unknown signaling event")
	ErrMalformedPayload = errors.New("malformed signaling payload")
)

// relayed maps an inbound event to the name it is rebroadcast under.
var relayed = map[Event]Event{
	EventCall:      EventRequest,
	EventAnswer:    EventResponse,
	EventCandidate: EventICECandidate,
}

// Relayed returns the outbound event for an inbound one. ok is false for
// events the relay does not forward.
func Relayed(e Event) (out Event, ok bool) {
	out, ok = relayed[e]
	return out, ok
}

// Envelope is one JSON frame. Data is opaque to the relay and forwarded
// byte-for-byte; From is stamped by the relay from the channel identity.
type Envelope struct {
	Event Event           `json:"event"`
	From  string          `json:"from,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CallPayload is the data of call/request.
type CallPayload struct {
	Offer webrtc.SessionDescription `json:"offer"`
}

// AnswerPayload is the data of answer/response.
type AnswerPayload struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

// CandidatePayload is the data of candidate/icecandidate.
type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// WelcomePayload tells a freshly connected endpoint its relay-assigned id.
type WelcomePayload struct {
	ID string `json:"id"`
}

// NewEnvelope marshals payload as the data of an envelope.
func NewEnvelope(event Event, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// DecodeOffer extracts the session description from a call/request envelope.
func DecodeOffer(env Envelope) (webrtc.SessionDescription, error) {
	var p CallPayload
	if err := decode(env, &p); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if p.Offer.Type != webrtc.SDPTypeOffer || p.Offer.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s carries no offer", ErrMalformedPayload, env.Event)
	}
	return p.Offer, nil
}

// DecodeAnswer extracts the session description from an answer/response envelope.
func DecodeAnswer(env Envelope) (webrtc.SessionDescription, error) {
	var p AnswerPayload
	if err := decode(env, &p); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if p.Answer.Type != webrtc.SDPTypeAnswer || p.Answer.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s carries no answer", ErrMalformedPayload, env.Event)
	}
	return p.Answer, nil
}

// DecodeCandidate extracts the ICE candidate from a candidate/icecandidate envelope.
func DecodeCandidate(env Envelope) (webrtc.ICECandidateInit, error) {
	var p CandidatePayload
	if err := decode(env, &p); err != nil {
		return webrtc.ICECandidateInit{}, err
	}
	if p.Candidate.Candidate == "" {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: %s carries no candidate", ErrMalformedPayload, env.Event)
	}
	return p.Candidate, nil
}

// DecodeWelcome extracts the endpoint id from a welcome envelope.
func DecodeWelcome(env Envelope) (string, error) {
	var p WelcomePayload
	if err := decode(env, &p); err != nil {
		return "", err
	}
	if p.ID == "" {
		return "", fmt.Errorf("%w: welcome carries no id", ErrMalformedPayload)
	}
	return p.ID, nil
}

func decode(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformedPayload, env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, env.Event, err)
	}
	return nil
}
