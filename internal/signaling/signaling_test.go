package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// Compile-time interface check.
var _ Handler = (*mockHandler)(nil)

// mockHandler records every call it receives.
type mockHandler struct {
	offers     []webrtc.SessionDescription
	answers    []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	err        error
	calls      chan struct{}
}

func newMockHandler() *mockHandler {
	return &mockHandler{calls: make(chan struct{}, 16)}
}

func (m *mockHandler) HandleRemoteOffer(_ context.Context, o webrtc.SessionDescription) error {
	m.offers = append(m.offers, o)
	m.calls <- struct{}{}
	return m.err
}

func (m *mockHandler) HandleRemoteAnswer(_ context.Context, a webrtc.SessionDescription) error {
	m.answers = append(m.answers, a)
	m.calls <- struct{}{}
	return m.err
}

func (m *mockHandler) HandleRemoteCandidate(_ context.Context, c webrtc.ICECandidateInit) error {
	m.candidates = append(m.candidates, c)
	m.calls <- struct{}{}
	return m.err
}

var (
	testOffer     = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n"}
	testAnswer    = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\no=- 2 2 IN IP4 0.0.0.0\r\n"}
	testCandidate = webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 5000 typ host"}
)

func TestRelayedEventNames(t *testing.T) {
	testCases := []struct {
		in   Event
		want Event
		ok   bool
	}{
		{EventCall, EventRequest, true},
		{EventAnswer, EventResponse, true},
		{EventCandidate, EventICECandidate, true},
		{EventRequest, "", false},
		{EventWelcome, "", false},
		{"hangup", "", false},
	}

	for _, tc := range testCases {
		got, ok := Relayed(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("Relayed(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

// TestEnvelopeWireShape pins the JSON layout other endpoints depend on.
func TestEnvelopeWireShape(t *testing.T) {
	env, err := NewEnvelope(EventCall, CallPayload{Offer: testOffer})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var shape struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if shape.Event != "call" {
		t.Errorf("event = %q, want call", shape.Event)
	}

	var data map[string]map[string]string
	if err := json.Unmarshal(shape.Data, &data); err != nil {
		t.Fatalf("data not an object: %v", err)
	}
	if data["offer"]["type"] != "offer" || data["offer"]["sdp"] != testOffer.SDP {
		t.Errorf("unexpected data: %s", shape.Data)
	}
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	testCases := []struct {
		name   string
		env    Envelope
		decode func(Envelope) error
	}{
		{
			name:   "offer without data",
			env:    Envelope{Event: EventRequest},
			decode: func(e Envelope) error { _, err := DecodeOffer(e); return err },
		},
		{
			name:   "offer with answer type",
			env:    Envelope{Event: EventRequest, Data: json.RawMessage(`{"offer":{"type":"answer","sdp":"x"}}`)},
			decode: func(e Envelope) error { _, err := DecodeOffer(e); return err },
		},
		{
			name:   "answer with broken json",
			env:    Envelope{Event: EventResponse, Data: json.RawMessage(`{"answer":`)},
			decode: func(e Envelope) error { _, err := DecodeAnswer(e); return err },
		},
		{
			name:   "empty candidate",
			env:    Envelope{Event: EventICECandidate, Data: json.RawMessage(`{"candidate":{"candidate":""}}`)},
			decode: func(e Envelope) error { _, err := DecodeCandidate(e); return err },
		},
		{
			name:   "welcome without id",
			env:    Envelope{Event: EventWelcome, Data: json.RawMessage(`{}`)},
			decode: func(e Envelope) error { _, err := DecodeWelcome(e); return err },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.decode(tc.env)
			if !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}

func TestDispatchRoutesByEvent(t *testing.T) {
	h := newMockHandler()
	ctx := context.Background()

	mustEnvelope := func(e Event, p any) Envelope {
		env, err := NewEnvelope(e, p)
		if err != nil {
			t.Fatalf("NewEnvelope: %v", err)
		}
		return env
	}

	inputs := []Envelope{
		mustEnvelope(EventRequest, CallPayload{Offer: testOffer}),
		mustEnvelope(EventResponse, AnswerPayload{Answer: testAnswer}),
		mustEnvelope(EventICECandidate, CandidatePayload{Candidate: testCandidate}),
		{Event: "something-else"},
	}
	for _, env := range inputs {
		if err := dispatch(ctx, h, env); err != nil {
			t.Fatalf("dispatch(%s) failed: %v", env.Event, err)
		}
	}

	if len(h.offers) != 1 || h.offers[0].SDP != testOffer.SDP {
		t.Errorf("offers = %v", h.offers)
	}
	if len(h.answers) != 1 || h.answers[0].SDP != testAnswer.SDP {
		t.Errorf("answers = %v", h.answers)
	}
	if len(h.candidates) != 1 || h.candidates[0].Candidate != testCandidate.Candidate {
		t.Errorf("candidates = %v", h.candidates)
	}
}

// fakeRelay is a minimal WS endpoint: it greets with a welcome, then echoes
// every call back as a request so the client's full loop can be exercised.
func fakeRelay(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		welcome, _ := NewEnvelope(EventWelcome, WelcomePayload{ID: "endpoint-1"})
		if err := conn.WriteJSON(welcome); err != nil {
			return
		}

		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			out, ok := Relayed(env.Event)
			if !ok {
				continue
			}
			env.Event = out
			env.From = "endpoint-0"
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientDialSendReceive(t *testing.T) {
	srv := fakeRelay(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	if c.ID() != "endpoint-1" {
		t.Fatalf("ID = %q, want endpoint-1", c.ID())
	}

	h := newMockHandler()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Receive(ctx, h) }()

	if err := c.SendOffer(testOffer); err != nil {
		t.Fatalf("SendOffer: %v", err)
	}
	if err := c.SendCandidate(testCandidate); err != nil {
		t.Fatalf("SendCandidate: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-h.calls:
		case <-ctx.Done():
			t.Fatal("timed out waiting for echoed signaling")
		}
	}

	if len(h.offers) != 1 || len(h.candidates) != 1 {
		t.Fatalf("offers=%d candidates=%d, want 1 and 1", len(h.offers), len(h.candidates))
	}

	c.Close()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Receive should return an error once the channel closes")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Receive did not return after Close")
	}
}

func TestDialRejectsBadGreeting(t *testing.T) {
	testCases := []struct {
		name  string
		greet func(conn *websocket.Conn)
	}{
		{"hang up before welcome", func(*websocket.Conn) {}},
		{"wrong first event", func(conn *websocket.Conn) {
			env, _ := NewEnvelope(EventRequest, CallPayload{Offer: testOffer})
			_ = conn.WriteJSON(env)
		}},
		{"welcome without id", func(conn *websocket.Conn) {
			_ = conn.WriteJSON(Envelope{Event: EventWelcome, Data: json.RawMessage(`{}`)})
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			upgrader := websocket.Upgrader{}
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				conn, err := upgrader.Upgrade(w, r, nil)
				if err != nil {
					return
				}
				defer conn.Close()
				tc.greet(conn)
			}))
			defer srv.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			c, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
			if err == nil {
				c.Close()
				t.Fatal("expected Dial to fail")
			}
		})
	}
}
