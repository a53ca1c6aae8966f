package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/signaling"
)

func startServer(t *testing.T, cfg config.RelayConfig) (*Relay, string) {
	t.Helper()
	r := New()
	srv := httptest.NewServer(NewServer(cfg, r).Handler())
	t.Cleanup(func() {
		_ = r.Shutdown()
		srv.Close()
	})
	return r, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// dialEndpoint connects and consumes the welcome envelope.
func dialEndpoint(t *testing.T, url string, header http.Header) (*websocket.Conn, string) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	env := readEnvelope(t, conn)
	id, err := signaling.DecodeWelcome(env)
	if err != nil {
		t.Fatalf("bad welcome: %v", err)
	}
	return conn, id
}

func readEnvelope(t *testing.T, conn *websocket.Conn) signaling.Envelope {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var env signaling.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return env
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var env signaling.Envelope
	err := conn.ReadJSON(&env)
	if err == nil {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func waitForEndpoints(t *testing.T, r *Relay, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for r.Registry().Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("registry len = %d, want %d", r.Registry().Len(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerBroadcastsToOtherEndpoints(t *testing.T) {
	r, url := startServer(t, config.RelayConfig{})

	a, idA := dialEndpoint(t, url, nil)
	b, _ := dialEndpoint(t, url, nil)
	c, _ := dialEndpoint(t, url, nil)
	waitForEndpoints(t, r, 3)

	offer := json.RawMessage(`{"offer":{"type":"offer","sdp":"v=0\r\n"}}`)
	if err := a.WriteJSON(signaling.Envelope{Event: signaling.EventCall, Data: offer}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	for _, conn := range []*websocket.Conn{b, c} {
		env := readEnvelope(t, conn)
		if env.Event != signaling.EventRequest || env.From != idA {
			t.Fatalf("got %+v, want request from %s", env, idA)
		}
		if got, err := signaling.DecodeOffer(env); err != nil || got.SDP != "v=0\r\n" {
			t.Fatalf("offer = %+v (%v)", got, err)
		}
	}
	expectSilence(t, a)
}

func TestServerSurvivesMalformedFrames(t *testing.T) {
	r, url := startServer(t, config.RelayConfig{})

	a, _ := dialEndpoint(t, url, nil)
	b, _ := dialEndpoint(t, url, nil)
	waitForEndpoints(t, r, 2)

	if err := a.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := a.WriteJSON(signaling.Envelope{Event: signaling.EventAnswer, Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if env := readEnvelope(t, b); env.Event != signaling.EventResponse {
		t.Fatalf("event = %q, want response", env.Event)
	}
}

func TestServerDisconnectRemovesEndpoint(t *testing.T) {
	r, url := startServer(t, config.RelayConfig{})

	a, _ := dialEndpoint(t, url, nil)
	b, _ := dialEndpoint(t, url, nil)
	waitForEndpoints(t, r, 2)

	b.Close()
	waitForEndpoints(t, r, 1)

	if err := a.WriteJSON(signaling.Envelope{Event: signaling.EventCandidate, Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	expectSilence(t, a)
}

func TestServerHealth(t *testing.T) {
	r := New()
	srv := httptest.NewServer(NewServer(config.RelayConfig{}, r).Handler())
	defer srv.Close()

	r.OnConnect(&mockEndpoint{})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Endpoints int `json:"endpoints"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Endpoints != 1 {
		t.Fatalf("endpoints = %d, want 1", body.Endpoints)
	}
}

func TestServerOriginPolicy(t *testing.T) {
	_, url := startServer(t, config.RelayConfig{AllowedOrigins: []string{"http://allowed.test"}})

	ok := http.Header{"Origin": []string{"http://allowed.test"}}
	dialEndpoint(t, url, ok)

	bad := http.Header{"Origin": []string{"http://evil.test"}}
	if conn, _, err := websocket.DefaultDialer.Dial(url, bad); err == nil {
		conn.Close()
		t.Fatal("dial from disallowed origin should fail")
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	r := New()
	srv := NewServer(config.RelayConfig{}, r)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	conn, _ := dialEndpoint(t, "ws://"+ln.Addr().String()+"/ws", nil)
	waitForEndpoints(t, r, 1)

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection should be closed after shutdown")
	}
}
