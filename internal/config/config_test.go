package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Relay.Port != 4000 {
		t.Errorf("Port = %d, want 4000", cfg.Relay.Port)
	}
	if cfg.Relay.Addr() != ":4000" {
		t.Errorf("Addr = %q, want %q", cfg.Relay.Addr(), ":4000")
	}
	if cfg.Endpoint.NegotiationTimeout != 30*time.Second {
		t.Errorf("NegotiationTimeout = %s, want 30s", cfg.Endpoint.NegotiationTimeout)
	}
	if len(cfg.Endpoint.STUNServers) != len(DefaultSTUNServers) {
		t.Errorf("STUNServers = %v, want defaults", cfg.Endpoint.STUNServers)
	}
	if !cfg.Endpoint.Audio || !cfg.Endpoint.Video {
		t.Errorf("Audio/Video should default to true")
	}
	if cfg.Relay.OutboxSize != 64 {
		t.Errorf("OutboxSize = %d, want 64", cfg.Relay.OutboxSize)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "5001")
	t.Setenv("RELAY_HOST", "127.0.0.1")
	t.Setenv("ALLOWED_ORIGIN", "http://a.test,http://b.test")
	t.Setenv("STUN_SERVERS", "stun:example.test:3478")
	t.Setenv("NEGOTIATION_TIMEOUT", "5s")
	t.Setenv("VIDEO", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := cfg.Relay.Addr(); got != "127.0.0.1:5001" {
		t.Errorf("Addr = %q", got)
	}
	if len(cfg.Relay.AllowedOrigins) != 2 || cfg.Relay.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("AllowedOrigins = %v", cfg.Relay.AllowedOrigins)
	}
	if len(cfg.Endpoint.STUNServers) != 1 || cfg.Endpoint.STUNServers[0] != "stun:example.test:3478" {
		t.Errorf("STUNServers = %v", cfg.Endpoint.STUNServers)
	}
	if cfg.Endpoint.NegotiationTimeout != 5*time.Second {
		t.Errorf("NegotiationTimeout = %s", cfg.Endpoint.NegotiationTimeout)
	}
	if cfg.Endpoint.Video {
		t.Errorf("Video should be disabled")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name, key, value string
	}{
		{"port not a number", "PORT", "abc"},
		{"port out of range", "PORT", "70000"},
		{"negative timeout", "NEGOTIATION_TIMEOUT", "-1s"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"relay", "caller", "callee"} {
		if _, err := ParseRole(s); err != nil {
			t.Errorf("ParseRole(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseRole("host"); err == nil {
		t.Error("ParseRole(host) should fail")
	}
}
