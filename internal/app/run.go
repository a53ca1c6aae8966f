// Package app wires the relay and the calling endpoints into runnable roles.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/relay"
	"github.com/1ureka/p2pcall/internal/util"
)

// Run executes role until ctx is cancelled or the call ends.
func Run(ctx context.Context, cfg *config.Config, role config.Role) error {
	switch role {
	case config.RoleRelay:
		return RunRelay(ctx, cfg.Relay)
	case config.RoleCaller, config.RoleCallee:
		return RunEndpoint(ctx, cfg.Endpoint, role)
	default:
		return fmt.Errorf("unknown role %q", role)
	}
}

// RunRelay serves the signaling relay until ctx is cancelled.
func RunRelay(ctx context.Context, cfg config.RelayConfig) error {
	srv := relay.NewServer(cfg, relay.New())
	util.StartStatsReporter(ctx, 5*time.Second)
	return srv.ListenAndServe(ctx)
}

// RunEndpoint joins the relay as caller or callee, negotiates a call and keeps
// media flowing until ctx is cancelled or the peer connection ends.
func RunEndpoint(ctx context.Context, cfg config.EndpointConfig, role config.Role) error {
	call, err := Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer call.Close()

	if err := call.Start(ctx, role); err != nil {
		return fmt.Errorf("failed to start call: %w", err)
	}
	if role == config.RoleCallee {
		util.LogInfo("waiting for an incoming call")
	}

	state, err := call.Engine.Wait(ctx)
	switch {
	case ctx.Err() != nil:
		return nil
	case err != nil:
		return err
	case state != negotiation.StateConnected:
		return nil
	}

	util.LogSuccess("call established")
	util.StartStatsReporter(ctx, time.Second)
	defer call.logTracks()

	select {
	case <-ctx.Done():
		return nil
	case <-call.Engine.Done():
		if err := call.Engine.Err(); err != nil {
			return err
		}
		util.LogInfo("peer hung up")
		return nil
	}
}
