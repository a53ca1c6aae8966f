// Command p2pcall runs the call relay or one of its endpoints.
//
// One binary plays any of three roles: the signaling relay, or one of the two
// calling endpoints. Endpoints only need the relay until the peer connection
// is up; media then flows directly between them.
//
// It can be launched interactively (no -role flag) or non-interactively via
// CLI flags (-role, -port, -relayUrl). Everything else comes from the
// environment or a .env file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/p2pcall/internal/app"
	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	roleFlag := flag.String("role", "", "Role: relay, caller or callee")
	port := flag.Int("port", 0, "Relay listen port (relay only, overrides PORT)")
	relayURLFlag := flag.String("relayUrl", "", "Relay WebSocket URL (caller/callee, overrides RELAY_URL)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if *debugMode || cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("p2pcall — v%s", version))
	pterm.Println()

	var role config.Role
	if *roleFlag == "" {
		// No -role flag → interactive mode.
		role = askRole()
	} else if role, err = config.ParseRole(*roleFlag); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if *port != 0 {
		if *port < 1 || *port > 65535 {
			util.LogError("invalid -port (must be 1~65535)")
			os.Exit(1)
		}
		cfg.Relay.Port = *port
	}

	if *relayURLFlag != "" {
		relayURL, err := normalizeWSURL(*relayURLFlag)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg.Endpoint.RelayURL = relayURL
	}

	if err := app.Run(ctx, cfg, role); err != nil {
		util.LogError("%s stopped: %v", role, err)
		os.Exit(1)
	}

	util.LogInfo("successfully shut down %s", role)
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askRole prompts for a role when none was given on the command line.
func askRole() config.Role {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Relay  — Forward signaling between endpoints",
			"Caller — Start a call",
			"Callee — Wait for a call",
		}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(choice, "Relay"):
		return config.RoleRelay
	case strings.HasPrefix(choice, "Caller"):
		return config.RoleCaller
	default:
		return config.RoleCallee
	}
}

// normalizeWSURL validates a raw relay URL and points it at the /ws route.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
