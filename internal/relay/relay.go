// Package relay forwards signaling envelopes between connected endpoints
// without looking inside their payloads.
//
// Forwarding is broadcast to every other connected endpoint. That is only
// correct for exactly two endpoints: with three or more, an offer meant for
// one peer reaches all of them. The wire protocol is kept that way so
// existing clients keep working. Endpoints bound how many stray candidates
// they hold before their own negotiation starts.
package relay

import (
	"errors"
	"io"

	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/util"
)

// Relay owns the endpoint registry and the forwarding rule.
type Relay struct {
	registry *Registry
}

// New creates a relay with an empty registry.
func New() *Relay {
	return &Relay{registry: NewRegistry()}
}

// Registry exposes the endpoint table, mainly for health reporting.
func (r *Relay) Registry() *Registry { return r.registry }

// OnConnect registers ep, greets it with its id and returns the id.
func (r *Relay) OnConnect(ep Endpoint) EndpointID {
	id := r.registry.Add(ep)
	util.Stats.AddEndpoint()

	welcome, err := signaling.NewEnvelope(signaling.EventWelcome, signaling.WelcomePayload{ID: string(id)})
	if err == nil {
		err = ep.Send(welcome)
	}
	if err != nil {
		util.LogWarning("[%s] failed to send welcome: %v", id, err)
	}

	util.LogWith("endpoint connected", "id", id, "endpoints", r.registry.Len())
	return id
}

// OnDisconnect removes id. Later forwards skip it. Removing an unknown or
// already removed id is a no-op.
func (r *Relay) OnDisconnect(id EndpointID) {
	if !r.registry.Remove(id) {
		return
	}
	util.Stats.RemoveEndpoint()
	util.LogWith("endpoint disconnected", "id", id, "endpoints", r.registry.Len())
}

// Forward rebroadcasts env from sender to every other registered endpoint
// under its relayed event name, stamping From with the sender's id. Data is
// passed through untouched. It returns how many endpoints the envelope was
// queued to; envelopes from unknown senders or with non-forwardable events
// are dropped.
func (r *Relay) Forward(sender EndpointID, env signaling.Envelope) int {
	if _, ok := r.registry.Get(sender); !ok {
		util.LogDebug("dropping %q from %s: %v", env.Event, sender, ErrUnknownEndpoint)
		util.Stats.AddDropped()
		return 0
	}

	out, ok := signaling.Relayed(env.Event)
	if !ok {
		util.LogDebug("[%s] dropping non-forwardable event %q", sender, env.Event)
		util.Stats.AddDropped()
		return 0
	}

	env.Event = out
	env.From = string(sender)

	delivered := 0
	for _, ep := range r.registry.Others(sender) {
		if err := ep.Send(env); err != nil {
			util.LogWarning("[%s] dropped %s: %v", sender, out, err)
			util.Stats.AddDropped()
			continue
		}
		util.Stats.AddForwarded()
		delivered++
	}

	util.LogDebug("[%s] %s → %d endpoint(s)", sender, out, delivered)
	return delivered
}

// Shutdown closes every endpoint that can be closed. Their connection loops
// then disconnect them from the registry.
func (r *Relay) Shutdown() error {
	var errs []error
	for _, ep := range r.registry.All() {
		if c, ok := ep.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
