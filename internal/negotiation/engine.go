// Package negotiation drives one endpoint's side of the offer/answer/candidate
// exchange. All negotiation state is owned by a single event loop; public
// methods post an event and wait for its result, and peer connection
// callbacks post events without waiting.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/media"
	"github.com/1ureka/p2pcall/internal/util"
)

const (
	// eventQueueSize bounds events posted by peer connection callbacks.
	eventQueueSize = 128

	// maxPendingCandidates bounds remote candidates held before the remote
	// description. The relay broadcasts, so an idle endpoint also hears
	// candidates meant for other pairs.
	maxPendingCandidates = 64
)

// Signaler transmits the engine's messages to the other endpoint.
type Signaler interface {
	SendOffer(offer webrtc.SessionDescription) error
	SendAnswer(answer webrtc.SessionDescription) error
	SendCandidate(candidate webrtc.ICECandidateInit) error
}

// Snapshot is a copy of the negotiation state at one point in time.
type Snapshot struct {
	State  State
	Local  *webrtc.SessionDescription
	Remote *webrtc.SessionDescription

	// Pending holds remote candidates received before Remote was set.
	Pending []webrtc.ICECandidateInit

	// Applied counts remote candidates handed to the peer connection.
	Applied int
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout fails the negotiation with ErrUnreachablePeer if it has not
// reached Connected d after it started. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

type event struct {
	run   func() error
	reply chan error
}

// Engine is one endpoint's negotiation state machine.
type Engine struct {
	pc       PeerConnection
	signaler Signaler
	timeout  time.Duration

	events   chan event
	loopDone chan struct{}
	cancel   context.CancelFunc

	// Owned by the loop goroutine.
	state   State
	local   *webrtc.SessionDescription
	remote  *webrtc.SessionDescription
	pending []webrtc.ICECandidateInit
	applied int
	timer   *time.Timer

	mu        sync.RWMutex
	published Snapshot
	cause     error

	connected     chan struct{}
	connectedOnce sync.Once
	closing       chan struct{}
	done          chan struct{}
}

// New creates an engine in StateNew around pc and starts its loop. The
// engine closes when ctx is cancelled.
func New(ctx context.Context, pc PeerConnection, signaler Signaler, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(ctx)

	e := &Engine{
		pc:        pc,
		signaler:  signaler,
		events:    make(chan event, eventQueueSize),
		loopDone:  make(chan struct{}),
		cancel:    cancel,
		state:     StateNew,
		connected: make(chan struct{}),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.publish()

	pc.OnLocalCandidate(func(c webrtc.ICECandidateInit) {
		e.post(func() { e.onLocalCandidate(c) })
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.post(func() { e.onConnectivityChange(s) })
	})

	go e.loop(ctx)
	return e
}

// ---------------------------------------------------------------------------
// Loop
// ---------------------------------------------------------------------------

func (e *Engine) loop(ctx context.Context) {
	defer close(e.loopDone)

	for {
		select {
		case ev := <-e.events:
			err := ev.run()
			e.publish()
			if ev.reply != nil {
				ev.reply <- err
			}
			if e.state.Terminal() {
				return
			}

		case <-ctx.Done():
			e.finish(StateClosed, nil)
			e.publish()
			return
		}
	}
}

// do runs fn on the loop and returns its error. If ctx ends first, fn may
// still run.
func (e *Engine) do(ctx context.Context, fn func() error) error {
	ev := event{run: fn, reply: make(chan error, 1)}

	select {
	case e.events <- ev:
	case <-e.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ev.reply:
		return err
	case <-e.loopDone:
		// The loop may have replied on its final iteration.
		select {
		case err := <-ev.reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting for it. Events posted once the engine is
// terminal are dropped.
func (e *Engine) post(fn func()) {
	select {
	case <-e.closing:
		return
	default:
	}

	select {
	case e.events <- event{run: func() error { fn(); return nil }}:
	case <-e.closing:
	case <-e.loopDone:
	}
}

func (e *Engine) publish() {
	snap := Snapshot{
		State:   e.state,
		Local:   copyDescription(e.local),
		Remote:  copyDescription(e.remote),
		Pending: append([]webrtc.ICECandidateInit(nil), e.pending...),
		Applied: e.applied,
	}

	e.mu.Lock()
	e.published = snap
	e.mu.Unlock()
}

func copyDescription(d *webrtc.SessionDescription) *webrtc.SessionDescription {
	if d == nil {
		return nil
	}
	c := webrtc.SessionDescription{Type: d.Type, SDP: d.SDP}
	return &c
}

// ---------------------------------------------------------------------------
// Observers
// ---------------------------------------------------------------------------

// State returns the current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published.State
}

// Snapshot returns a copy of the full negotiation state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published
}

// Err returns why the engine failed, or nil.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cause
}

// Connected returns a channel closed when the engine reaches StateConnected.
func (e *Engine) Connected() <-chan struct{} { return e.connected }

// Done returns a channel closed when the engine reaches Failed or Closed.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Wait blocks until the engine is Connected, Failed or Closed, or ctx ends.
func (e *Engine) Wait(ctx context.Context) (State, error) {
	select {
	case <-e.connected:
		return StateConnected, nil
	case <-e.done:
		return e.State(), e.Err()
	case <-ctx.Done():
		return e.State(), ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// AttachMedia acquires the pipeline's local tracks, attaches them to the peer
// connection and routes remote tracks to the pipeline. Only valid in
// StateNew, before any description exists.
func (e *Engine) AttachMedia(ctx context.Context, p media.Pipeline) error {
	return e.do(ctx, func() error {
		if e.state != StateNew {
			return fmt.Errorf("%w: cannot attach media in state %s", ErrNegotiationMismatch, e.state)
		}

		tracks, err := p.AcquireLocalTracks(ctx)
		if err != nil {
			if !errors.Is(err, ErrDeviceUnavailable) {
				err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
			}
			return err
		}

		for _, t := range tracks {
			if err := e.pc.AddTrack(t); err != nil {
				return fmt.Errorf("failed to attach %s track: %w", t.Kind(), err)
			}
		}

		e.pc.OnRemoteTrack(p.OnRemoteTrack)
		util.LogDebug("attached %d local track(s)", len(tracks))
		return nil
	})
}

// StartCall creates an offer, sets it locally and transmits it. Only valid
// in StateNew; a second call returns ErrCallInProgress.
func (e *Engine) StartCall(ctx context.Context) error {
	return e.do(ctx, func() error {
		if err := e.checkOpen(); err != nil {
			return err
		}
		if e.state != StateNew {
			return fmt.Errorf("%w (state %s)", ErrCallInProgress, e.state)
		}

		offer, err := e.pc.CreateOffer()
		if err != nil {
			return e.fail(fmt.Errorf("%w: create offer: %v", ErrNegotiationMismatch, err))
		}
		if err := e.pc.SetLocalDescription(offer); err != nil {
			return e.fail(fmt.Errorf("%w: set local offer: %v", ErrNegotiationMismatch, err))
		}
		e.local = &offer
		e.setState(StateHaveLocalOffer)
		e.armTimeout()

		if err := e.signaler.SendOffer(offer); err != nil {
			return e.fail(fmt.Errorf("%w: %v", ErrTransportLost, err))
		}
		return nil
	})
}

// HandleRemoteOffer applies a relayed offer and answers it. A repeat of the
// offer already applied is ignored.
func (e *Engine) HandleRemoteOffer(ctx context.Context, offer webrtc.SessionDescription) error {
	return e.do(ctx, func() error {
		if err := e.checkOpen(); err != nil {
			return err
		}
		if sameDescription(e.remote, offer) {
			util.LogDebug("duplicate remote offer ignored")
			return nil
		}
		if e.state != StateNew {
			return fmt.Errorf("%w: offer received in state %s", ErrNegotiationMismatch, e.state)
		}

		if err := e.pc.SetRemoteDescription(offer); err != nil {
			return fmt.Errorf("%w: set remote offer: %v", ErrNegotiationMismatch, err)
		}
		e.remote = &offer
		e.setState(StateHaveRemoteOffer)
		e.armTimeout()
		e.flushPending()

		answer, err := e.pc.CreateAnswer()
		if err != nil {
			return e.fail(fmt.Errorf("%w: create answer: %v", ErrNegotiationMismatch, err))
		}
		if err := e.pc.SetLocalDescription(answer); err != nil {
			return e.fail(fmt.Errorf("%w: set local answer: %v", ErrNegotiationMismatch, err))
		}
		e.local = &answer
		e.setState(StateNegotiating)

		if err := e.signaler.SendAnswer(answer); err != nil {
			return e.fail(fmt.Errorf("%w: %v", ErrTransportLost, err))
		}
		return nil
	})
}

// HandleRemoteAnswer applies a relayed answer to our offer. A repeat of the
// answer already applied is ignored.
func (e *Engine) HandleRemoteAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	return e.do(ctx, func() error {
		if err := e.checkOpen(); err != nil {
			return err
		}
		if sameDescription(e.remote, answer) {
			util.LogDebug("duplicate remote answer ignored")
			return nil
		}
		if e.state != StateHaveLocalOffer {
			return fmt.Errorf("%w: answer received in state %s", ErrNegotiationMismatch, e.state)
		}

		if err := e.pc.SetRemoteDescription(answer); err != nil {
			return fmt.Errorf("%w: set remote answer: %v", ErrNegotiationMismatch, err)
		}
		e.remote = &answer
		e.flushPending()
		e.setState(StateNegotiating)
		return nil
	})
}

// HandleRemoteCandidate applies a relayed candidate, or buffers it until the
// remote description is set.
func (e *Engine) HandleRemoteCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	return e.do(ctx, func() error {
		if err := e.checkOpen(); err != nil {
			return err
		}
		if e.remote == nil {
			if len(e.pending) >= maxPendingCandidates {
				return fmt.Errorf("%w (%d held)", ErrCandidateOverflow, len(e.pending))
			}
			e.pending = append(e.pending, candidate)
			return nil
		}
		return e.applyCandidate(candidate)
	})
}

// TransportLost reports that the signaling channel went away. Before
// Connected this fails the negotiation; afterwards media no longer needs the
// relay and it is ignored.
func (e *Engine) TransportLost() {
	e.post(func() {
		if e.state == StateConnected || e.state.Terminal() {
			return
		}
		e.fail(ErrTransportLost)
	})
}

// Close tears the negotiation down and releases the peer connection. Safe
// to call more than once.
func (e *Engine) Close() error {
	err := e.do(context.Background(), func() error {
		e.finish(StateClosed, nil)
		return nil
	})
	e.cancel()
	<-e.loopDone
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// ---------------------------------------------------------------------------
// Transitions (loop goroutine only)
// ---------------------------------------------------------------------------

func (e *Engine) checkOpen() error {
	if e.state.Terminal() {
		return fmt.Errorf("%w (state %s)", ErrClosed, e.state)
	}
	return nil
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	util.LogDebug("negotiation %s → %s", e.state, s)
	e.state = s
}

// fail moves to StateFailed with cause and returns cause.
func (e *Engine) fail(cause error) error {
	e.finish(StateFailed, cause)
	return cause
}

// finish moves to a terminal state once and releases the peer connection.
func (e *Engine) finish(s State, cause error) {
	if e.state.Terminal() {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}

	e.mu.Lock()
	e.cause = cause
	e.mu.Unlock()

	e.setState(s)
	// Callbacks fired by pc.Close must not wait on this goroutine.
	close(e.closing)
	if err := e.pc.Close(); err != nil {
		util.LogWarning("failed to close PeerConnection: %v", err)
	}
	e.publish()
	close(e.done)

	if cause != nil {
		util.LogError("negotiation %s: %v", s, cause)
	}
}

func (e *Engine) armTimeout() {
	if e.timeout <= 0 || e.timer != nil {
		return
	}
	d := e.timeout
	e.timer = time.AfterFunc(d, func() {
		e.post(func() {
			if e.state == StateConnected || e.state.Terminal() {
				return
			}
			e.fail(fmt.Errorf("%w: not connected within %s", ErrUnreachablePeer, d))
		})
	})
}

func (e *Engine) flushPending() {
	pending := e.pending
	e.pending = nil
	for _, c := range pending {
		if err := e.applyCandidate(c); err != nil {
			util.LogWarning("%v", err)
		}
	}
}

func (e *Engine) applyCandidate(c webrtc.ICECandidateInit) error {
	if err := e.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("failed to add remote candidate: %w", err)
	}
	e.applied++
	return nil
}

func (e *Engine) onLocalCandidate(c webrtc.ICECandidateInit) {
	if e.state.Terminal() {
		return
	}
	// Best-effort: a lost candidate only narrows the paths ICE can try.
	if err := e.signaler.SendCandidate(c); err != nil {
		util.LogWarning("failed to send local candidate: %v", err)
	}
}

func (e *Engine) onConnectivityChange(s webrtc.PeerConnectionState) {
	util.LogDebug("PeerConnection state: %s", s)

	switch s {
	case webrtc.PeerConnectionStateConnected:
		if e.remote == nil || e.state.Terminal() {
			return
		}
		if e.timer != nil {
			e.timer.Stop()
		}
		e.setState(StateConnected)
		e.publish()
		e.connectedOnce.Do(func() { close(e.connected) })
		util.LogSuccess("peer connected")

	case webrtc.PeerConnectionStateFailed:
		e.fail(ErrUnreachablePeer)

	case webrtc.PeerConnectionStateClosed:
		e.finish(StateClosed, nil)

	case webrtc.PeerConnectionStateDisconnected:
		util.LogWarning("peer connection interrupted, waiting for ICE to recover")
	}
}

func sameDescription(applied *webrtc.SessionDescription, d webrtc.SessionDescription) bool {
	return applied != nil && applied.Type == d.Type && applied.SDP == d.SDP
}
