package player

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// State is the engine's position in the source lifecycle.
type State int

const (
	// StateEmpty means no source has been loaded.
	StateEmpty State = iota

	// StateLoading means a source is loaded but metadata is not yet ready.
	StateLoading

	// StateReady means the source can be played and seeked.
	StateReady

	// StatePlaying means output is running.
	StatePlaying

	// StatePaused means output is suspended at the current position.
	StatePaused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Events receives engine-level notifications. All fields are optional.
type Events struct {
	// OnStarted fires when output actually begins running. With an
	// asynchronously loading deck this can be well after Play returns.
	OnStarted func()

	// OnError receives playback faults the engine could not recover from.
	// The caller owns track-level retry and skip policy.
	OnError func(error)

	// OnEnded fires when the current source plays to completion.
	OnEnded func()
}

// Engine wraps one Deck with the source state machine, cross-origin fault
// recovery, pending seeks, and volume clamping. Safe for concurrent use.
//
// Once a cross-origin fault forces a relaxed reload, the engine stays in
// restricted mode for its remaining lifetime: every later source loads
// without cross-origin access and frequency data is unavailable.
type Engine struct {
	deck   Deck
	events Events
	log    *slog.Logger

	mu           sync.Mutex
	state        State
	source       string
	policy       CrossOriginPolicy
	restricted   bool
	pendingSeek  float64 // seconds; negative means none
	pendingStart bool    // start again once the loading source is ready
	volume       float64
}

// New creates an Engine driving deck. Asynchronous deck notifications are
// routed through the engine's state machine before reaching events.
func New(deck Deck, events Events, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		deck:        deck,
		events:      events,
		log:         log,
		state:       StateEmpty,
		pendingSeek: -1,
		volume:      1,
	}
	deck.SetCallbacks(Callbacks{
		OnReady: e.handleReady,
		OnEnded: e.handleEnded,
		OnError: e.handleFault,
	})
	return e
}

// policyFor selects the load policy for a source. Opaque local blob
// references never use cross-origin access; everything else requests it
// unless the engine is already in restricted mode.
func (e *Engine) policyFor(source string) CrossOriginPolicy {
	if e.restricted || strings.HasPrefix(source, "blob:") {
		return PolicyNone
	}
	return PolicyAnonymous
}

// Play loads url (if it differs from the current source) and starts output.
// A positive startOffset seeks before starting; if metadata is not ready yet
// the seek is queued and applied when it arrives. A start the deck rejects
// because the source is still loading is queued the same way and re-issued on
// the ready event; user-gesture rejections are ignored and any other fault
// enters the recovery protocol.
func (e *Engine) Play(url string, startOffset float64) {
	e.mu.Lock()
	reload := url != e.source || e.state == StateEmpty
	if reload {
		e.source = url
		e.policy = e.policyFor(url)
		e.state = StateLoading
		e.pendingSeek = -1
		e.pendingStart = false
	}
	policy := e.policy
	e.mu.Unlock()

	if reload {
		e.deck.Load(url, policy)
	}

	if startOffset > 0 {
		if e.deck.Ready() {
			_ = e.deck.Seek(startOffset)
		} else {
			e.mu.Lock()
			e.pendingSeek = startOffset
			e.mu.Unlock()
		}
	}

	e.start()
}

// start issues the deck start call and classifies a rejection.
func (e *Engine) start() {
	err := e.deck.Play()
	if err == nil {
		e.mu.Lock()
		e.state = StatePlaying
		e.pendingStart = false
		e.mu.Unlock()
		if e.events.OnStarted != nil {
			e.events.OnStarted()
		}
		return
	}
	if errors.Is(err, ErrAborted) {
		// The source is still decoding or a newer load superseded the
		// start; the ready event for the winning load re-issues it.
		e.mu.Lock()
		if e.state == StateLoading {
			e.pendingStart = true
		}
		e.mu.Unlock()
		return
	}
	if errors.Is(err, ErrUserGesture) {
		return
	}
	e.handleFault(err)
}

// handleFault runs the cross-origin recovery protocol. A fault on a source
// loaded with anonymous cross-origin access gets exactly one automatic
// retry: the engine enters restricted mode, reloads the same source without
// the policy, and starts again. Any other fault, or a fault during the
// retry, is surfaced to the caller.
func (e *Engine) handleFault(err error) {
	e.mu.Lock()
	if e.policy == PolicyAnonymous && !e.restricted {
		e.restricted = true
		e.policy = PolicyNone
		e.state = StateLoading
		e.pendingSeek = -1
		source := e.source
		e.mu.Unlock()

		e.log.Warn("playback fault under cross-origin access, retrying without it",
			"source", source, "err", err)
		e.deck.Load(source, PolicyNone)
		e.start()
		return
	}
	e.pendingStart = false
	e.mu.Unlock()
	e.surface(err)
}

// surface hands an unrecoverable fault to the caller.
func (e *Engine) surface(err error) {
	e.log.Error("playback error", "source", e.Source(), "err", err)
	if e.events.OnError != nil {
		e.events.OnError(err)
	}
}

// handleReady applies any queued seek and re-issues a queued start once
// metadata arrives.
func (e *Engine) handleReady() {
	e.mu.Lock()
	if e.state == StateLoading {
		e.state = StateReady
	}
	seek := e.pendingSeek
	e.pendingSeek = -1
	start := e.pendingStart
	e.pendingStart = false
	e.mu.Unlock()

	if seek >= 0 {
		_ = e.deck.Seek(seek)
	}
	if start {
		e.start()
	}
}

// handleEnded returns the engine to Ready and notifies the caller.
func (e *Engine) handleEnded() {
	e.mu.Lock()
	if e.state == StatePlaying || e.state == StatePaused {
		e.state = StateReady
	}
	e.mu.Unlock()

	if e.events.OnEnded != nil {
		e.events.OnEnded()
	}
}

// Pause suspends output if it is running. A pause issued while the source is
// still loading cancels the queued start.
func (e *Engine) Pause() {
	e.mu.Lock()
	playing := e.state == StatePlaying
	if playing {
		e.state = StatePaused
	}
	e.pendingStart = false
	e.mu.Unlock()

	if playing {
		e.deck.Pause()
	}
}

// Resume restarts paused output. A resume rejection goes through the same
// classification as any start.
func (e *Engine) Resume() {
	e.mu.Lock()
	paused := e.state == StatePaused
	e.mu.Unlock()

	if paused {
		e.start()
	}
}

// Seek positions playback at t seconds. Before metadata is ready the seek is
// queued and applied on the ready event; a failed immediate seek is
// best-effort and ignored.
func (e *Engine) Seek(t float64) {
	if t < 0 {
		t = 0
	}
	if e.deck.Ready() {
		_ = e.deck.Seek(t)
		return
	}
	e.mu.Lock()
	e.pendingSeek = t
	e.mu.Unlock()
}

// SetVolume clamps v to [0, 1] and applies it.
func (e *Engine) SetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
	e.deck.SetVolume(v)
}

// Volume returns the last applied (clamped) volume.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// FrequencyData returns the current frequency-bin magnitudes, or an empty
// slice in restricted mode where no analysis data is obtainable. Callers
// must treat empty as "no data", not an error.
func (e *Engine) FrequencyData() []byte {
	e.mu.Lock()
	restricted := e.restricted
	e.mu.Unlock()
	if restricted {
		return nil
	}
	return e.deck.FrequencyData()
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Source returns the currently loaded source, or "" when empty.
func (e *Engine) Source() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.source
}

// Restricted reports whether the engine has entered the degraded
// cross-origin mode.
func (e *Engine) Restricted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restricted
}

// Position returns the current playback position in seconds.
func (e *Engine) Position() float64 { return e.deck.Position() }

// Duration returns the loaded source's duration in seconds, or 0 before
// metadata is ready.
func (e *Engine) Duration() float64 { return e.deck.Duration() }

// Close releases the underlying deck.
func (e *Engine) Close() error {
	return e.deck.Close()
}
