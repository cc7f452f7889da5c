// Package player implements the local playback engine: a state machine over
// a single playback device (the "deck") with load/play/pause/seek/volume,
// frequency sampling for visualization, and automatic recovery from
// cross-origin media faults.
package player

import "errors"

// CrossOriginPolicy selects how a source is loaded with respect to origin
// checks. Sources loaded with PolicyAnonymous expose sample data for
// frequency analysis; PolicyNone plays opaquely.
type CrossOriginPolicy int

const (
	// PolicyNone loads the source without requesting cross-origin access.
	PolicyNone CrossOriginPolicy = iota

	// PolicyAnonymous requests anonymous cross-origin access so the deck can
	// tap decoded samples for analysis.
	PolicyAnonymous
)

// String returns the policy name.
func (p CrossOriginPolicy) String() string {
	if p == PolicyAnonymous {
		return "anonymous"
	}
	return "none"
}

// Sentinel start rejections. A deck returns these from Play when the start
// was refused for a benign reason; the engine ignores them rather than
// treating them as playback faults.
var (
	// ErrUserGesture means the device refused to start without user
	// interaction.
	ErrUserGesture = errors.New("player: start requires user gesture")

	// ErrAborted means the start cannot proceed right now: the source is
	// still loading, or a newer load or stop superseded it.
	ErrAborted = errors.New("player: start aborted")
)

// Callbacks receives asynchronous deck notifications. Decks must invoke them
// from outside any deck method the engine is currently executing.
type Callbacks struct {
	// OnReady fires when the loaded source's metadata is available and the
	// deck can seek reliably.
	OnReady func()

	// OnEnded fires when the source plays to completion.
	OnEnded func()

	// OnError fires on an asynchronous media fault.
	OnError func(error)
}

// Deck is the single playback device abstraction the engine drives.
//
// Load replaces the current source; it resets position and readiness.
// Play starts or resumes output and may return a sentinel rejection.
// Seek positions playback in seconds and fails if metadata is not ready.
// FrequencyData returns current frequency-bin magnitudes, one byte per bin,
// or nil when the source exposes no sample data.
type Deck interface {
	SetCallbacks(cb Callbacks)
	Load(source string, policy CrossOriginPolicy)
	Ready() bool
	Play() error
	Pause()
	Seek(position float64) error
	SetVolume(v float64)
	Duration() float64
	Position() float64
	FrequencyData() []byte
	Close() error
}
