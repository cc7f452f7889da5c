// Package jukebox drives the local playback engine across a track library.
//
// The controller owns track-level retry policy: a playback fault on the
// current track is retried up to a fixed number of attempts, the attempt
// counter resets on a successful start, and a track whose attempts exceed
// the limit is abandoned in favour of the next one. The playback engine
// itself only ever performs its single internal cross-origin retry; anything
// past that lands here.
package jukebox

import (
	"log/slog"
	"sync"

	"github.com/cadenza-app/cadenza/pkg/player"
)

// DefaultMaxRetries is the retry limit per track.
const DefaultMaxRetries = 2

// Engine is the subset of the playback engine the controller drives.
type Engine interface {
	Play(url string, startOffset float64)
	Pause()
	Resume()
	Seek(t float64)
	SetVolume(v float64)
	State() player.State
	Position() float64
}

// Controller walks a Library through an Engine. Safe for concurrent use.
type Controller struct {
	engine     Engine
	lib        Library
	log        *slog.Logger
	maxRetries int

	mu       sync.Mutex
	attempts int

	// onAbandon, if set, is invoked when a track is given up on. Tests use
	// it to observe the retry ceiling.
	onAbandon func(Track)
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithMaxRetries overrides the per-track retry limit.
func WithMaxRetries(n int) Option {
	return func(c *Controller) { c.maxRetries = n }
}

// WithAbandonHook registers a callback invoked when a track is abandoned.
func WithAbandonHook(fn func(Track)) Option {
	return func(c *Controller) { c.onAbandon = fn }
}

// New creates a Controller. Wire the returned controller's HandleStarted,
// HandleError, and HandleEnded into the engine's event callbacks.
func New(engine Engine, lib Library, log *slog.Logger, opts ...Option) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		engine:     engine,
		lib:        lib,
		log:        log,
		maxRetries: DefaultMaxRetries,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Attempts returns the current track's failed-attempt count.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// PlayCurrent starts the track at the library cursor.
func (c *Controller) PlayCurrent() {
	track, ok := c.lib.Current()
	if !ok {
		c.log.Info("nothing to play, library is empty")
		return
	}
	c.start(track)
}

// start issues a playback attempt. The engine reports success through the
// started event, which clears the counter; a deck that loads asynchronously
// is still Loading when Play returns, so the state cannot be polled here.
func (c *Controller) start(track Track) {
	c.engine.Play(track.URL, 0)
}

// HandleStarted is the engine's start-succeeded callback; it clears the
// current track's attempt counter.
func (c *Controller) HandleStarted() {
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
}

// HandleError is the engine's surfaced-fault callback. It retries the
// current track until the attempt limit, then abandons it and moves on.
func (c *Controller) HandleError(err error) {
	track, ok := c.lib.Current()
	if !ok {
		return
	}

	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	c.mu.Unlock()

	if attempts > c.maxRetries {
		c.log.Warn("abandoning track after repeated failures",
			"track", track.Title, "attempts", attempts, "err", err)
		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()
		if c.onAbandon != nil {
			c.onAbandon(track)
		}
		if next, ok := c.lib.Next(); ok && next.ID != track.ID {
			c.start(next)
		}
		return
	}

	c.log.Warn("retrying track after playback failure",
		"track", track.Title, "attempt", attempts, "err", err)
	c.start(track)
}

// HandleEnded is the engine's natural-completion callback; it advances to
// the next track.
func (c *Controller) HandleEnded() {
	if next, ok := c.lib.Next(); ok {
		c.start(next)
	}
}

// Pause suspends playback.
func (c *Controller) Pause() { c.engine.Pause() }

// Resume restarts paused playback.
func (c *Controller) Resume() { c.engine.Resume() }

// Toggle pauses running playback or starts/resumes otherwise.
func (c *Controller) Toggle() {
	switch c.engine.State() {
	case player.StatePlaying:
		c.engine.Pause()
	case player.StatePaused:
		c.engine.Resume()
	default:
		c.PlayCurrent()
	}
}

// Next skips to the next track.
func (c *Controller) Next() {
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
	if t, ok := c.lib.Next(); ok {
		c.start(t)
	}
}

// Previous skips to the previous track.
func (c *Controller) Previous() {
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
	if t, ok := c.lib.Previous(); ok {
		c.start(t)
	}
}

// SeekBy skips within the current track relative to the current position.
func (c *Controller) SeekBy(seconds float64) {
	target := c.engine.Position() + seconds
	if target < 0 {
		target = 0
	}
	c.engine.Seek(target)
}

// SetVolume applies a volume level; the engine clamps it.
func (c *Controller) SetVolume(v float64) { c.engine.SetVolume(v) }

// Library returns the underlying library for playlist actions.
func (c *Controller) Library() Library { return c.lib }
