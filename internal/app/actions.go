package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/cadenza-app/cadenza/internal/jukebox"
	"github.com/cadenza-app/cadenza/pkg/player"
)

// ModeSwitcher selects the listening mode for the next voice activation.
type ModeSwitcher interface {
	SetMode(mode string) error
}

// Actions implements the bridge's action surface over the jukebox controller
// and the session manager. Each method returns a short phrase the model can
// speak back to the user.
type Actions struct {
	box     *jukebox.Controller
	engine  jukebox.Engine
	modes   ModeSwitcher
	catalog []jukebox.Track
	log     *slog.Logger
}

// NewActions creates the action surface. catalog is the full configured track
// list; playlist additions resolve titles against it.
func NewActions(box *jukebox.Controller, engine jukebox.Engine, modes ModeSwitcher, catalog []jukebox.Track, log *slog.Logger) *Actions {
	if log == nil {
		log = slog.Default()
	}
	return &Actions{box: box, engine: engine, modes: modes, catalog: catalog, log: log}
}

// ControlPlayback applies a transport action.
func (a *Actions) ControlPlayback(_ context.Context, action string) (string, error) {
	switch action {
	case "play":
		if a.engine.State() == player.StatePaused {
			a.box.Resume()
		} else {
			a.box.PlayCurrent()
		}
		return "playing", nil
	case "pause":
		a.box.Pause()
		return "paused", nil
	case "toggle":
		a.box.Toggle()
		// A toggle that starts a still-loading source leaves the engine in
		// Loading, so only an actual pause reads as paused.
		if a.engine.State() == player.StatePaused {
			return "paused", nil
		}
		return "playing", nil
	case "next":
		a.box.Next()
		return "skipped to the next track", nil
	case "previous":
		a.box.Previous()
		return "went back to the previous track", nil
	default:
		return "", fmt.Errorf("app: unknown playback action %q", action)
	}
}

// SeekBy skips within the current track relative to the current position.
func (a *Actions) SeekBy(_ context.Context, seconds float64) (string, error) {
	a.box.SeekBy(seconds)
	if seconds < 0 {
		return fmt.Sprintf("skipped back %.0f seconds", -seconds), nil
	}
	return fmt.Sprintf("skipped ahead %.0f seconds", seconds), nil
}

// SetVolume applies a volume level. The level is clamped before phrasing the
// reply so the model reports what was actually applied.
func (a *Actions) SetVolume(_ context.Context, level float64) (string, error) {
	if level < 0 {
		level = 0
	} else if level > 1 {
		level = 1
	}
	a.box.SetVolume(level)
	return fmt.Sprintf("volume set to %d%%", int(math.Round(level*100))), nil
}

// ManagePlaylist applies a playlist action. Additions resolve the track title
// against the configured catalog.
func (a *Actions) ManagePlaylist(_ context.Context, action, track string) (string, error) {
	lib := a.box.Library()

	switch action {
	case "add":
		t, ok := a.findInCatalog(track)
		if !ok {
			return "", fmt.Errorf("app: no track named %q in the catalog", track)
		}
		lib.Add(t)
		return fmt.Sprintf("added %s to the playlist", t.Title), nil
	case "remove":
		if !lib.Remove(track) {
			return "", fmt.Errorf("app: no track named %q on the playlist", track)
		}
		return fmt.Sprintf("removed %s from the playlist", track), nil
	case "clear":
		lib.Clear()
		return "playlist cleared", nil
	case "shuffle":
		lib.Shuffle()
		return "playlist shuffled", nil
	default:
		return "", fmt.Errorf("app: unknown playlist action %q", action)
	}
}

// ChangeMode selects the listening mode for the next activation.
func (a *Actions) ChangeMode(_ context.Context, mode string) (string, error) {
	if err := a.modes.SetMode(mode); err != nil {
		return "", err
	}
	return fmt.Sprintf("listening mode set to %s", mode), nil
}

// findInCatalog resolves a track title case-insensitively.
func (a *Actions) findInCatalog(title string) (jukebox.Track, bool) {
	for _, t := range a.catalog {
		if strings.EqualFold(t.Title, title) {
			return t, true
		}
	}
	return jukebox.Track{}, false
}
