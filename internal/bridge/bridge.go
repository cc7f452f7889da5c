// Package bridge maps named remote function calls onto local playback and
// library actions.
//
// The bridge declares the tool table offered to the voice model at session
// setup and dispatches each incoming call to the Actions collaborator. Its
// one architectural job is containment: a failing handler is reported as an
// error result and never destabilises the calling session.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cadenza-app/cadenza/pkg/provider/voice"
)

// Tool names offered to the model.
const (
	ToolControlPlayback = "control_playback"
	ToolSeekAudio       = "seek_audio"
	ToolSetVolume       = "set_volume"
	ToolManagePlaylist  = "manage_playlist"
	ToolChangeMode      = "change_mode"
)

// Actions is the local collaborator surface the model's tool calls drive.
// Implementations return a short human-readable result; an empty result is
// reported to the model as "done".
type Actions interface {
	// ControlPlayback applies a transport action: play, pause, toggle, next,
	// or previous.
	ControlPlayback(ctx context.Context, action string) (string, error)

	// SeekBy skips forward (positive) or backward (negative) within the
	// current track by the given number of seconds.
	SeekBy(ctx context.Context, seconds float64) (string, error)

	// SetVolume sets the playback volume; level is clamped downstream.
	SetVolume(ctx context.Context, level float64) (string, error)

	// ManagePlaylist applies a playlist action (add, remove, clear, shuffle)
	// optionally targeting a track.
	ManagePlaylist(ctx context.Context, action, track string) (string, error)

	// ChangeMode switches the listening mode. Takes effect on the next
	// session activation.
	ChangeMode(ctx context.Context, mode string) (string, error)
}

// Bridge dispatches voice function calls to Actions.
type Bridge struct {
	actions Actions
	log     *slog.Logger
}

// New creates a Bridge over the given actions.
func New(actions Actions, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{actions: actions, log: log}
}

// Declarations returns the tool table declared to the model at session
// setup.
func (b *Bridge) Declarations() []voice.ToolDefinition {
	return []voice.ToolDefinition{
		{
			Name:        ToolControlPlayback,
			Description: "Control music playback: play, pause, toggle, next or previous track.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{
						"type": "string",
						"enum": []string{"play", "pause", "toggle", "next", "previous"},
					},
				},
				"required": []string{"action"},
			},
		},
		{
			Name:        ToolSeekAudio,
			Description: "Skip forward or backward within the current track by a number of seconds.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"seconds": map[string]any{
						"type":        "number",
						"description": "Offset in seconds; negative skips backward.",
					},
				},
				"required": []string{"seconds"},
			},
		},
		{
			Name:        ToolSetVolume,
			Description: "Set the playback volume between 0 and 1.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"level": map[string]any{
						"type":    "number",
						"minimum": 0,
						"maximum": 1,
					},
				},
				"required": []string{"level"},
			},
		},
		{
			Name:        ToolManagePlaylist,
			Description: "Manage the playlist: add or remove a track, clear, or shuffle.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{
						"type": "string",
						"enum": []string{"add", "remove", "clear", "shuffle"},
					},
					"track": map[string]any{
						"type":        "string",
						"description": "Track title or identifier, when the action targets one.",
					},
				},
				"required": []string{"action"},
			},
		},
		{
			Name:        ToolChangeMode,
			Description: "Change the listening mode persona. Applies on the next activation.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"mode": map[string]any{"type": "string"},
				},
				"required": []string{"mode"},
			},
		},
	}
}

// Dispatch routes one function call to its handler and returns the handler's
// result. An unknown tool name or a missing argument is an error like any
// handler failure; callers decide containment policy.
func (b *Bridge) Dispatch(ctx context.Context, call voice.FunctionCall) (string, error) {
	b.log.Debug("dispatching tool call", "id", call.ID, "name", call.Name)

	switch call.Name {
	case ToolControlPlayback:
		action, err := stringArg(call.Args, "action")
		if err != nil {
			return "", err
		}
		return b.actions.ControlPlayback(ctx, action)

	case ToolSeekAudio:
		seconds, err := numberArg(call.Args, "seconds")
		if err != nil {
			return "", err
		}
		return b.actions.SeekBy(ctx, seconds)

	case ToolSetVolume:
		level, err := numberArg(call.Args, "level")
		if err != nil {
			return "", err
		}
		return b.actions.SetVolume(ctx, level)

	case ToolManagePlaylist:
		action, err := stringArg(call.Args, "action")
		if err != nil {
			return "", err
		}
		track, _ := stringArg(call.Args, "track") // optional
		return b.actions.ManagePlaylist(ctx, action, track)

	case ToolChangeMode:
		mode, err := stringArg(call.Args, "mode")
		if err != nil {
			return "", err
		}
		return b.actions.ChangeMode(ctx, mode)

	default:
		return "", fmt.Errorf("bridge: unknown tool %q", call.Name)
	}
}

// stringArg extracts a string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("bridge: missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("bridge: argument %q is not a string", key)
	}
	return s, nil
}

// numberArg extracts a numeric argument, tolerating the types JSON decoding
// produces.
func numberArg(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("bridge: missing argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("bridge: argument %q is not a number: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("bridge: argument %q is not a number", key)
	}
}
