package bridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cadenza-app/cadenza/internal/bridge"
	"github.com/cadenza-app/cadenza/pkg/provider/voice"
)

// recordingActions records every dispatched action and returns configurable
// results.
type recordingActions struct {
	calls []string

	result string
	err    error

	lastSeconds float64
	lastLevel   float64
	lastTrack   string
	lastMode    string
}

func (a *recordingActions) ControlPlayback(_ context.Context, action string) (string, error) {
	a.calls = append(a.calls, "control:"+action)
	return a.result, a.err
}

func (a *recordingActions) SeekBy(_ context.Context, seconds float64) (string, error) {
	a.calls = append(a.calls, "seek")
	a.lastSeconds = seconds
	return a.result, a.err
}

func (a *recordingActions) SetVolume(_ context.Context, level float64) (string, error) {
	a.calls = append(a.calls, "volume")
	a.lastLevel = level
	return a.result, a.err
}

func (a *recordingActions) ManagePlaylist(_ context.Context, action, track string) (string, error) {
	a.calls = append(a.calls, "playlist:"+action)
	a.lastTrack = track
	return a.result, a.err
}

func (a *recordingActions) ChangeMode(_ context.Context, mode string) (string, error) {
	a.calls = append(a.calls, "mode")
	a.lastMode = mode
	return a.result, a.err
}

func TestDeclarations_CoversAllFiveTools(t *testing.T) {
	t.Parallel()
	b := bridge.New(&recordingActions{}, nil)

	decls := b.Declarations()
	if len(decls) != 5 {
		t.Fatalf("got %d declarations; want 5", len(decls))
	}

	want := map[string]bool{
		bridge.ToolControlPlayback: false,
		bridge.ToolSeekAudio:       false,
		bridge.ToolSetVolume:       false,
		bridge.ToolManagePlaylist:  false,
		bridge.ToolChangeMode:      false,
	}
	for _, d := range decls {
		if _, ok := want[d.Name]; !ok {
			t.Errorf("unexpected tool %q", d.Name)
			continue
		}
		want[d.Name] = true
		if d.Description == "" {
			t.Errorf("tool %q has no description", d.Name)
		}
		if d.Parameters == nil {
			t.Errorf("tool %q has no parameter schema", d.Name)
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %q not declared", name)
		}
	}
}

func TestDispatch_RoutesEachTool(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		call     voice.FunctionCall
		wantCall string
		check    func(t *testing.T, a *recordingActions)
	}{
		{
			name:     "control playback",
			call:     voice.FunctionCall{Name: bridge.ToolControlPlayback, Args: map[string]any{"action": "pause"}},
			wantCall: "control:pause",
		},
		{
			name:     "seek",
			call:     voice.FunctionCall{Name: bridge.ToolSeekAudio, Args: map[string]any{"seconds": -15.0}},
			wantCall: "seek",
			check: func(t *testing.T, a *recordingActions) {
				if a.lastSeconds != -15 {
					t.Errorf("seconds = %v; want -15", a.lastSeconds)
				}
			},
		},
		{
			name:     "volume",
			call:     voice.FunctionCall{Name: bridge.ToolSetVolume, Args: map[string]any{"level": 0.3}},
			wantCall: "volume",
			check: func(t *testing.T, a *recordingActions) {
				if a.lastLevel != 0.3 {
					t.Errorf("level = %v; want 0.3", a.lastLevel)
				}
			},
		},
		{
			name:     "playlist",
			call:     voice.FunctionCall{Name: bridge.ToolManagePlaylist, Args: map[string]any{"action": "add", "track": "Blue in Green"}},
			wantCall: "playlist:add",
			check: func(t *testing.T, a *recordingActions) {
				if a.lastTrack != "Blue in Green" {
					t.Errorf("track = %q", a.lastTrack)
				}
			},
		},
		{
			name:     "mode",
			call:     voice.FunctionCall{Name: bridge.ToolChangeMode, Args: map[string]any{"mode": "focus"}},
			wantCall: "mode",
			check: func(t *testing.T, a *recordingActions) {
				if a.lastMode != "focus" {
					t.Errorf("mode = %q; want focus", a.lastMode)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			actions := &recordingActions{result: "ok"}
			b := bridge.New(actions, nil)

			got, err := b.Dispatch(context.Background(), tc.call)
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if got != "ok" {
				t.Errorf("result = %q; want ok", got)
			}
			if len(actions.calls) != 1 || actions.calls[0] != tc.wantCall {
				t.Errorf("calls = %v; want [%s]", actions.calls, tc.wantCall)
			}
			if tc.check != nil {
				tc.check(t, actions)
			}
		})
	}
}

func TestDispatch_UnknownToolFails(t *testing.T) {
	t.Parallel()
	b := bridge.New(&recordingActions{}, nil)

	_, err := b.Dispatch(context.Background(), voice.FunctionCall{Name: "self_destruct"})
	if err == nil {
		t.Fatal("unknown tool should fail")
	}
}

func TestDispatch_MissingArgumentFails(t *testing.T) {
	t.Parallel()
	b := bridge.New(&recordingActions{}, nil)

	_, err := b.Dispatch(context.Background(), voice.FunctionCall{
		Name: bridge.ToolSeekAudio,
		Args: map[string]any{},
	})
	if err == nil {
		t.Fatal("missing argument should fail")
	}
}

func TestDispatch_NumericArgumentFromString(t *testing.T) {
	t.Parallel()
	actions := &recordingActions{}
	b := bridge.New(actions, nil)

	_, err := b.Dispatch(context.Background(), voice.FunctionCall{
		Name: bridge.ToolSetVolume,
		Args: map[string]any{"level": "0.75"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if actions.lastLevel != 0.75 {
		t.Errorf("level = %v; want 0.75", actions.lastLevel)
	}
}

func TestDispatch_HandlerFailureIsReturned(t *testing.T) {
	t.Parallel()
	fault := errors.New("deck unplugged")
	actions := &recordingActions{err: fault}
	b := bridge.New(actions, nil)

	_, err := b.Dispatch(context.Background(), voice.FunctionCall{
		Name: bridge.ToolControlPlayback,
		Args: map[string]any{"action": "play"},
	})
	if !errors.Is(err, fault) {
		t.Errorf("err = %v; want the handler failure", err)
	}
}
