package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cadenza-app/cadenza/internal/config"
)

const validYAML = `
server:
  metrics_addr: ":9191"
  log_level: debug
voice:
  provider: gemini
  model: custom-live-model
personas:
  - mode: cruise
    voice_id: Aoede
    instruction: "You are a relaxed road-trip co-pilot."
  - mode: focus
    voice_id: Kore
    instruction: "Keep replies short."
playback:
  capture_block_frames: 2048
  max_track_retries: 1
library:
  - id: "1"
    title: "Blue in Green"
    url: "https://cdn.example.com/1.mp3"
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.MetricsAddr != ":9191" {
		t.Errorf("metrics_addr = %q", cfg.Server.MetricsAddr)
	}
	if cfg.Voice.Provider != "gemini" || cfg.Voice.Model != "custom-live-model" {
		t.Errorf("voice = %+v", cfg.Voice)
	}
	if len(cfg.Personas) != 2 {
		t.Fatalf("personas = %d; want 2", len(cfg.Personas))
	}
	if cfg.Playback.CaptureBlockFrames != 2048 {
		t.Errorf("capture_block_frames = %d; want 2048", cfg.Playback.CaptureBlockFrames)
	}
	if cfg.Playback.MaxTrackRetries == nil || *cfg.Playback.MaxTrackRetries != 1 {
		t.Errorf("max_track_retries = %v; want 1", cfg.Playback.MaxTrackRetries)
	}
	if len(cfg.Library) != 1 || cfg.Library[0].Title != "Blue in Green" {
		t.Errorf("library = %+v", cfg.Library)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("voice:\n  provider: openai\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.MetricsAddr != config.DefaultMetricsAddr {
		t.Errorf("metrics_addr = %q; want default", cfg.Server.MetricsAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q; want info", cfg.Server.LogLevel)
	}
	if cfg.Playback.CaptureBlockFrames != config.DefaultCaptureBlockFrames {
		t.Errorf("capture_block_frames = %d; want %d", cfg.Playback.CaptureBlockFrames, config.DefaultCaptureBlockFrames)
	}
	if cfg.Playback.MaxTrackRetries == nil || *cfg.Playback.MaxTrackRetries != config.DefaultMaxTrackRetries {
		t.Errorf("max_track_retries = %v; want %d", cfg.Playback.MaxTrackRetries, config.DefaultMaxTrackRetries)
	}
	if cfg.Playback.ErrorDeactivateDelaySeconds != config.DefaultErrorDelaySeconds {
		t.Errorf("error delay = %v; want %d", cfg.Playback.ErrorDeactivateDelaySeconds, config.DefaultErrorDelaySeconds)
	}
}

func TestLoadFromReader_ZeroRetriesIsRespected(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(
		"voice:\n  provider: gemini\nplayback:\n  max_track_retries: 0\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Playback.MaxTrackRetries == nil || *cfg.Playback.MaxTrackRetries != 0 {
		t.Errorf("max_track_retries = %v; want explicit 0", cfg.Playback.MaxTrackRetries)
	}
}

func TestLoadFromReader_UnknownFieldFails(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("voice:\n  provider: gemini\n  shiny: true\n"))
	if err == nil {
		t.Fatal("unknown field should fail decoding")
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
voice:
  provider: megacorp
personas:
  - mode: ""
    voice_id: ""
  - mode: cruise
    voice_id: Aoede
  - mode: cruise
    voice_id: Kore
library:
  - title: "No URL"
`))
	if err == nil {
		t.Fatal("invalid config should fail")
	}
	msg := err.Error()
	for _, want := range []string{
		"voice.provider",
		"personas[0].mode is required",
		"personas[0].voice_id is required",
		`personas[2].mode "cruise" is a duplicate`,
		"library[0].url is required",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestPersona_Lookup(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	p, ok := cfg.Persona("focus")
	if !ok || p.VoiceID != "Kore" {
		t.Errorf("Persona(focus) = %+v, %v", p, ok)
	}
	if _, ok := cfg.Persona("zen"); ok {
		t.Error("Persona(zen) should not exist")
	}
}

func TestWatcher_PicksUpChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "cadenza.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *config.Config, 1)
	w, err := config.NewWatcher(path, func(_, cfg *config.Config) {
		changed <- cfg
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	updated := strings.Replace(validYAML, "custom-live-model", "newer-model", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Voice.Model != "newer-model" {
			t.Errorf("reloaded model = %q; want newer-model", cfg.Voice.Model)
		}
		if w.Current().Voice.Model != "newer-model" {
			t.Error("Current() should return the reloaded config")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestWatcher_InvalidEditKeepsPrevious(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "cadenza.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := config.NewWatcher(path, nil, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("voice:\n  provider: nonsense\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(150 * time.Millisecond)
	if w.Current().Voice.Provider != "gemini" {
		t.Errorf("Current().Voice.Provider = %q; want previous value gemini", w.Current().Voice.Provider)
	}
}
