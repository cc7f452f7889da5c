// Command cadenza is the personal audio player with a voice-driven
// companion mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cadenza-app/cadenza/internal/app"
	"github.com/cadenza-app/cadenza/internal/config"
	"github.com/cadenza-app/cadenza/internal/observe"
	"github.com/cadenza-app/cadenza/internal/session"
	"github.com/cadenza-app/cadenza/pkg/audio"
	"github.com/cadenza-app/cadenza/pkg/audio/capture"
	"github.com/cadenza-app/cadenza/pkg/audio/scheduler"
	"github.com/cadenza-app/cadenza/pkg/audio/speaker"
	"github.com/cadenza-app/cadenza/pkg/player/beepdeck"
	"github.com/cadenza-app/cadenza/pkg/provider/voice"
	"github.com/cadenza-app/cadenza/pkg/provider/voice/gemini"
	"github.com/cadenza-app/cadenza/pkg/provider/voice/openai"
)

// credentialEnvVars maps provider names to the environment variable consulted
// when the config carries no API key.
var credentialEnvVars = map[string]string{
	"gemini": "GEMINI_API_KEY",
	"openai": "OPENAI_API_KEY",
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	captureSource := flag.String("capture", "", "optional PCM16LE/16kHz file or pipe used as the microphone")
	activateMode := flag.String("mode", "", "activate a voice session in this listening mode at startup")
	flag.Parse()

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	// The watcher keeps polling the file; only the log level is applied
	// live, everything else takes effect on restart.
	level := new(slog.LevelVar)
	watcher, err := config.NewWatcher(*configPath, func(old, cur *config.Config) {
		if old.Server.LogLevel != cur.Server.LogLevel && cur.Server.LogLevel.IsValid() {
			level.Set(slogLevel(cur.Server.LogLevel))
			slog.Info("log level changed", "level", cur.Server.LogLevel)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cadenza: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cadenza: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("cadenza starting",
		"config", *configPath,
		"voice_provider", cfg.Voice.Provider,
		"tracks", len(cfg.Library),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "cadenza",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		telCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(telCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Voice provider ────────────────────────────────────────────────────
	if cfg.Voice.APIKey == "" {
		cfg.Voice.APIKey = os.Getenv(credentialEnvVars[cfg.Voice.Provider])
	}
	reg := config.NewRegistry()
	registerVoiceProviders(reg)
	provider, err := reg.CreateVoice(cfg.Voice)
	if err != nil {
		slog.Error("failed to create voice provider", "provider", cfg.Voice.Provider, "err", err)
		return 1
	}
	slog.Info("voice provider ready", "provider", cfg.Voice.Provider)

	// ── Audio devices ─────────────────────────────────────────────────────
	clock := scheduler.NewMonotonicClock()
	var sched *scheduler.Scheduler
	spk, err := speaker.New(audio.PlaybackRate, 1, clock, func(h uuid.UUID) {
		sched.OnBufferComplete(h)
	})
	if err != nil {
		slog.Error("failed to open output device", "err", err)
		return 1
	}
	defer func() { _ = spk.Close() }()
	sched = scheduler.New(spk, scheduler.WithClock(clock))

	mic, closeMic, err := openCapture(*captureSource)
	if err != nil {
		slog.Error("failed to open capture source", "err", err)
		return 1
	}
	defer closeMic()

	deck, err := beepdeck.New(audio.PlaybackRate)
	if err != nil {
		slog.Error("failed to open playback deck", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────
	application, err := app.New(cfg, app.Devices{
		Voice:     provider,
		Deck:      deck,
		Scheduler: sched,
		Output:    spk,
		Capture:   mic,
	}, logger)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *activateMode != "" {
		if err := activateVoice(ctx, application, *activateMode); err != nil {
			slog.Error("failed to activate voice session", "mode", *activateMode, "err", err)
			return 1
		}
	}

	slog.Info("ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerVoiceProviders wires the built-in voice backends into reg.
func registerVoiceProviders(reg *config.Registry) {
	reg.RegisterVoice("gemini", func(vc config.VoiceConfig) (voice.Provider, error) {
		var opts []gemini.Option
		if vc.Model != "" {
			opts = append(opts, gemini.WithModel(vc.Model))
		}
		if vc.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(vc.BaseURL))
		}
		return gemini.New(vc.APIKey, opts...), nil
	})

	reg.RegisterVoice("openai", func(vc config.VoiceConfig) (voice.Provider, error) {
		var opts []openai.Option
		if vc.Model != "" {
			opts = append(opts, openai.WithModel(vc.Model))
		}
		if vc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(vc.BaseURL))
		}
		return openai.New(vc.APIKey, opts...), nil
	})
}

// openCapture selects the microphone implementation. With no source the
// session sends silence, which keeps the voice connection alive and lets the
// remote end drive the conversation through transcripts.
func openCapture(source string) (capture.Device, func(), error) {
	if source == "" {
		return capture.NewReaderSource(silence{}, audio.CaptureRate), func() {}, nil
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, nil, fmt.Errorf("open capture source %q: %w", source, err)
	}
	return capture.NewReaderSource(f, audio.CaptureRate), func() { _ = f.Close() }, nil
}

// silence is an endless zero-sample PCM stream.
type silence struct{}

func (silence) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// activateVoice opens a session in mode and logs its lifecycle.
func activateVoice(ctx context.Context, application *app.App, mode string) error {
	mgr := application.Sessions()
	return mgr.Activate(ctx, mode, session.Callbacks{
		OnTranscript: func(role, text string) {
			slog.Info("transcript", "role", role, "text", text)
		},
		OnStatus: func(s session.Status) {
			slog.Debug("session status", "status", s)
		},
		OnFailure: func(err error) {
			slog.Error("voice session failed", "err", err)
		},
		OnClosed: func() {
			slog.Info("voice session closed by remote")
			_ = mgr.Deactivate()
		},
	})
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
