// Package app wires all Cadenza subsystems into a running application.
//
// New connects the playback pipeline (deck, engine, jukebox), the tool
// bridge, and the voice session manager from config plus injected device and
// provider implementations. Run serves metrics and health probes and drives
// the voice session; Shutdown tears everything down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cadenza-app/cadenza/internal/bridge"
	"github.com/cadenza-app/cadenza/internal/config"
	"github.com/cadenza-app/cadenza/internal/health"
	"github.com/cadenza-app/cadenza/internal/jukebox"
	"github.com/cadenza-app/cadenza/internal/observe"
	"github.com/cadenza-app/cadenza/internal/resilience"
	"github.com/cadenza-app/cadenza/internal/session"
	"github.com/cadenza-app/cadenza/pkg/audio/capture"
	"github.com/cadenza-app/cadenza/pkg/audio/scheduler"
	"github.com/cadenza-app/cadenza/pkg/player"
	"github.com/cadenza-app/cadenza/pkg/provider/voice"
)

// Devices holds the platform implementations main.go injects. All fields are
// required except Voice, which may be nil when no provider is configured.
type Devices struct {
	// Voice is the configured voice backend.
	Voice voice.Provider

	// Deck is the local playback device.
	Deck player.Deck

	// Scheduler is the model-speech output schedule, already wired to its
	// sink and clock.
	Scheduler *scheduler.Scheduler

	// Output is the output path suspended between sessions.
	Output session.OutputPath

	// Capture is the microphone path.
	Capture capture.Device
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	engine   *player.Engine
	box      *jukebox.Controller
	sessions *session.Manager
	hh       *health.Handler

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// New wires the application. The playback engine's fault and completion
// callbacks land in the jukebox controller, the controller and session
// manager back the tool bridge, and the bridge's declarations form the tool
// table offered at session setup.
func New(cfg *config.Config, devices Devices, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}

	// The controller and engine reference each other through the engine's
	// event callbacks, so the engine is built first with late-bound hooks.
	var box *jukebox.Controller
	a.engine = player.New(devices.Deck, player.Events{
		OnStarted: func() { box.HandleStarted() },
		OnError:   func(err error) { box.HandleError(err) },
		OnEnded:   func() { box.HandleEnded() },
	}, log.With("component", "player"))
	a.closers = append(a.closers, a.engine.Close)

	catalog := make([]jukebox.Track, 0, len(cfg.Library))
	for _, t := range cfg.Library {
		catalog = append(catalog, jukebox.Track{ID: t.ID, Title: t.Title, URL: t.URL})
	}
	playlist := jukebox.NewPlaylist(catalog...)

	var boxOpts []jukebox.Option
	if cfg.Playback.MaxTrackRetries != nil {
		boxOpts = append(boxOpts, jukebox.WithMaxRetries(*cfg.Playback.MaxTrackRetries))
	}
	box = jukebox.New(a.engine, playlist, log.With("component", "jukebox"), boxOpts...)
	a.box = box

	guarded := resilience.Guard(devices.Voice, resilience.NewBreaker("voice-connect",
		resilience.WithLogger(log.With("component", "breaker"))))

	// The bridge's mode-change action targets the session manager, which in
	// turn dispatches through the bridge; the proxy breaks the cycle.
	modes := &modeProxy{}
	actions := NewActions(box, a.engine, modes, catalog, log.With("component", "actions"))
	br := bridge.New(actions, log.With("component", "bridge"))

	mgr := session.NewManager(
		guarded,
		devices.Scheduler,
		devices.Capture,
		devices.Output,
		br,
		session.Config{
			APIKey:               cfg.Voice.APIKey,
			Personas:             personasFromConfig(cfg.Personas),
			Tools:                br.Declarations(),
			CaptureBlockFrames:   cfg.Playback.CaptureBlockFrames,
			ErrorDeactivateDelay: time.Duration(cfg.Playback.ErrorDeactivateDelaySeconds * float64(time.Second)),
		},
		observe.DefaultMetrics(),
		log.With("component", "session"),
	)
	modes.mgr = mgr
	a.sessions = mgr

	a.hh = health.New()
	a.hh.Add("voice", func(context.Context) error {
		if cfg.Voice.APIKey == "" {
			return fmt.Errorf("no credential configured")
		}
		if guarded.Breaker().State() == resilience.BreakerOpen {
			return fmt.Errorf("connect breaker is open")
		}
		return nil
	})
	a.hh.Add("library", func(context.Context) error {
		if len(cfg.Library) == 0 {
			return fmt.Errorf("track library is empty")
		}
		return nil
	})

	return a, nil
}

// modeProxy forwards mode changes to the session manager once it exists.
type modeProxy struct {
	mgr *session.Manager
}

func (p *modeProxy) SetMode(mode string) error { return p.mgr.SetMode(mode) }

// personasFromConfig converts the config persona list into the session
// manager's lookup table.
func personasFromConfig(list []config.PersonaConfig) map[string]voice.Persona {
	m := make(map[string]voice.Persona, len(list))
	for _, p := range list {
		m[p.Mode] = voice.Persona{VoiceID: p.VoiceID, Instruction: p.Instruction}
	}
	return m
}

// Sessions returns the voice session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Jukebox returns the playback controller.
func (a *App) Jukebox() *jukebox.Controller { return a.box }

// Run starts playback, serves metrics and health probes, and blocks until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	a.hh.Mount(mux)

	srv := &http.Server{
		Addr:              a.cfg.Server.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.box.PlayCurrent()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("metrics listener up", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: metrics listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// Shutdown deactivates any live voice session and tears down the playback
// pipeline. Closers run in init order; if ctx expires the remainder are
// skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")

		if err := a.sessions.Deactivate(); err != nil {
			a.log.Warn("session deactivation error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}
