// Package session owns the lifecycle of one remote voice session: device
// acquisition, connection handshake, capture wiring, inbound event dispatch,
// and teardown.
//
// Exactly one session may be live per manager. All inbound traffic flows
// through a single sequential dispatch loop, so the ordering of
// playback-affecting events (speech chunks, interruptions, tool calls) is
// exactly their arrival order on the wire, and the scheduler's accumulator
// is never touched from two paths at once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cadenza-app/cadenza/internal/observe"
	"github.com/cadenza-app/cadenza/pkg/audio"
	"github.com/cadenza-app/cadenza/pkg/audio/capture"
	"github.com/cadenza-app/cadenza/pkg/audio/scheduler"
	"github.com/cadenza-app/cadenza/pkg/provider/voice"
)

// State is the session lifecycle state. Transitions are strictly ordered:
// Idle → Connecting → Connected → {Error | Closed} → Idle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateError
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is a user-facing session activity notification.
type Status string

const (
	// StatusListening means the session is waiting for user speech.
	StatusListening Status = "listening"

	// StatusSpeaking means model speech is being scheduled for playback.
	StatusSpeaking Status = "speaking"
)

// Sentinel activation failures.
var (
	// ErrMissingCredential means no access credential is configured. The
	// activation aborts with no side effects.
	ErrMissingCredential = errors.New("session: missing access credential")

	// ErrSessionActive means an activation is already in flight or live.
	ErrSessionActive = errors.New("session: activation already in flight")

	// ErrUnknownMode means no persona is configured for the requested mode.
	ErrUnknownMode = errors.New("session: unknown listening mode")
)

// DefaultErrorDeactivateDelay is how long after a remote error the session
// auto-deactivates if the caller has not.
const DefaultErrorDeactivateDelay = 3 * time.Second

// resultDone is sent back for tool calls whose handler returned no result.
const resultDone = "done"

// Callbacks receives session notifications. All fields are optional.
type Callbacks struct {
	// OnTranscript receives transcription fragments; role is "user" or
	// "model".
	OnTranscript func(role, text string)

	// OnStatus receives listening/speaking activity changes.
	OnStatus func(Status)

	// OnFailure receives a user-visible message when the session fails.
	OnFailure func(err error)

	// OnClosed fires when the remote side closed the session; the caller
	// should deactivate.
	OnClosed func()
}

// OutputPath is the output-rate audio device the session resumes on
// activation and suspends on teardown.
type OutputPath interface {
	Resume() error
	Suspend() error
}

// Dispatcher routes one tool call to its local handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, call voice.FunctionCall) (string, error)
}

// Config carries the manager's static configuration.
type Config struct {
	// APIKey is the access credential; empty fails every activation fast.
	APIKey string

	// Personas maps listening-mode names to their persona.
	Personas map[string]voice.Persona

	// Tools is the tool table declared at session setup.
	Tools []voice.ToolDefinition

	// CaptureBlockFrames is the outbound capture block size. Defaults to
	// audio.CaptureBlockFrames.
	CaptureBlockFrames int

	// ErrorDeactivateDelay overrides DefaultErrorDeactivateDelay.
	ErrorDeactivateDelay time.Duration
}

// Manager owns at most one live voice session. Safe for concurrent use.
type Manager struct {
	provider   voice.Provider
	sched      *scheduler.Scheduler
	capture    capture.Device
	output     OutputPath
	dispatcher Dispatcher
	metrics    *observe.Metrics
	log        *slog.Logger
	cfg        Config

	mu          sync.Mutex
	state       State
	sess        voice.Session
	cb          Callbacks
	mode        string
	closing     bool
	counted     bool
	errTimer    *time.Timer
	dispatchEnd context.CancelFunc
	loopDone    chan struct{}
}

// NewManager creates a Manager. The scheduler, capture device, and output
// path are owned by the caller but driven exclusively by the manager while a
// session is live.
func NewManager(
	provider voice.Provider,
	sched *scheduler.Scheduler,
	mic capture.Device,
	output OutputPath,
	dispatcher Dispatcher,
	cfg Config,
	metrics *observe.Metrics,
	log *slog.Logger,
) *Manager {
	if cfg.CaptureBlockFrames <= 0 {
		cfg.CaptureBlockFrames = audio.CaptureBlockFrames
	}
	if cfg.ErrorDeactivateDelay <= 0 {
		cfg.ErrorDeactivateDelay = DefaultErrorDeactivateDelay
	}
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Manager{
		provider:   provider,
		sched:      sched,
		capture:    mic,
		output:     output,
		dispatcher: dispatcher,
		metrics:    metrics,
		log:        log,
		cfg:        cfg,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetMode selects the listening mode used by the next activation. A mode
// change while a session is live does not reconnect it; the new persona
// takes effect on the next fresh activation.
func (m *Manager) SetMode(mode string) error {
	if _, ok := m.cfg.Personas[mode]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	m.mu.Lock()
	live := m.state == StateConnecting || m.state == StateConnected
	m.mode = mode
	m.mu.Unlock()

	if live {
		m.log.Info("mode change deferred to next activation", "mode", mode)
	}
	return nil
}

// Mode returns the currently selected listening mode.
func (m *Manager) Mode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Activate opens a voice session for mode. It fails fast with
// ErrMissingCredential when no credential is configured, and with
// ErrSessionActive when an activation is already in flight. An empty mode
// reuses the last selected one.
func (m *Manager) Activate(ctx context.Context, mode string, cb Callbacks) error {
	if m.cfg.APIKey == "" {
		return ErrMissingCredential
	}

	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrSessionActive
	}
	if mode == "" {
		mode = m.mode
	}
	persona, ok := m.cfg.Personas[mode]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	m.state = StateConnecting
	m.mode = mode
	m.cb = cb
	m.closing = false
	m.mu.Unlock()

	m.log.Info("activating voice session", "mode", mode)

	if err := m.openDevices(); err != nil {
		m.failActivation(fmt.Errorf("session: acquire audio devices: %w", err))
		return nil
	}

	sess, err := m.provider.Connect(ctx, voice.SessionConfig{
		Persona:         persona,
		Tools:           m.cfg.Tools,
		TranscribeInput: true,
	})
	if err != nil {
		m.failActivation(fmt.Errorf("session: connect: %w", err))
		return nil
	}

	if err := m.capture.Start(m.cfg.CaptureBlockFrames, func(block []float32) {
		m.transmitBlock(sess, block)
	}); err != nil {
		_ = sess.Close()
		m.failActivation(fmt.Errorf("session: start capture: %w", err))
		return nil
	}

	dispatchCtx, dispatchEnd := context.WithCancel(context.Background())
	loopDone := make(chan struct{})

	m.mu.Lock()
	m.sess = sess
	m.state = StateConnected
	m.counted = true
	m.dispatchEnd = dispatchEnd
	m.loopDone = loopDone
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(context.Background(), 1)
	m.notifyStatus(StatusListening)
	m.log.Info("voice session connected", "mode", mode)

	go m.dispatchLoop(dispatchCtx, sess, loopDone)
	return nil
}

// openDevices resumes both audio paths, either of which may be suspended.
func (m *Manager) openDevices() error {
	if err := m.capture.Resume(); err != nil {
		return fmt.Errorf("capture path: %w", err)
	}
	if err := m.output.Resume(); err != nil {
		return fmt.Errorf("output path: %w", err)
	}
	return nil
}

// failActivation moves a failed activation into Error, notifies the caller,
// and schedules the automatic deactivation.
func (m *Manager) failActivation(err error) {
	m.log.Error("session activation failed", "err", err)

	m.mu.Lock()
	m.state = StateError
	cb := m.cb.OnFailure
	m.mu.Unlock()

	if cb != nil {
		cb(fmt.Errorf("session: voice connection failed"))
	}
	m.scheduleAutoDeactivate()
}

// scheduleAutoDeactivate arms the post-error deactivation timer unless the
// caller already deactivated.
func (m *Manager) scheduleAutoDeactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errTimer != nil {
		return
	}
	m.errTimer = time.AfterFunc(m.cfg.ErrorDeactivateDelay, func() {
		m.mu.Lock()
		m.errTimer = nil
		m.mu.Unlock()
		m.log.Info("auto-deactivating after session error")
		_ = m.Deactivate()
	})
}

// transmitBlock encodes one capture block and sends it. Blocks are
// transmitted in capture order; the device invokes this callback serially.
func (m *Manager) transmitBlock(sess voice.Session, block []float32) {
	pkt := audio.EncodeOutbound(block)
	if err := sess.SendAudio(pkt); err != nil {
		m.log.Warn("dropping capture block", "err", err)
		return
	}
	m.metrics.CaptureBlocks.Add(context.Background(), 1)
}

// dispatchLoop is the single inbound entry point. Every event type maps to
// one transition or side effect; the loop exits when the session's event
// channel closes.
func (m *Manager) dispatchLoop(ctx context.Context, sess voice.Session, done chan<- struct{}) {
	for ev := range sess.Events() {
		switch ev.Type {
		case voice.EventTranscript:
			m.notifyTranscript(ev.Role, ev.Text)

		case voice.EventAudio:
			m.scheduleSpeech(ev)

		case voice.EventInterrupted:
			m.sched.Flush()
			m.metrics.SchedulerFlushes.Add(ctx, 1)
			m.notifyStatus(StatusListening)

		case voice.EventToolCall:
			m.dispatchToolCalls(ctx, sess, ev.Calls)

		case voice.EventTurnComplete:
			m.notifyStatus(StatusListening)
		}
	}

	// Closing done before the end-of-stream notification lets callbacks
	// call Deactivate synchronously without deadlocking on the loop.
	close(done)
	m.handleSessionEnd(sess)
}

// scheduleSpeech decodes one model speech chunk and enqueues it. A malformed
// frame fails that single decode, never the session.
func (m *Manager) scheduleSpeech(ev voice.Event) {
	frame, err := audio.DecodeInbound(ev.Packet, ev.SampleRate, ev.Channels)
	if err != nil {
		m.log.Warn("discarding malformed speech frame", "err", err)
		m.metrics.DecodeFailures.Add(context.Background(), 1)
		return
	}
	m.sched.Enqueue(frame)
	m.metrics.SpeechChunksScheduled.Add(context.Background(), 1)
	m.notifyStatus(StatusSpeaking)
}

// dispatchToolCalls runs calls strictly in arrival order, one at a time, to
// preserve causal ordering of playback-affecting actions. A handler failure
// is logged and swallowed: no response is sent for that call and the
// remaining calls still run.
func (m *Manager) dispatchToolCalls(ctx context.Context, sess voice.Session, calls []voice.FunctionCall) {
	for _, call := range calls {
		start := time.Now()
		result, err := m.dispatcher.Dispatch(ctx, call)
		m.metrics.RecordToolCall(ctx, call.Name, time.Since(start).Seconds(), err != nil)

		if err != nil {
			m.log.Error("tool call failed", "tool", call.Name, "id", call.ID, "err", err)
			continue
		}
		if result == "" {
			result = resultDone
		}
		if err := sess.SendToolResult(call.ID, call.Name, result); err != nil {
			m.log.Warn("could not return tool result", "tool", call.Name, "err", err)
		}
	}
}

// handleSessionEnd classifies why the event stream ended: a locally
// initiated teardown needs nothing, a remote error enters Error and arms the
// auto-deactivation, and a clean remote close asks the caller to deactivate.
func (m *Manager) handleSessionEnd(sess voice.Session) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	err := sess.Err()
	var notify func()
	if err != nil {
		m.state = StateError
		if cb := m.cb.OnFailure; cb != nil {
			notify = func() { cb(fmt.Errorf("session: voice connection failed")) }
		}
	} else {
		m.state = StateClosed
		if cb := m.cb.OnClosed; cb != nil {
			notify = cb
		}
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Error("voice session ended with error", "err", err)
	} else {
		m.log.Info("voice session closed by remote")
	}
	if notify != nil {
		notify()
	}
	if err != nil {
		m.scheduleAutoDeactivate()
	}
}

// Deactivate tears the session down: closes the remote session best-effort,
// stops the capture stream, suspends the output path, flushes all pending
// playback, and returns to Idle. Safe to call multiple times and from both
// caller-initiated and lifecycle-initiated paths; resources are released
// exactly once.
func (m *Manager) Deactivate() error {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return nil
	}
	wasCounted := m.counted
	m.counted = false
	m.closing = true
	sess := m.sess
	m.sess = nil
	timer := m.errTimer
	m.errTimer = nil
	dispatchEnd := m.dispatchEnd
	m.dispatchEnd = nil
	loopDone := m.loopDone
	m.loopDone = nil
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if sess != nil {
		if err := sess.Close(); err != nil {
			m.log.Debug("session close", "err", err)
		}
	}
	if dispatchEnd != nil {
		dispatchEnd()
	}
	if loopDone != nil {
		<-loopDone
	}

	if err := m.capture.Stop(); err != nil {
		m.log.Warn("stopping capture", "err", err)
	}
	if err := m.output.Suspend(); err != nil {
		m.log.Warn("suspending output path", "err", err)
	}

	m.sched.Flush()

	m.mu.Lock()
	m.state = StateIdle
	m.cb = Callbacks{}
	m.mu.Unlock()

	if wasCounted {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	m.log.Info("voice session deactivated")
	return nil
}

func (m *Manager) notifyTranscript(role, text string) {
	m.mu.Lock()
	cb := m.cb.OnTranscript
	m.mu.Unlock()
	if cb != nil {
		cb(role, text)
	}
}

func (m *Manager) notifyStatus(s Status) {
	m.mu.Lock()
	cb := m.cb.OnStatus
	m.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}
