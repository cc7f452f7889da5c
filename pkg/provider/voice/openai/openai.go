// Package openai implements the voice.Provider interface for OpenAI's
// Realtime API.
//
// It speaks the Realtime WebSocket event protocol: session.update configures
// voice and tools, capture audio goes out as input_audio_buffer.append
// events, and model speech, transcripts, barge-ins, and function calls come
// back as a single ordered [voice.Event] stream.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/cadenza-app/cadenza/pkg/audio"
	"github.com/cadenza-app/cadenza/pkg/provider/voice"
)

// Compile-time assertions that Provider and session satisfy the voice interfaces.
var _ voice.Provider = (*Provider)(nil)
var _ voice.Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// The Realtime API speaks 24 kHz mono PCM16 in both directions.
	outputSampleRate = 24000

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	eventBuf = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Realtime model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements voice.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the Realtime provider.
func (p *Provider) Capabilities() voice.Capabilities {
	return voice.Capabilities{
		Voices:             []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
		MaxSessionDuration: 30 * time.Minute,
	}
}

// Connect establishes a new Realtime session and sends the initial
// session.update carrying voice, instructions, and the tool table.
func (p *Provider) Connect(ctx context.Context, cfg voice.SessionConfig) (voice.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan voice.Event, eventBuf),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection       `json:"turn_detection,omitempty"`
	Tools                   []realtimeTool       `json:"tools,omitempty"`
}

type transcriptionConfig struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type realtimeTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type itemCreateEvent struct {
	Type string       `json:"type"`
	Item functionItem `json:"item"`
}

type functionItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type responseCreateEvent struct {
	Type string `json:"type"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type       string         `json:"type"`
	Delta      string         `json:"delta,omitempty"`
	Transcript string         `json:"transcript,omitempty"`
	CallID     string         `json:"call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Arguments  string         `json:"arguments,omitempty"`
	Error      *realtimeError `json:"error,omitempty"`
}

type realtimeError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan voice.Event

	mu     sync.Mutex
	errVal error
	closed bool

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate sends the initial session.update configuring audio
// formats, persona, transcription, and tools.
func (s *session) sendSessionUpdate(cfg voice.SessionConfig) error {
	update := sessionUpdateEvent{
		Type: "session.update",
		Session: sessionConfig{
			Modalities:        []string{"audio", "text"},
			Instructions:      cfg.Persona.Instruction,
			Voice:             cfg.Persona.VoiceID,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection:     &turnDetection{Type: "server_vad"},
		},
	}

	if cfg.TranscribeInput {
		update.Session.InputAudioTranscription = &transcriptionConfig{Model: "whisper-1"}
	}

	for _, t := range cfg.Tools {
		update.Session.Tools = append(update.Session.Tools, realtimeTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	return s.writeJSON(update)
}

func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads Realtime events from the WebSocket and translates them
// into voice events. It owns the events channel and closes it on exit.
func (s *session) receiveLoop() {
	defer s.closeOnce.Do(func() { close(s.events) })

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.setErr(err)
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue // skip malformed frames
		}

		s.translate(&ev)
	}
}

// translate maps one Realtime server event to zero or one voice events.
func (s *session) translate(ev *serverEvent) {
	switch ev.Type {
	case "response.audio.delta":
		if ev.Delta == "" {
			return
		}
		s.emit(voice.Event{
			Type: voice.EventAudio,
			Packet: audio.TransportPacket{
				Payload:  ev.Delta,
				MIMEType: fmt.Sprintf("audio/pcm;rate=%d", outputSampleRate),
			},
			SampleRate: outputSampleRate,
			Channels:   1,
		})

	case "response.audio_transcript.delta":
		if ev.Delta != "" {
			s.emit(voice.Event{Type: voice.EventTranscript, Role: "model", Text: ev.Delta})
		}

	case "conversation.item.input_audio_transcription.completed":
		if ev.Transcript != "" {
			s.emit(voice.Event{Type: voice.EventTranscript, Role: "user", Text: ev.Transcript})
		}

	case "input_audio_buffer.speech_started":
		// Server-side VAD detected the user talking over the model.
		s.emit(voice.Event{Type: voice.EventInterrupted})

	case "response.function_call_arguments.done":
		var args map[string]any
		if err := json.Unmarshal([]byte(ev.Arguments), &args); err != nil {
			args = map[string]any{}
		}
		s.emit(voice.Event{
			Type:  voice.EventToolCall,
			Calls: []voice.FunctionCall{{ID: ev.CallID, Name: ev.Name, Args: args}},
		})

	case "response.done":
		s.emit(voice.Event{Type: voice.EventTurnComplete})

	case "error":
		if ev.Error != nil {
			s.setErr(fmt.Errorf("openai: %s: %s", ev.Error.Code, ev.Error.Message))
		}
	}
}

func (s *session) emit(ev voice.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// keepaliveLoop sends WebSocket pings to keep the Realtime connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// ── Session methods ────────────────────────────────────────────────────────────

// SendAudio appends one encoded capture block to the input audio buffer. The
// server's VAD decides turn boundaries, so no commit is sent.
func (s *session) SendAudio(pkt audio.TransportPacket) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(audioAppendEvent{
		Type:  "input_audio_buffer.append",
		Audio: pkt.Payload,
	})
}

// SendToolResult returns a function call's output, then requests a new model
// response so the conversation continues.
func (s *session) SendToolResult(id, _ string, result string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	if err := s.writeJSON(itemCreateEvent{
		Type: "conversation.item.create",
		Item: functionItem{
			Type:   "function_call_output",
			CallID: id,
			Output: result,
		},
	}); err != nil {
		return err
	}
	return s.writeJSON(responseCreateEvent{Type: "response.create"})
}

// Events returns the inbound event stream.
func (s *session) Events() <-chan voice.Event { return s.events }

// Err returns the first non-nil error that terminated the session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	close(s.done)
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
