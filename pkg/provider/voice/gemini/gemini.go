// Package gemini implements the voice.Provider interface for Google's Gemini
// Live API.
//
// It opens a bidirectional WebSocket to the Live endpoint and exchanges JSON
// messages per the BidiGenerateContent protocol. Capture audio goes out as
// base64 PCM media chunks; model speech, transcripts, interruptions, and
// tool calls come back as a single ordered [voice.Event] stream.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
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
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// eventBuf is the buffer depth of the session event channel. Speech
	// chunks dominate the stream; 64 chunks is several seconds of audio.
	eventBuf = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements voice.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a Gemini Live Provider with the given API key and options.
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

// Capabilities returns static metadata about the Gemini Live provider.
func (p *Provider) Capabilities() voice.Capabilities {
	return voice.Capabilities{
		Voices:             []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"},
		MaxSessionDuration: 15 * time.Minute,
	}
}

// Connect establishes a new Gemini Live session. The returned Session is
// ready to accept audio once the setup message has been sent.
func (p *Provider) Connect(ctx context.Context, cfg voice.SessionConfig) (voice.Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan voice.Event, eventBuf),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSetup(p.model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                   string             `json:"model"`
	GenerationConfig        generationConfig   `json:"generationConfig"`
	SystemInstruction       *systemInstruction `json:"systemInstruction,omitempty"`
	Tools                   []liveTool         `json:"tools,omitempty"`
	InputAudioTranscription *json.RawMessage   `json:"inputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type liveTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete        *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent        *serverContent   `json:"serverContent,omitempty"`
	ToolCall             *toolCallMsg     `json:"toolCall,omitempty"`
	ToolCallCancellation *json.RawMessage `json:"toolCallCancellation,omitempty"`
	Error                *liveError       `json:"error,omitempty"`
}

type liveError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
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

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *session) sendSetup(model string, cfg voice.SessionConfig) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
			},
		},
	}

	if cfg.Persona.Instruction != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Persona.Instruction}},
		}
	}

	if cfg.Persona.VoiceID != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Persona.VoiceID},
			},
		}
	}

	if cfg.TranscribeInput {
		empty := json.RawMessage(`{}`)
		msg.Setup.InputAudioTranscription = &empty
	}

	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		msg.Setup.Tools = []liveTool{{FunctionDeclarations: decls}}
	}

	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and translates them into
// voice events. It owns the events channel and closes it on exit.
func (s *session) receiveLoop() {
	defer s.closeOnce.Do(func() { close(s.events) })

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// A cancelled session context means local Close: clean exit.
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.setErr(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		s.translate(&msg)
	}
}

// translate maps one server message to zero or more voice events, preserving
// wire order within the message: transcripts, audio parts, then the
// interruption or turn marker, then tool calls.
func (s *session) translate(msg *serverMessage) {
	if msg.Error != nil {
		s.setErr(fmt.Errorf("gemini: %s", errMessage(msg.Error)))
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			s.emit(voice.Event{Type: voice.EventTranscript, Role: "user", Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			s.emit(voice.Event{Type: voice.EventTranscript, Role: "model", Text: sc.OutputTranscription.Text})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && p.InlineData.Data != "" {
					s.emit(audioEvent(p.InlineData))
				}
				if p.Text != "" {
					s.emit(voice.Event{Type: voice.EventTranscript, Role: "model", Text: p.Text})
				}
			}
		}
		if sc.Interrupted {
			s.emit(voice.Event{Type: voice.EventInterrupted})
		}
		if sc.TurnComplete {
			s.emit(voice.Event{Type: voice.EventTurnComplete})
		}
	}

	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		calls := make([]voice.FunctionCall, len(msg.ToolCall.FunctionCalls))
		for i, fc := range msg.ToolCall.FunctionCalls {
			calls[i] = voice.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args}
		}
		s.emit(voice.Event{Type: voice.EventToolCall, Calls: calls})
	}
}

// emit delivers ev on the event channel, giving up if the session ends.
func (s *session) emit(ev voice.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// audioEvent builds an EventAudio from an inline data part. The payload
// stays base64-encoded; sample rate is parsed from the MIME tag and defaults
// to the 24 kHz mono speech format.
func audioEvent(d *inlineData) voice.Event {
	return voice.Event{
		Type: voice.EventAudio,
		Packet: audio.TransportPacket{
			Payload:  d.Data,
			MIMEType: d.MIMEType,
		},
		SampleRate: rateFromMIME(d.MIMEType, audio.PlaybackRate),
		Channels:   1,
	}
}

// rateFromMIME extracts the rate parameter from tags like
// "audio/pcm;rate=24000", falling back to def.
func rateFromMIME(mime string, def int) int {
	const key = "rate="
	i := strings.Index(mime, key)
	if i < 0 {
		return def
	}
	tail := mime[i+len(key):]
	if j := strings.IndexByte(tail, ';'); j >= 0 {
		tail = tail[:j]
	}
	rate, err := strconv.Atoi(tail)
	if err != nil || rate <= 0 {
		return def
	}
	return rate
}

func errMessage(le *liveError) string {
	if le.Message != "" {
		return le.Message
	}
	return "unknown error"
}

// keepaliveLoop sends WebSocket pings to keep the Live connection alive.
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

// SendAudio transmits one encoded capture block as a realtime media chunk.
func (s *session) SendAudio(pkt audio.TransportPacket) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("gemini: session closed")
	}
	s.mu.Unlock()

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: pkt.MIMEType, Data: pkt.Payload},
			},
		},
	}
	return s.writeJSON(msg)
}

// SendToolResult returns a tool call's result, tagged with the call id.
// Results that parse as JSON objects are passed through; anything else is
// wrapped as {"result": ...}.
func (s *session) SendToolResult(id, name, result string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("gemini: session closed")
	}
	s.mu.Unlock()

	var respObj map[string]any
	if err := json.Unmarshal([]byte(result), &respObj); err != nil {
		respObj = map[string]any{"result": result}
	}

	return s.writeJSON(toolResponseMessage{
		ToolResponse: toolResponse{
			FunctionResponses: []functionResponse{
				{ID: id, Name: name, Response: respObj},
			},
		},
	})
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

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
