// Package voice defines the Provider interface for real-time voice-model
// backends.
//
// A voice provider wraps a bidirectional streaming service that accepts raw
// microphone audio and returns synthesised speech, transcripts, and tool
// invocations over a single stateful session. All inbound traffic is
// surfaced as a typed [Event] stream on one channel, so the consumer can run
// a single sequential dispatch loop — the ordering of playback-affecting
// events (speech chunks, interruptions, tool calls) is exactly their arrival
// order on the wire.
//
// All implementations must be safe for concurrent use.
package voice

import (
	"context"
	"time"

	"github.com/cadenza-app/cadenza/pkg/audio"
)

// Persona is the per-mode voice and instruction configuration selected at
// session activation. It is immutable for the lifetime of a session.
type Persona struct {
	// VoiceID selects the provider voice used for synthesised speech.
	VoiceID string

	// Instruction is the system-level prompt for this listening mode.
	Instruction string
}

// ToolDefinition declares one callable function offered to the model at
// session setup.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// FunctionCall is one tool invocation requested by the model.
type FunctionCall struct {
	// ID tags the call; the result sent via [Session.SendToolResult] must
	// carry the same ID.
	ID string

	// Name is the declared tool name.
	Name string

	// Args holds the decoded call arguments.
	Args map[string]any
}

// SessionConfig is the initial configuration for a new voice session.
type SessionConfig struct {
	// Persona selects voice and instructions.
	Persona Persona

	// Tools is the tool table declared to the model at setup.
	Tools []ToolDefinition

	// TranscribeInput requests transcription of the user's speech alongside
	// the model's own output transcription.
	TranscribeInput bool
}

// EventType discriminates the variants of [Event].
type EventType int

const (
	// EventTranscript carries a transcription fragment (user or model).
	EventTranscript EventType = iota

	// EventAudio carries one chunk of synthesised model speech.
	EventAudio

	// EventInterrupted signals a barge-in: all pending output audio must be
	// discarded immediately.
	EventInterrupted

	// EventToolCall carries one or more tool invocations, in arrival order.
	EventToolCall

	// EventTurnComplete marks the end of a model response turn.
	EventTurnComplete
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventTranscript:
		return "transcript"
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventToolCall:
		return "tool_call"
	case EventTurnComplete:
		return "turn_complete"
	default:
		return "unknown"
	}
}

// Event is one inbound session event. Exactly the fields relevant to Type
// are populated.
type Event struct {
	Type EventType

	// Role is "user" or "model" for EventTranscript.
	Role string

	// Text is the transcription fragment for EventTranscript.
	Text string

	// Packet holds the still-encoded speech payload for EventAudio. Decoding
	// is left to the consumer so a malformed chunk fails one decode rather
	// than the session's receive loop.
	Packet audio.TransportPacket

	// SampleRate and Channels describe the EventAudio payload as declared by
	// the transport message.
	SampleRate int
	Channels   int

	// Calls lists the tool invocations for EventToolCall.
	Calls []FunctionCall
}

// Capabilities describes static properties of a voice provider.
type Capabilities struct {
	// Voices lists the voice IDs available for this provider.
	Voices []string

	// MaxSessionDuration is the provider-imposed upper bound on session
	// lifetime. Zero means no documented limit.
	MaxSessionDuration time.Duration
}

// Session is an open voice session.
//
// Events returns the single inbound stream; the channel is closed when the
// session ends, after which Err reports whether it ended cleanly. Consumers
// must drain Events promptly to avoid stalling the provider's receive loop.
//
// Callers must call Close when the session is no longer needed. Close is
// idempotent.
type Session interface {
	// SendAudio transmits one encoded capture block to the model.
	SendAudio(pkt audio.TransportPacket) error

	// SendToolResult returns a tool call's result to the model, tagged with
	// the originating call's id and name.
	SendToolResult(id, name, result string) error

	// Events returns the inbound event stream.
	Events() <-chan Event

	// Err returns the error that closed the Events channel prematurely, or
	// nil if the session ended cleanly (remote close or local Close).
	Err() error

	// Close terminates the session and releases its resources.
	Close() error
}

// Provider is the abstraction over any real-time voice backend.
type Provider interface {
	// Connect establishes a new session. The returned Session is ready to
	// accept audio immediately. The caller owns it and must call Close.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
