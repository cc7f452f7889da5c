// Package mock provides test doubles for the voice package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions. Use
// Session to drive the inbound event stream and inspect which methods the
// session manager invoked.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	got, _ := p.Connect(ctx, cfg)
//	sess.Emit(voice.Event{Type: voice.EventInterrupted})
package mock

import (
	"context"
	"sync"

	"github.com/cadenza-app/cadenza/pkg/audio"
	"github.com/cadenza-app/cadenza/pkg/provider/voice"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg voice.SessionConfig
}

// Provider is a mock implementation of voice.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the Session returned by Connect. If nil, Connect returns a
	// new default Session.
	Session voice.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities voice.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg voice.SessionConfig) (voice.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities records the call and returns ProviderCapabilities.
func (p *Provider) Capabilities() voice.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ProviderCapabilities
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
	p.CapabilitiesCallCount = 0
}

// Ensure Provider implements voice.Provider at compile time.
var _ voice.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Packet is the transport packet passed to SendAudio.
	Packet audio.TransportPacket
}

// ToolResultCall records a single invocation of Session.SendToolResult.
type ToolResultCall struct {
	ID     string
	Name   string
	Result string
}

// Session is a mock implementation of voice.Session. Feed inbound events
// with Emit; end the session with End (closes the event stream).
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). NewSession buffers it.
	EventsCh chan voice.Event

	// --- Configurable errors ---

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendToolResultErr, if non-nil, is returned by every SendToolResult call.
	SendToolResultErr error

	// SessionErr is returned by Err.
	SessionErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// ToolResultCalls records every call to SendToolResult in order.
	ToolResultCalls []ToolResultCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	ended bool
}

// NewSession creates a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{EventsCh: make(chan voice.Event, 64)}
}

// Emit delivers one inbound event to the session consumer.
func (s *Session) Emit(ev voice.Event) {
	s.EventsCh <- ev
}

// End closes the event channel, simulating session termination. Safe to call
// more than once.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.EventsCh)
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(pkt audio.TransportPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Packet: pkt})
	return s.SendAudioErr
}

// SendToolResult records the call and returns SendToolResultErr.
func (s *Session) SendToolResult(id, name, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolResultCalls = append(s.ToolResultCalls, ToolResultCall{ID: id, Name: name, Result: result})
	return s.SendToolResultErr
}

// Events returns EventsCh.
func (s *Session) Events() <-chan voice.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Err returns SessionErr.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SessionErr
}

// Close records the call, ends the event stream, and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	err := s.CloseErr
	ended := s.ended
	s.ended = true
	s.mu.Unlock()
	if !ended {
		close(s.EventsCh)
	}
	return err
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = nil
	s.ToolResultCalls = nil
	s.CloseCallCount = 0
}

// Ensure Session implements voice.Session at compile time.
var _ voice.Session = (*Session)(nil)
