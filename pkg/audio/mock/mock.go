// Package mock provides test doubles for the audio device interfaces: a
// manually advanced clock, a recording output sink, and a capture device the
// test drives by feeding blocks directly into the registered callback.
package mock

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cadenza-app/cadenza/pkg/audio/scheduler"
)

// Clock is a manually controlled scheduler.Clock.
type Clock struct {
	mu  sync.Mutex
	now float64
}

// Now returns the current manual time.
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d seconds.
func (c *Clock) Advance(d float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// Sink is a recording scheduler.Sink.
type Sink struct {
	mu sync.Mutex

	// Played records every buffer passed to Play, in order.
	Played []scheduler.Buffer

	// Stopped records every handle passed to Stop, in order.
	Stopped []uuid.UUID
}

// Play records buf.
func (s *Sink) Play(buf scheduler.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Played = append(s.Played, buf)
}

// Stop records handle.
func (s *Sink) Stop(handle uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stopped = append(s.Stopped, handle)
}

// PlayedCount returns the number of Play calls. Thread-safe.
func (s *Sink) PlayedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Played)
}

// StoppedCount returns the number of Stop calls. Thread-safe.
func (s *Sink) StoppedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Stopped)
}

// CaptureDevice is a capture.Device driven by the test: call Feed to deliver
// one block to the callback registered via Start.
type CaptureDevice struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// ResumeErr, if non-nil, is returned by Resume.
	ResumeErr error

	// StartCalls counts Start invocations.
	StartCalls int

	// StopCalls counts Stop invocations.
	StopCalls int

	// ResumeCalls counts Resume invocations.
	ResumeCalls int

	// BlockFrames is the block size requested by the last Start call.
	BlockFrames int

	fn func(block []float32)
}

// Resume records the call and returns ResumeErr.
func (d *CaptureDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResumeCalls++
	return d.ResumeErr
}

// Start registers fn as the capture callback.
func (d *CaptureDevice) Start(blockFrames int, fn func(block []float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StartCalls++
	if d.StartErr != nil {
		return d.StartErr
	}
	d.BlockFrames = blockFrames
	d.fn = fn
	return nil
}

// Stop deregisters the callback.
func (d *CaptureDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StopCalls++
	d.fn = nil
	return nil
}

// Feed delivers one block to the registered callback. Returns an error if no
// callback is registered (Start not called or Stop already called).
func (d *CaptureDevice) Feed(block []float32) error {
	d.mu.Lock()
	fn := d.fn
	d.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("mock: no capture callback registered")
	}
	fn(block)
	return nil
}

// OutputPath is a recording stand-in for the output audio path.
type OutputPath struct {
	mu sync.Mutex

	ResumeErr    error
	ResumeCalls  int
	SuspendCalls int
}

// Resume records the call and returns ResumeErr.
func (p *OutputPath) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ResumeCalls++
	return p.ResumeErr
}

// Suspend records the call.
func (p *OutputPath) Suspend() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SuspendCalls++
	return nil
}
