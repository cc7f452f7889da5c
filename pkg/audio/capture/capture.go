// Package capture defines the microphone abstraction for the voice session
// and a paced PCM reader source for headless use and tests.
//
// The session manager only depends on [Device]; platform adapters supply the
// hardware. [ReaderSource] adapts any PCM16LE byte stream (a file, a pipe, a
// recording) into a capture device that delivers fixed-size blocks at the
// rate a real microphone would.
package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Device is one input-rate audio path. Start wires a periodic capture
// callback receiving fixed-size blocks of linear mono samples; Stop releases
// the stream. Resume resumes a suspended device and is a no-op otherwise.
//
// Implementations must be safe for concurrent use. The callback is invoked
// from a single internal goroutine, one block at a time, in capture order.
type Device interface {
	Resume() error
	Start(blockFrames int, fn func(block []float32)) error
	Stop() error
}

// ReaderSource is a [Device] that reads PCM16LE mono samples from an
// io.Reader and delivers them in real time, paced by the block duration at
// its sample rate.
type ReaderSource struct {
	r          io.Reader
	sampleRate int

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewReaderSource wraps r, interpreting it as PCM16LE mono at sampleRate.
func NewReaderSource(r io.Reader, sampleRate int) *ReaderSource {
	return &ReaderSource{r: r, sampleRate: sampleRate}
}

// Resume is a no-op; a reader source is never suspended.
func (s *ReaderSource) Resume() error { return nil }

// Start begins the paced delivery loop. Each tick reads one block of
// blockFrames samples and hands it to fn. The loop ends at EOF or Stop.
func (s *ReaderSource) Start(blockFrames int, fn func(block []float32)) error {
	if blockFrames <= 0 {
		return fmt.Errorf("capture: block size must be positive, got %d", blockFrames)
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("capture: source already started")
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	interval := time.Duration(blockFrames) * time.Second / time.Duration(s.sampleRate)

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		raw := make([]byte, blockFrames*2)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n, err := io.ReadFull(s.r, raw)
				if n > 0 {
					fn(toFloat32(raw[:n&^1]))
				}
				if err != nil {
					if err != io.EOF && err != io.ErrUnexpectedEOF {
						slog.Warn("capture source read error", "err", err)
					}
					return
				}
			}
		}
	}()
	return nil
}

// Stop ends the delivery loop and waits for it to exit. Safe to call more
// than once and before Start.
func (s *ReaderSource) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop = nil
	s.started = false
	s.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

// toFloat32 converts PCM16LE bytes to linear samples in [-1, 1].
func toFloat32(raw []byte) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	return out
}
