// Package speaker implements the scheduler's output sink on top of the
// oto/v3 audio device. Each scheduled buffer becomes one oto player whose
// start is deferred until the buffer's planned start time, so the device
// honours the gapless timeline computed by the scheduler.
package speaker

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/google/uuid"

	"github.com/cadenza-app/cadenza/pkg/audio/scheduler"
)

// Compile-time assertion that Speaker satisfies the scheduler sink contract.
var _ scheduler.Sink = (*Speaker)(nil)

// player is the subset of *oto.Player the speaker drives. Narrowed to an
// interface so the write path can be tested without audio hardware.
type player interface {
	Play()
	Close() error
}

// Speaker is an output audio path at a fixed sample rate and channel count.
// It is safe for concurrent use.
type Speaker struct {
	ctx        *oto.Context
	clock      scheduler.Clock
	onComplete func(uuid.UUID)

	mu      sync.Mutex
	players map[uuid.UUID]player
	timers  []*time.Timer
	closed  bool
}

// New opens the output device at the given format and blocks until the
// device is ready. onComplete is invoked (on an internal timer goroutine)
// when a scheduled buffer finishes playing naturally; pass the scheduler's
// OnBufferComplete.
func New(sampleRate, channels int, clock scheduler.Clock, onComplete func(uuid.UUID)) (*Speaker, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("speaker: open device: %w", err)
	}
	<-ready

	if onComplete == nil {
		onComplete = func(uuid.UUID) {}
	}
	return &Speaker{
		ctx:        ctx,
		clock:      clock,
		onComplete: onComplete,
		players:    make(map[uuid.UUID]player),
	}, nil
}

// Resume resumes the device if it is suspended. Resuming a running device is
// a no-op.
func (s *Speaker) Resume() error {
	if err := s.ctx.Resume(); err != nil {
		return fmt.Errorf("speaker: resume: %w", err)
	}
	return nil
}

// Suspend pauses the device, releasing it for other applications.
func (s *Speaker) Suspend() error {
	if err := s.ctx.Suspend(); err != nil {
		return fmt.Errorf("speaker: suspend: %w", err)
	}
	return nil
}

// Play implements [scheduler.Sink]. The buffer's samples are quantized to
// PCM16LE and handed to a dedicated device player whose start is deferred
// until buf.PlannedStart on the shared clock.
func (s *Speaker) Play(buf scheduler.Buffer) {
	pcm := pcm16Bytes(buf.Frame.Samples)
	p := s.ctx.NewPlayer(bytes.NewReader(pcm))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = p.Close()
		return
	}
	s.players[buf.Handle] = p

	delay := time.Duration((buf.PlannedStart - s.clock.Now()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}

	start := time.AfterFunc(delay, p.Play)
	done := time.AfterFunc(delay+buf.Frame.Duration(), func() {
		s.release(buf.Handle)
		s.onComplete(buf.Handle)
	})
	s.timers = append(s.timers, start, done)
	s.mu.Unlock()
}

// Stop implements [scheduler.Sink]. It closes the buffer's player
// immediately; unknown handles are ignored.
func (s *Speaker) Stop(handle uuid.UUID) {
	s.release(handle)
}

// release closes and forgets the player for handle, if any.
func (s *Speaker) release(handle uuid.UUID) {
	s.mu.Lock()
	p, ok := s.players[handle]
	delete(s.players, handle)
	s.mu.Unlock()
	if ok {
		_ = p.Close()
	}
}

// Close stops all pending timers and in-flight players. The underlying
// device context stays open (oto contexts cannot be closed); Close makes the
// speaker inert. Safe to call more than once.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timers := s.timers
	players := s.players
	s.timers = nil
	s.players = make(map[uuid.UUID]player)
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	for _, p := range players {
		_ = p.Close()
	}
	return nil
}

// pcm16Bytes quantizes linear samples to little-endian int16 bytes with
// saturation, matching the codec's outbound quantization.
func pcm16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := int32(f * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
