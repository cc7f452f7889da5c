// Package scheduler maintains the gapless output schedule for decoded model
// speech. Each enqueued frame is placed at max(now, end of the previously
// scheduled frame), so buffers never overlap and never gap beyond decode
// latency, regardless of how unevenly chunks arrive.
//
// The scheduler owns the set of in-flight buffers exclusively: a buffer
// leaves the set on natural completion ([Scheduler.OnBufferComplete]) or on a
// forced [Scheduler.Flush] when the remote signals an interruption.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadenza-app/cadenza/pkg/audio"
)

// Clock supplies the scheduling time base in seconds. The zero point is
// arbitrary; only monotonicity matters.
type Clock interface {
	Now() float64
}

// monotonicClock measures seconds since its creation.
type monotonicClock struct {
	epoch time.Time
}

func (c monotonicClock) Now() float64 { return time.Since(c.epoch).Seconds() }

// NewMonotonicClock returns a Clock backed by the runtime monotonic clock.
func NewMonotonicClock() Clock { return monotonicClock{epoch: time.Now()} }

// Buffer is one scheduled run of decoded audio in the active set.
type Buffer struct {
	// Frame is the decoded audio to play.
	Frame audio.AudioFrame

	// PlannedStart is the output start time on the scheduler's clock, in
	// seconds.
	PlannedStart float64

	// Handle identifies the buffer for completion and flush bookkeeping.
	Handle uuid.UUID
}

// PlannedEnd returns the time the buffer finishes playing.
func (b Buffer) PlannedEnd() float64 { return b.PlannedStart + b.Frame.Seconds() }

// Sink is the output device the scheduler drives. Play must not block; the
// device begins output at buf.PlannedStart on the shared clock. Stop cancels
// an in-flight buffer identified by its handle.
type Sink interface {
	Play(buf Buffer)
	Stop(handle uuid.UUID)
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithClock replaces the monotonic clock, primarily so tests can control
// scheduling time deterministically.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// Scheduler places decoded frames on a gapless output timeline.
//
// Enqueue is called only from the session's single inbound dispatch
// goroutine, so enqueues never interleave; the internal mutex additionally
// protects the active set against concurrent Flush and OnBufferComplete
// calls from other goroutines.
type Scheduler struct {
	sink  Sink
	clock Clock

	mu             sync.Mutex
	lastPlannedEnd float64
	active         map[uuid.UUID]Buffer
}

// New creates a Scheduler driving sink. The default clock is monotonic
// wall time in seconds.
func New(sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:   sink,
		clock:  NewMonotonicClock(),
		active: make(map[uuid.UUID]Buffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue schedules frame for gapless output and returns its buffer record.
// The planned start is max(current clock time, end of the last planned
// buffer) — the accumulator, not arrival order, determines placement.
func (s *Scheduler) Enqueue(frame audio.AudioFrame) Buffer {
	s.mu.Lock()

	start := s.clock.Now()
	if s.lastPlannedEnd > start {
		start = s.lastPlannedEnd
	}

	buf := Buffer{
		Frame:        frame,
		PlannedStart: start,
		Handle:       uuid.New(),
	}
	s.lastPlannedEnd = buf.PlannedEnd()
	s.active[buf.Handle] = buf
	s.mu.Unlock()

	s.sink.Play(buf)
	return buf
}

// OnBufferComplete removes a naturally finished buffer from the active set.
// Unknown handles are ignored, so a completion racing a Flush is harmless.
func (s *Scheduler) OnBufferComplete(handle uuid.UUID) {
	s.mu.Lock()
	delete(s.active, handle)
	s.mu.Unlock()
}

// Flush stops and removes every active buffer and resets the schedule
// accumulator to zero. It is called exactly once per interruption event and
// is idempotent: flushing an empty set is a no-op.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	stopped := make([]uuid.UUID, 0, len(s.active))
	for h := range s.active {
		stopped = append(stopped, h)
	}
	s.active = make(map[uuid.UUID]Buffer)
	s.lastPlannedEnd = 0
	s.mu.Unlock()

	for _, h := range stopped {
		s.sink.Stop(h)
	}
	if len(stopped) > 0 {
		slog.Debug("playback schedule flushed", "buffers", len(stopped))
	}
}

// ActiveCount returns the number of in-flight buffers.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// LastPlannedEnd returns the current value of the schedule accumulator.
func (s *Scheduler) LastPlannedEnd() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPlannedEnd
}
