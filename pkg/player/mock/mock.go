// Package mock provides a test double for the player.Deck interface.
//
// Configure PlayErrs with the errors the deck should return from successive
// Play calls; use FireReady, FireEnded, and FireError to drive asynchronous
// deck notifications.
package mock

import (
	"sync"

	"github.com/cadenza-app/cadenza/pkg/player"
)

// LoadCall records a single invocation of Deck.Load.
type LoadCall struct {
	Source string
	Policy player.CrossOriginPolicy
}

// Deck is a mock implementation of player.Deck.
type Deck struct {
	mu sync.Mutex

	cb player.Callbacks

	// ReadyFlag is returned by Ready.
	ReadyFlag bool

	// PlayErrs are returned by successive Play calls; once exhausted Play
	// returns nil.
	PlayErrs []error

	// SeekErr, if non-nil, is returned by every Seek call.
	SeekErr error

	// DurationVal and PositionVal are returned by Duration and Position.
	DurationVal float64
	PositionVal float64

	// Frequencies is returned by FrequencyData.
	Frequencies []byte

	// --- Call records ---

	// LoadCalls records every call to Load in order.
	LoadCalls []LoadCall

	// PlayCallCount is the number of times Play was called.
	PlayCallCount int

	// PauseCallCount is the number of times Pause was called.
	PauseCallCount int

	// SeekCalls records the position passed to every Seek call.
	SeekCalls []float64

	// VolumeCalls records the value passed to every SetVolume call.
	VolumeCalls []float64

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// SetCallbacks stores the engine's callbacks for later firing.
func (d *Deck) SetCallbacks(cb player.Callbacks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = cb
}

// Load records the call.
func (d *Deck) Load(source string, policy player.CrossOriginPolicy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.LoadCalls = append(d.LoadCalls, LoadCall{Source: source, Policy: policy})
}

// Ready returns ReadyFlag.
func (d *Deck) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ReadyFlag
}

// SetReady sets ReadyFlag. Thread-safe.
func (d *Deck) SetReady(ready bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ReadyFlag = ready
}

// Play records the call and pops the next error from PlayErrs.
func (d *Deck) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PlayCallCount++
	if len(d.PlayErrs) == 0 {
		return nil
	}
	err := d.PlayErrs[0]
	d.PlayErrs = d.PlayErrs[1:]
	return err
}

// Pause records the call.
func (d *Deck) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PauseCallCount++
}

// Seek records the call and returns SeekErr.
func (d *Deck) Seek(position float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SeekCalls = append(d.SeekCalls, position)
	return d.SeekErr
}

// SetVolume records the call.
func (d *Deck) SetVolume(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.VolumeCalls = append(d.VolumeCalls, v)
}

// Duration returns DurationVal.
func (d *Deck) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DurationVal
}

// Position returns PositionVal.
func (d *Deck) Position() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.PositionVal
}

// FrequencyData returns Frequencies.
func (d *Deck) FrequencyData() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Frequencies
}

// Close records the call.
func (d *Deck) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	return nil
}

// FireReady invokes the registered OnReady callback, if any.
func (d *Deck) FireReady() {
	d.mu.Lock()
	cb := d.cb.OnReady
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FireEnded invokes the registered OnEnded callback, if any.
func (d *Deck) FireEnded() {
	d.mu.Lock()
	cb := d.cb.OnEnded
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FireError invokes the registered OnError callback, if any.
func (d *Deck) FireError(err error) {
	d.mu.Lock()
	cb := d.cb.OnError
	d.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// Ensure Deck implements player.Deck at compile time.
var _ player.Deck = (*Deck)(nil)
