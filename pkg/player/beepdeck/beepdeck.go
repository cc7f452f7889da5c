// Package beepdeck implements the player.Deck interface on top of the
// gopxl/beep v2 streaming pipeline and its speaker output.
//
// Sources are local file paths or http(s) URLs addressing MP3, WAV, FLAC, or
// OGG media. Loading and decoding happen on a background goroutine; the
// ready/error callbacks fire when metadata becomes available. When a source
// is loaded with cross-origin access the decoded samples are tapped for
// frequency analysis; opaque loads play without an analysis tap.
package beepdeck

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	"github.com/cadenza-app/cadenza/pkg/player"
)

// Compile-time assertion that Deck satisfies the player deck contract.
var _ player.Deck = (*Deck)(nil)

// FrequencyBins is the number of magnitude bins FrequencyData returns.
const FrequencyBins = 32

// tapWindow is the number of recent mono samples analysed per bin sweep.
const tapWindow = 1024

// Deck drives the beep speaker with one decoded source at a time.
type Deck struct {
	deviceRate beep.SampleRate

	mu      sync.Mutex
	cb      player.Callbacks
	stream  beep.StreamSeekCloser
	format  beep.Format
	ctrl    *beep.Ctrl
	volume  *effects.Volume
	tap     *analysisTap
	ready   bool
	playing bool
	gen     int // load generation; stale async loads are discarded
	closed  bool
}

// New initialises the speaker at deviceRate and returns an empty deck. Only
// one deck per process may own the speaker.
func New(deviceRate int) (*Deck, error) {
	sr := beep.SampleRate(deviceRate)
	if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("beepdeck: init speaker: %w", err)
	}
	return &Deck{deviceRate: sr}, nil
}

// SetCallbacks registers the engine's notification callbacks.
func (d *Deck) SetCallbacks(cb player.Callbacks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = cb
}

// Load replaces the current source. Decoding runs on a background goroutine;
// OnReady or OnError fires when it finishes. A newer Load supersedes any
// still-decoding older one.
func (d *Deck) Load(source string, policy player.CrossOriginPolicy) {
	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.ready = false
	d.playing = false
	old := d.stream
	d.stream = nil
	d.ctrl = nil
	d.volume = nil
	d.tap = nil
	d.mu.Unlock()

	speaker.Clear()
	if old != nil {
		_ = old.Close()
	}

	go func() {
		stream, format, err := decodeSource(source)

		d.mu.Lock()
		if gen != d.gen || d.closed {
			d.mu.Unlock()
			if err == nil {
				_ = stream.Close()
			}
			return
		}
		if err != nil {
			cb := d.cb.OnError
			d.mu.Unlock()
			if cb != nil {
				cb(err)
			}
			return
		}
		d.stream = stream
		d.format = format
		d.ready = true
		if policy == player.PolicyAnonymous {
			d.tap = newAnalysisTap(format.SampleRate)
		}
		cb := d.cb.OnReady
		d.mu.Unlock()
		if cb != nil {
			cb()
		}
	}()
}

// decodeSource opens and decodes source by extension.
func decodeSource(source string) (beep.StreamSeekCloser, beep.Format, error) {
	rc, name, err := openSource(source)
	if err != nil {
		return nil, beep.Format{}, err
	}

	switch strings.ToLower(path.Ext(name)) {
	case ".mp3":
		return mp3.Decode(rc)
	case ".wav":
		return wav.Decode(rc)
	case ".flac":
		return flac.Decode(rc)
	case ".ogg":
		return vorbis.Decode(rc)
	default:
		_ = rc.Close()
		return nil, beep.Format{}, fmt.Errorf("beepdeck: unsupported media type %q", path.Ext(name))
	}
}

// openSource resolves a source string to a byte stream and a name whose
// extension identifies the codec.
func openSource(source string) (io.ReadCloser, string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := http.Get(source)
		if err != nil {
			return nil, "", fmt.Errorf("beepdeck: fetch %s: %w", source, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, "", fmt.Errorf("beepdeck: fetch %s: status %s", source, resp.Status)
		}
		return resp.Body, strings.SplitN(source, "?", 2)[0], nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, "", fmt.Errorf("beepdeck: open %s: %w", source, err)
	}
	return f, source, nil
}

// Ready reports whether the current source's metadata is available.
func (d *Deck) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// Play starts or resumes output. Starting before the source has decoded
// returns ErrAborted; the engine retries on the ready event.
func (d *Deck) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return player.ErrAborted
	}
	if d.ctrl != nil {
		// Resume a paused pipeline.
		speaker.Lock()
		d.ctrl.Paused = false
		speaker.Unlock()
		d.playing = true
		return nil
	}
	if d.stream == nil || !d.ready {
		return player.ErrAborted
	}

	var chain beep.Streamer = d.stream
	if d.format.SampleRate != d.deviceRate {
		chain = beep.Resample(4, d.format.SampleRate, d.deviceRate, chain)
	}
	if d.tap != nil {
		d.tap.inner = chain
		chain = d.tap
	}
	d.volume = &effects.Volume{Streamer: chain, Base: 2, Volume: 0}
	d.ctrl = &beep.Ctrl{Streamer: d.volume}

	gen := d.gen
	speaker.Play(beep.Seq(d.ctrl, beep.Callback(func() { d.ended(gen) })))
	d.playing = true
	return nil
}

// ended fires the engine's ended callback unless the source was replaced.
func (d *Deck) ended(gen int) {
	d.mu.Lock()
	if gen != d.gen || d.closed {
		d.mu.Unlock()
		return
	}
	d.playing = false
	cb := d.cb.OnEnded
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Pause suspends output at the current position.
func (d *Deck) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctrl == nil {
		return
	}
	speaker.Lock()
	d.ctrl.Paused = true
	speaker.Unlock()
	d.playing = false
}

// Seek positions playback at position seconds into the source.
func (d *Deck) Seek(position float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil || !d.ready {
		return fmt.Errorf("beepdeck: seek before source is ready")
	}

	sample := int(position * float64(d.format.SampleRate))
	if sample < 0 {
		sample = 0
	}
	if n := d.stream.Len(); sample > n {
		sample = n
	}

	speaker.Lock()
	err := d.stream.Seek(sample)
	speaker.Unlock()
	if err != nil {
		return fmt.Errorf("beepdeck: seek: %w", err)
	}
	return nil
}

// SetVolume maps v in [0, 1] onto the logarithmic volume effect.
func (d *Deck) SetVolume(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.volume == nil {
		return
	}
	speaker.Lock()
	if v <= 0 {
		d.volume.Silent = true
	} else {
		d.volume.Silent = false
		d.volume.Volume = math.Log2(v)
	}
	speaker.Unlock()
}

// Duration returns the source length in seconds, or 0 before metadata.
func (d *Deck) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil || !d.ready {
		return 0
	}
	return float64(d.stream.Len()) / float64(d.format.SampleRate)
}

// Position returns the current playback position in seconds.
func (d *Deck) Position() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil || !d.ready {
		return 0
	}
	return float64(d.stream.Position()) / float64(d.format.SampleRate)
}

// FrequencyData returns the current bin magnitudes from the analysis tap, or
// nil when the source was loaded without cross-origin access.
func (d *Deck) FrequencyData() []byte {
	d.mu.Lock()
	tap := d.tap
	d.mu.Unlock()
	if tap == nil {
		return nil
	}
	return tap.magnitudes()
}

// Close stops output and releases the current source.
func (d *Deck) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.gen++
	stream := d.stream
	d.stream = nil
	d.ctrl = nil
	d.volume = nil
	d.tap = nil
	d.mu.Unlock()

	speaker.Clear()
	if stream != nil {
		_ = stream.Close()
	}
	return nil
}

// ── Analysis tap ───────────────────────────────────────────────────────────────

// analysisTap sits in the streaming chain and keeps a window of recent mono
// samples for frequency analysis.
type analysisTap struct {
	inner beep.Streamer
	rate  beep.SampleRate

	mu     sync.Mutex
	window [tapWindow]float64
	pos    int
	filled bool
}

func newAnalysisTap(rate beep.SampleRate) *analysisTap {
	return &analysisTap{rate: rate}
}

// Stream passes samples through, recording the mono mix of each frame.
func (t *analysisTap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.inner.Stream(samples)

	t.mu.Lock()
	for i := range n {
		t.window[t.pos] = (samples[i][0] + samples[i][1]) / 2
		t.pos++
		if t.pos == tapWindow {
			t.pos = 0
			t.filled = true
		}
	}
	t.mu.Unlock()

	return n, ok
}

// Err reports the wrapped streamer's error.
func (t *analysisTap) Err() error { return t.inner.Err() }

// magnitudes sweeps FrequencyBins Goertzel filters over the sample window,
// spacing target frequencies logarithmically from 40 Hz up to just under the
// Nyquist rate, and scales each magnitude to a byte.
func (t *analysisTap) magnitudes() []byte {
	t.mu.Lock()
	var buf [tapWindow]float64
	copy(buf[:], t.window[:])
	filled := t.filled
	t.mu.Unlock()

	out := make([]byte, FrequencyBins)
	if !filled {
		return out
	}

	lo := 40.0
	hi := float64(t.rate) / 2 * 0.95
	ratio := math.Pow(hi/lo, 1/float64(FrequencyBins-1))

	freq := lo
	for b := range FrequencyBins {
		out[b] = scaleMagnitude(goertzel(buf[:], freq, float64(t.rate)))
		freq *= ratio
	}
	return out
}

// goertzel computes the normalised magnitude of one frequency component.
func goertzel(samples []float64, freq, rate float64) float64 {
	w := 2 * math.Pi * freq / rate
	coeff := 2 * math.Cos(w)

	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return math.Sqrt(power) / float64(len(samples))
}

// scaleMagnitude maps a magnitude into a display byte with soft compression.
func scaleMagnitude(m float64) byte {
	v := math.Sqrt(m) * 512
	if v > 255 {
		v = 255
	}
	return byte(v)
}
