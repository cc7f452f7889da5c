// Package audio defines the frame and transport-packet types shared by the
// Cadenza playback pipeline, plus the pure codec that converts between linear
// float samples, 16-bit integer PCM, and the base64 transport encoding used
// by the remote voice services.
package audio

import "time"

// Standard rates of the voice pipeline. Capture audio is sent to the model as
// 16 kHz mono; synthesised speech arrives at 24 kHz.
const (
	CaptureRate  = 16000
	PlaybackRate = 24000
)

// CaptureBlockFrames is the fixed number of sample frames in one outbound
// capture block.
const CaptureBlockFrames = 4096

// AudioFrame is a contiguous run of linear samples at a fixed sample rate and
// channel count. Samples are interleaved for multi-channel frames and lie in
// [-1, 1]. A frame is immutable once produced; each pipeline stage owns it
// only while processing it.
type AudioFrame struct {
	// Samples holds the interleaved linear samples.
	Samples []float32

	// SampleRate in Hz (e.g. 16000 for capture, 24000 for model speech).
	SampleRate int

	// Channels is the channel count; 1 for mono.
	Channels int
}

// Duration returns the playback duration of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := len(f.Samples) / f.Channels
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Seconds returns the playback duration in seconds. The playback scheduler's
// clock accumulates in seconds, so this is the unit used on that path.
func (f AudioFrame) Seconds() float64 {
	return f.Duration().Seconds()
}

// TransportPacket is one outbound capture chunk or one inbound model-speech
// chunk: a base64 payload of raw little-endian PCM16 plus its MIME tag.
type TransportPacket struct {
	// Payload is the base64 encoding of the raw PCM16LE bytes.
	Payload string

	// MIMEType tags the payload format, e.g. "audio/pcm;rate=16000".
	MIMEType string
}
