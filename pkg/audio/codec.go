package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// OutboundMIME is the fixed format identifier for capture blocks sent to the
// remote voice service: raw PCM16LE, mono, 16 kHz.
const OutboundMIME = "audio/pcm;rate=16000"

// ErrMalformedFrame is returned by [DecodeInbound] when a payload's byte
// length is not a whole number of samples for the declared channel count.
// A malformed frame fails only that single decode; it never aborts a session.
var ErrMalformedFrame = fmt.Errorf("audio: malformed PCM frame")

// EncodeOutbound quantizes linear samples to signed 16-bit integers,
// serializes them little-endian, and wraps the result in the transport-safe
// base64 encoding tagged with [OutboundMIME].
//
// Each sample is mapped via round(s * 32767) and clamped to the int16 range,
// so out-of-range inputs saturate instead of wrapping.
func EncodeOutbound(samples []float32) TransportPacket {
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		q := math.Round(float64(s) * 32767)
		if q > 32767 {
			q = 32767
		} else if q < -32768 {
			q = -32768
		}
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(int16(q)))
	}
	return TransportPacket{
		Payload:  base64.StdEncoding.EncodeToString(raw),
		MIMEType: OutboundMIME,
	}
}

// DecodeInbound reverses the transport encoding, reconstructing per-channel
// linear samples in [-1, 1] via int16 / 32768.
//
// Returns [ErrMalformedFrame] if the payload is not valid base64 or its
// decoded length is not a multiple of channels * 2 bytes.
func DecodeInbound(pkt TransportPacket, sampleRate, channels int) (AudioFrame, error) {
	if channels <= 0 || sampleRate <= 0 {
		return AudioFrame{}, fmt.Errorf("%w: invalid format %dHz/%dch", ErrMalformedFrame, sampleRate, channels)
	}

	raw, err := base64.StdEncoding.DecodeString(pkt.Payload)
	if err != nil {
		return AudioFrame{}, fmt.Errorf("%w: payload is not base64: %v", ErrMalformedFrame, err)
	}
	if len(raw)%(channels*2) != 0 {
		return AudioFrame{}, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedFrame, len(raw), channels*2)
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = float32(s) / 32768
	}
	return AudioFrame{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}
