package audio

import "time"

// Frame is a single chunk of captured audio. Frames are the unit of transport
// between a capture [Stream] and its consumer (the session controller, the
// speech-to-text producer, the WAV sink).
type Frame struct {
	// Data holds 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT input, 44100 for a desktop mic).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the capture format used when a caller does not ask for one:
// 16 kHz mono, which every speech-to-text backend accepts.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the PCM16 byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}
