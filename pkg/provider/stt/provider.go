// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a streaming transcription service (Deepgram, a local
// whisper.cpp model, or speech recognition running in the user's browser) and
// exposes a uniform interface. Once opened, a [SessionHandle] accepts raw PCM
// audio and emits one ordered stream of [Transcript] values: interim results
// that preview speech still being recognised, and final results that commit
// it. A single channel keeps finals and later interims in the order the
// backend produced them.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// Transcript is one recognition result.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal marks an authoritative result. Interim results may be revised
	// by later ones.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report it.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration
}

// KeywordBoost is a vocabulary hint (framework names, product names) that
// raises the recognition probability of an uncommon word.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (16000 for most backends).
	SampleRate int

	// Channels is the number of interleaved channels; 1 for mono.
	Channels int

	// Language is the BCP-47 language tag (e.g., "ja", "en-US"). Empty lets
	// the provider apply its default.
	Language string

	// Keywords are optional recognition hints.
	Keywords []KeywordBoost
}

// SessionHandle is an open streaming session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit PCM matching the StreamConfig.
	// It returns ErrSessionClosed after Close.
	SendAudio(chunk []byte) error

	// Results returns the ordered channel of interim and final transcripts.
	// The channel is closed when the session ends, either through Close or
	// because the backend failed.
	Results() <-chan Transcript

	// Err returns the reason the session ended. It is nil while the session
	// is running and after a normal Close.
	Err() error

	// Close terminates the session and releases its resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming session. The caller owns the returned
	// handle and must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
