// Package whisper provides an offline STT provider backed by whisper.cpp
// through its CGO bindings. The whisper.cpp static library (libwhisper.a) and
// headers (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// whisper.cpp is a batch engine, so the provider segments incoming PCM with an
// energy-based silence detector and transcribes each completed utterance as a
// whole. It never emits interim results: every transcript is final.
//
//	p, err := whisper.New("/models/ggml-small.bin", whisper.WithLanguage("ja"))
//	handle, err := p.StartStream(ctx, cfg)
//	handle.SendAudio(pcmChunk)
//	t := <-handle.Results()
//	handle.Close()
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/introcoach/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the RMS energy (in 16-bit PCM units) below which
	// audio counts as silence.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "ja"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default language code for transcription.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the default sample rate in Hz of the PCM delivered via
// SendAudio.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithSilenceThresholdMs sets how much consecutive silence (ms) ends an
// utterance. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the longest utterance (ms) buffered before a
// forced flush. Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// recognizer turns mono float32 samples into text.
type recognizer interface {
	recognize(samples []float32, language string) (string, error)
}

// Provider implements stt.Provider with a whisper.cpp model loaded once and
// shared across sessions.
type Provider struct {
	model whisperlib.Model
	rec   recognizer

	language            string
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
}

// New loads the whisper.cpp model at modelPath. The caller must Close the
// provider when done.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := newProvider(modelRecognizer{model: model}, opts...)
	p.model = model
	return p, nil
}

func newProvider(rec recognizer, opts ...Option) *Provider {
	p := &Provider{
		rec:                 rec,
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Close releases the model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a transcription session. Zero or empty fields in cfg
// fall back to the provider defaults. Keywords are ignored.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = p.sampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	s := &session{
		rec:                 p.rec,
		language:            lang,
		sampleRate:          sr,
		channels:            ch,
		silenceThresholdMs:  p.silenceThresholdMs,
		maxBufferDurationMs: p.maxBufferDurationMs,

		audioCh: make(chan []byte, 256),
		results: make(chan stt.Transcript, 64),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.processLoop(ctx)

	return s, nil
}

// modelRecognizer runs inference with a fresh whisper context per utterance.
// Contexts are not thread-safe; the model is.
type modelRecognizer struct {
	model whisperlib.Model
}

func (m modelRecognizer) recognize(samples []float32, language string) (string, error) {
	wctx, err := m.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	// Japanese segments join without spaces.
	sep := " "
	if strings.HasPrefix(language, "ja") || strings.HasPrefix(language, "zh") {
		sep = ""
	}
	return strings.Join(parts, sep), nil
}
