package whisper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/introcoach/pkg/provider/stt"
)

var _ stt.SessionHandle = (*session)(nil)

// session buffers speech between silences and transcribes each utterance.
// All segmentation state is confined to processLoop.
type session struct {
	rec                 recognizer
	language            string
	sampleRate          int
	channels            int
	silenceThresholdMs  int
	maxBufferDurationMs int

	audioCh chan []byte
	results chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a chunk of 16-bit little-endian PCM.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

// Results returns the channel of final transcripts.
func (s *session) Results() <-chan stt.Transcript { return s.results }

// Err always returns nil. Inference failures drop the utterance and are logged.
func (s *session) Err() error { return nil }

// Close flushes any pending speech, closes Results and releases the session.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.results)

	var (
		buffer      []byte
		hadSpeech   bool
		silenceMs   int
		receivedMs  int
		utteranceAt int
	)

	bytesPerMs := s.sampleRate * s.channels * 2 / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	maxBufferBytes := s.maxBufferDurationMs * bytesPerMs

	flush := func() {
		pcm, speech := buffer, hadSpeech
		buffer, hadSpeech, silenceMs = nil, false, 0
		if len(pcm) == 0 || !speech {
			return
		}

		text, err := s.rec.recognize(pcmToFloat32Mono(pcm, s.channels), s.language)
		if err != nil {
			slog.Error("whisper inference failed", "error", err)
			return
		}
		if text == "" {
			return
		}
		t := stt.Transcript{
			Text:      text,
			IsFinal:   true,
			Timestamp: time.Duration(utteranceAt) * time.Millisecond,
		}
		select {
		case s.results <- t:
		default:
			slog.Warn("whisper: results channel full, dropping transcript")
		}
	}

	handle := func(chunk []byte) {
		chunkMs := chunkDurationMs(chunk, s.sampleRate, s.channels)
		start := receivedMs
		receivedMs += chunkMs

		if computeRMS(chunk) < defaultRMSThreshold {
			if !hadSpeech {
				return
			}
			silenceMs += chunkMs
			buffer = append(buffer, chunk...)
			if silenceMs >= s.silenceThresholdMs {
				flush()
			}
			return
		}

		if !hadSpeech {
			utteranceAt = start
		}
		hadSpeech = true
		silenceMs = 0
		buffer = append(buffer, chunk...)
		if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
			flush()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.done:
			// Process what was queued before Close, then flush.
			for {
				select {
				case chunk := <-s.audioCh:
					handle(chunk)
				default:
					flush()
					return
				}
			}

		case chunk := <-s.audioCh:
			handle(chunk)
		}
	}
}
