package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/introcoach/pkg/provider/stt"
)

// errProducerEnded is reported when a transcription session closes its
// results channel without an error while the take is still recording.
var errProducerEnded = errors.New("session: transcription producer ended unexpectedly")

// producer couples an STT session with a forwarding goroutine so that a slow
// backend never blocks the event loop. Audio that does not fit the queue is
// dropped.
type producer struct {
	gen    uint64
	handle stt.SessionHandle
	audio  chan []byte
	wg     sync.WaitGroup
	once   sync.Once
}

func newProducer(gen uint64, handle stt.SessionHandle) *producer {
	p := &producer{
		gen:    gen,
		handle: handle,
		audio:  make(chan []byte, 128),
	}
	p.wg.Add(1)
	go p.forward()
	return p
}

func (p *producer) forward() {
	defer p.wg.Done()
	for chunk := range p.audio {
		if err := p.handle.SendAudio(chunk); err != nil {
			if !errors.Is(err, stt.ErrSessionClosed) {
				slog.Warn("session: send audio to transcriber", "err", err)
			}
			// Keep draining so feed never blocks; the loop notices the
			// failure through the results channel.
			for range p.audio {
			}
			return
		}
	}
}

// feed queues chunk without blocking and reports whether it was accepted.
func (p *producer) feed(chunk []byte) bool {
	select {
	case p.audio <- chunk:
		return true
	default:
		return false
	}
}

func (p *producer) results() <-chan stt.Transcript {
	return p.handle.Results()
}

// close ends the STT session and waits for the forwarder. It is safe to call
// more than once.
func (p *producer) close() {
	p.once.Do(func() {
		if err := p.handle.Close(); err != nil {
			slog.Debug("session: close transcriber", "err", err)
		}
		close(p.audio)
		p.wg.Wait()
	})
}
