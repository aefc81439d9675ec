// Package portaudio implements [audio.Device] on top of the PortAudio C
// library, capturing the system's default input device.
//
// PortAudio is initialised when a stream is opened and terminated when it is
// closed, so an idle Device holds no native resources.
package portaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/introcoach/pkg/audio"
)

const (
	defaultFramesPerBuffer = 1024
	pollInterval           = 10 * time.Millisecond
)

// Option configures a [Device].
type Option func(*Device)

// WithFramesPerBuffer sets the PortAudio buffer size in frames. Defaults to
// 1024 (64 ms at 16 kHz).
func WithFramesPerBuffer(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.framesPerBuffer = n
		}
	}
}

// Device captures from the default PortAudio input device.
type Device struct {
	framesPerBuffer int

	mu  sync.Mutex
	cur *stream
}

// New returns a Device. No native resources are acquired until Open.
func New(opts ...Option) *Device {
	d := &Device{framesPerBuffer: defaultFramesPerBuffer}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Available implements [audio.Device]. It briefly initialises PortAudio to
// look up the default input device.
func (d *Device) Available(_ context.Context) error {
	d.mu.Lock()
	busy := d.cur != nil
	d.mu.Unlock()
	if busy {
		return audio.ErrBusy
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %w", audio.ErrUnavailable, err)
	}
	defer portaudio.Terminate()
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return fmt.Errorf("%w: %w", audio.ErrUnavailable, err)
	}
	return nil
}

// Open implements [audio.Device]. Only mono capture is supported; the
// requested channel count is ignored.
func (d *Device) Open(ctx context.Context, format audio.Format) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if format.SampleRate <= 0 {
		format = audio.DefaultFormat
	}
	format.Channels = 1

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cur != nil {
		return nil, audio.ErrBusy
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrUnavailable, err)
	}
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %w", audio.ErrUnavailable, err)
	}

	buf := make([]int16, d.framesPerBuffer)
	pa, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), len(buf), buf)
	if err != nil {
		portaudio.Terminate()
		// A refused microphone (OS privacy controls, sound server ACLs)
		// surfaces as an open failure on the default input.
		return nil, fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	}
	if err := pa.Start(); err != nil {
		pa.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	}

	s := &stream{
		dev:    d,
		pa:     pa,
		buf:    buf,
		format: format,
		frames: make(chan audio.Frame, 32),
		done:   make(chan struct{}),
	}
	d.cur = s
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

type stream struct {
	dev    *Device
	pa     *portaudio.Stream
	buf    []int16
	format audio.Format
	frames chan audio.Frame

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *stream) Frames() <-chan audio.Frame { return s.frames }

// readLoop polls the stream for available input, copying each full buffer
// into a Frame. It never blocks on Read while Close is pending.
func (s *stream) readLoop() {
	defer s.wg.Done()
	defer close(s.frames)

	var captured time.Duration
	perBuffer := time.Duration(len(s.buf)) * time.Second / time.Duration(s.format.SampleRate)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		avail, err := s.pa.AvailableToRead()
		if err != nil || avail < len(s.buf) {
			select {
			case <-s.done:
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if err := s.pa.Read(); err != nil {
			slog.Debug("portaudio: read failed", "err", err)
			continue
		}

		data := make([]byte, len(s.buf)*2)
		for i, v := range s.buf {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
		}
		f := audio.Frame{
			Data:       data,
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  captured,
		}
		captured += perBuffer
		select {
		case s.frames <- f:
		case <-s.done:
			return
		default:
			slog.Debug("portaudio: consumer lagging, dropping frame")
		}
	}
}

// Close stops capture, waits for the read loop and releases PortAudio.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		if e := s.pa.Stop(); e != nil {
			err = fmt.Errorf("portaudio: stop stream: %w", e)
		}
		if e := s.pa.Close(); e != nil && err == nil {
			err = fmt.Errorf("portaudio: close stream: %w", e)
		}
		portaudio.Terminate()

		s.dev.mu.Lock()
		if s.dev.cur == s {
			s.dev.cur = nil
		}
		s.dev.mu.Unlock()
	})
	return err
}

var _ audio.Device = (*Device)(nil)
