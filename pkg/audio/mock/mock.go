// Package mock provides in-memory test doubles for [audio.Device] and
// [audio.Stream].
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts, and they expose fields the test can set to
// control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	stream, _ := dev.Open(ctx, audio.DefaultFormat)
//	dev.Emit(audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/introcoach/pkg/audio"
)

// Device is a mock implementation of [audio.Device]. Each successful Open
// creates a new [Stream]; [Device.Emit] pushes frames into the current one.
type Device struct {
	mu sync.Mutex

	// AvailableErr is returned by Available.
	AvailableErr error

	// OpenErr, when non-nil, is returned by Open instead of a stream.
	OpenErr error

	// Buffer is the frame channel capacity of each opened stream (default 64).
	Buffer int

	// OpenCalls records the format of every Open call.
	OpenCalls []audio.Format

	// Streams holds every stream returned by Open, oldest first.
	Streams []*Stream
}

// Available implements [audio.Device].
func (d *Device) Available(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.AvailableErr != nil {
		return d.AvailableErr
	}
	if s := d.current(); s != nil && !s.IsClosed() {
		return audio.ErrBusy
	}
	return nil
}

// Open implements [audio.Device]. It enforces exclusive ownership like a real
// device: a second Open while the previous stream is open returns
// [audio.ErrBusy].
func (d *Device) Open(_ context.Context, format audio.Format) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, format)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if s := d.current(); s != nil && !s.IsClosed() {
		return nil, audio.ErrBusy
	}
	buf := d.Buffer
	if buf <= 0 {
		buf = 64
	}
	s := &Stream{frames: make(chan audio.Frame, buf)}
	d.Streams = append(d.Streams, s)
	return s, nil
}

// Emit sends f to the most recently opened stream. It reports false when no
// stream is open or its buffer is full.
func (d *Device) Emit(f audio.Frame) bool {
	d.mu.Lock()
	s := d.current()
	d.mu.Unlock()
	if s == nil {
		return false
	}
	return s.Emit(f)
}

// SetOpenErr changes OpenErr under the lock.
func (d *Device) SetOpenErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenErr = err
}

// OpenCount returns the number of Open calls, including failed ones.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// Last returns the most recently opened stream, or nil.
func (d *Device) Last() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current()
}

func (d *Device) current() *Stream {
	if len(d.Streams) == 0 {
		return nil
	}
	return d.Streams[len(d.Streams)-1]
}

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	mu         sync.Mutex
	frames     chan audio.Frame
	closed     bool
	CloseCalls int
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.Frame { return s.frames }

// Emit queues f without blocking. It reports false when the stream is closed
// or full.
func (s *Stream) Emit(f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (s *Stream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Compile-time interface assertions.
var (
	_ audio.Device = (*Device)(nil)
	_ audio.Stream = (*Stream)(nil)
)
