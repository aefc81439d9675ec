// Package audio defines the microphone capture abstraction used by introcoach
// together with PCM helpers shared by capture backends and consumers.
//
// The two primary abstractions are:
//
//   - [Device]: a capture capability with an explicit availability check and
//     an acquire step ([Device.Open]).
//   - [Stream]: an acquired capture handle that yields [Frame] values until
//     it is closed (release).
//
// A Device hands out at most one open Stream at a time. A second Open while a
// stream is live fails with [ErrBusy]; this is how exclusive microphone
// ownership is enforced across recording sessions.
//
// Implementations live in sub-packages (audio/portaudio for a local
// microphone, audio/mock for tests) and in [PushDevice] for audio that is
// delivered by a network client.
package audio

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrPermissionDenied is returned when the user or the OS refuses
	// microphone access.
	ErrPermissionDenied = errors.New("audio: capture permission denied")

	// ErrUnavailable is returned when no capture device can be found.
	ErrUnavailable = errors.New("audio: no capture device available")

	// ErrBusy is returned by Open while another stream owns the device.
	ErrBusy = errors.New("audio: capture device is already in use")
)

// Device is a source of microphone audio.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Available reports whether a stream could be opened right now. It returns
	// nil, [ErrPermissionDenied], [ErrUnavailable] or [ErrBusy].
	Available(ctx context.Context) error

	// Open acquires the device and starts capturing in the requested format.
	// Implementations may deliver a different format; consumers read the
	// format from each [Frame].
	Open(ctx context.Context, format Format) (Stream, error)
}

// Stream is an open capture handle.
type Stream interface {
	// Frames returns the channel of captured frames. The channel is closed
	// when the stream is closed or the underlying device fails.
	Frames() <-chan Frame

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// ─── PushDevice ──────────────────────────────────────────────────────────────

// PushDevice is a [Device] fed by an external producer, typically a browser
// that streams PCM over a websocket. Frames handed to [PushDevice.Push] are
// forwarded to the currently open stream, if any, and dropped otherwise.
type PushDevice struct {
	mu     sync.Mutex
	denied bool
	cur    *pushStream
	buffer int
}

// NewPushDevice returns a PushDevice whose streams buffer up to buffer frames.
// A buffer <= 0 selects 64.
func NewPushDevice(buffer int) *PushDevice {
	if buffer <= 0 {
		buffer = 64
	}
	return &PushDevice{buffer: buffer}
}

// Deny marks microphone permission as refused (or restores it when denied is
// false). While denied, Open fails with [ErrPermissionDenied].
func (d *PushDevice) Deny(denied bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denied = denied
}

// Available implements [Device].
func (d *PushDevice) Available(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.denied:
		return ErrPermissionDenied
	case d.cur != nil:
		return ErrBusy
	}
	return nil
}

// Open implements [Device].
func (d *PushDevice) Open(ctx context.Context, _ Format) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.denied {
		return nil, ErrPermissionDenied
	}
	if d.cur != nil {
		return nil, ErrBusy
	}
	s := &pushStream{dev: d, frames: make(chan Frame, d.buffer)}
	d.cur = s
	return s, nil
}

// Push forwards f to the open stream. It never blocks: when the stream's
// buffer is full the frame is dropped and Push returns false.
func (d *PushDevice) Push(f Frame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cur == nil {
		return false
	}
	select {
	case d.cur.frames <- f:
		return true
	default:
		return false
	}
}

type pushStream struct {
	dev    *PushDevice
	frames chan Frame
	once   sync.Once
}

func (s *pushStream) Frames() <-chan Frame { return s.frames }

func (s *pushStream) Close() error {
	s.once.Do(func() {
		s.dev.mu.Lock()
		if s.dev.cur == s {
			s.dev.cur = nil
		}
		close(s.frames)
		s.dev.mu.Unlock()
	})
	return nil
}

var _ Device = (*PushDevice)(nil)
