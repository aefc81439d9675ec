// Package relay provides an STT provider for recognition that already
// happened elsewhere, typically the Web Speech API in the user's browser.
// The recognised fragments arrive over the client connection and are handed
// to [Provider.Push], which forwards them to the active session.
package relay

import (
	"context"
	"sync"

	"github.com/MrWong99/introcoach/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Provider relays externally recognised transcripts into the most recently
// started session. It is safe for concurrent use.
type Provider struct {
	buffer int

	mu     sync.Mutex
	active *session
}

// New returns a relay Provider whose sessions buffer up to buffer
// transcripts. Values below 1 default to 64.
func New(buffer int) *Provider {
	if buffer < 1 {
		buffer = 64
	}
	return &Provider{buffer: buffer}
}

// StartStream opens a session and makes it the active one. A previous
// active session keeps running but no longer receives pushes.
func (p *Provider) StartStream(ctx context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &session{
		owner:   p,
		results: make(chan stt.Transcript, p.buffer),
	}
	p.mu.Lock()
	p.active = s
	p.mu.Unlock()
	return s, nil
}

// Push delivers t to the active session. It reports false when there is no
// open session or its buffer is full.
func (p *Provider) Push(t stt.Transcript) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return false
	}
	return p.active.deliver(t)
}

// Active reports whether a session is currently receiving pushes.
func (p *Provider) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

func (p *Provider) release(s *session) {
	p.mu.Lock()
	if p.active == s {
		p.active = nil
	}
	p.mu.Unlock()
}

type session struct {
	owner   *Provider
	results chan stt.Transcript

	mu     sync.Mutex
	closed bool
}

func (s *session) deliver(t stt.Transcript) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.results <- t:
		return true
	default:
		return false
	}
}

// SendAudio discards audio; recognition happens on the client.
func (s *session) SendAudio(_ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	return nil
}

func (s *session) Results() <-chan stt.Transcript { return s.results }

func (s *session) Err() error { return nil }

func (s *session) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.results)
	}
	s.mu.Unlock()
	s.owner.release(s)
	return nil
}
