package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/introcoach/internal/config"
	"github.com/MrWong99/introcoach/internal/observe"
	"github.com/MrWong99/introcoach/internal/session"
	"github.com/MrWong99/introcoach/pkg/audio"
	"github.com/MrWong99/introcoach/pkg/provider/stt"
	"github.com/MrWong99/introcoach/pkg/store"
)

// ErrSessionActive is returned by [SessionManager.Open] while another
// session is open.
var ErrSessionActive = errors.New("app: a recording session is already active")

// updateBuffer is the capacity of a session's update channel.
const updateBuffer = 256

// SessionInfo holds metadata about the open session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// Source names who opened the session (e.g. "websocket", "tui").
	Source string

	OpenedAt time.Time

	// TakeID is the take being recorded, or the last stopped one. Empty
	// before the first Start.
	TakeID string
}

// Update is one session event as seen by a surface. TakeID is set once the
// event's take has been created in the store; on a stop it refers to the
// persisted take.
type Update struct {
	Event  session.Event
	TakeID string
}

// SessionManager owns the lifecycle of recording sessions. At most one
// session is open at a time, which keeps the single local microphone and the
// relay transcriber unambiguous. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	store   store.Store
	stt     stt.Provider
	cfg     config.SessionConfig
	metrics *observe.Metrics
	clock   clockwork.Clock

	mu     sync.Mutex
	active *Session
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Store   store.Store
	STT     stt.Provider
	Session config.SessionConfig

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Clock drives the controllers' timers. Defaults to the real clock.
	Clock clockwork.Clock
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		store:   cfg.Store,
		stt:     cfg.STT,
		cfg:     cfg.Session,
		metrics: cfg.Metrics,
		clock:   cfg.Clock,
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.clock == nil {
		sm.clock = clockwork.NewRealClock()
	}
	return sm
}

// Open creates a session recording from device. It returns
// [ErrSessionActive] while another session is open. The caller must Close
// the session.
func (sm *SessionManager) Open(device audio.Device, source string, opts ...session.Option) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active != nil {
		return nil, fmt.Errorf("%w (id=%s)", ErrSessionActive, sm.active.info.SessionID)
	}

	base := []session.Option{
		session.WithClock(sm.clock),
		session.WithFormat(audio.Format{SampleRate: sm.cfg.SampleRate, Channels: 1}),
		session.WithMaxDuration(sm.cfg.MaxDuration),
		session.WithLanguage(sm.cfg.Language),
	}
	if sm.stt != nil {
		base = append(base, session.WithTranscriber(sm.stt))
	}
	if len(sm.cfg.Keywords) > 0 {
		kw := make([]stt.KeywordBoost, 0, len(sm.cfg.Keywords))
		for _, k := range sm.cfg.Keywords {
			kw = append(kw, stt.KeywordBoost{Keyword: k, Boost: 1})
		}
		base = append(base, session.WithKeywords(kw))
	}

	s := &Session{
		mgr:     sm,
		ctrl:    session.New(device, append(base, opts...)...),
		updates: make(chan Update, updateBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		info: SessionInfo{
			SessionID: uuid.NewString(),
			Source:    source,
			OpenedAt:  sm.clock.Now().UTC(),
		},
	}
	sm.active = s
	sm.metrics.ActiveSessions.Add(context.Background(), 1)
	go s.forward()

	slog.Info("session opened", "session_id", s.info.SessionID, "source", source)
	return s, nil
}

// IsActive reports whether a session is currently open.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active != nil
}

// Info returns metadata about the open session, or the zero value.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	s := sm.active
	sm.mu.Unlock()
	if s == nil {
		return SessionInfo{}
	}
	return s.Info()
}

// Close closes the open session, if any.
func (sm *SessionManager) Close() error {
	sm.mu.Lock()
	s := sm.active
	sm.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

func (sm *SessionManager) release(s *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == s {
		sm.active = nil
		sm.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// Session is one open recording session: a [session.Controller] whose takes
// are persisted to the store. A take row is created on Start and completed
// on Stop or auto-stop; a take cleared before it stopped is deleted.
type Session struct {
	mgr  *SessionManager
	ctrl *session.Controller

	updates chan Update
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu       sync.Mutex
	info     SessionInfo
	take     *store.Take
	finished bool
}

// Updates returns the session's events. The channel is closed by Close.
// Delivery is best-effort except for the stop of a take.
func (s *Session) Updates() <-chan Update { return s.updates }

// Info returns the session metadata.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Snapshot returns the controller state.
func (s *Session) Snapshot() (session.Snapshot, error) { return s.ctrl.Snapshot() }

// Start begins a take and creates its row with status recording.
func (s *Session) Start(ctx context.Context) error {
	if err := s.ctrl.Start(ctx); err != nil {
		return err
	}
	now := s.mgr.clock.Now()
	t := &store.Take{
		Title:  "自己紹介 " + now.Local().Format("2006-01-02 15:04"),
		Status: store.StatusRecording,
	}
	if err := s.mgr.store.CreateTake(ctx, t); err != nil {
		_ = s.ctrl.Clear()
		return fmt.Errorf("app: create take: %w", err)
	}

	s.mu.Lock()
	s.take = t
	s.finished = false
	s.info.TakeID = t.ID
	s.mu.Unlock()
	slog.Info("take started", "session_id", s.info.SessionID, "take_id", t.ID)
	return nil
}

// Pause suspends the take.
func (s *Session) Pause() error { return s.ctrl.Pause() }

// Resume continues a paused take.
func (s *Session) Resume() error { return s.ctrl.Resume() }

// Stop ends the take, persists it and returns the result with its take ID.
func (s *Session) Stop(ctx context.Context) (session.Result, string, error) {
	res, err := s.ctrl.Stop()
	if err != nil {
		return session.Result{}, "", err
	}
	id, err := s.finish(ctx, res)
	return res, id, err
}

// Clear discards the take. A take that never stopped is deleted from the
// store; a stopped one is kept.
func (s *Session) Clear(ctx context.Context) error {
	if err := s.ctrl.Clear(); err != nil {
		return err
	}
	s.mu.Lock()
	t, finished := s.take, s.finished
	s.take, s.finished = nil, false
	s.info.TakeID = ""
	s.mu.Unlock()

	if t != nil && !finished {
		if err := s.mgr.store.DeleteTake(ctx, t.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("app: delete cleared take: %w", err)
		}
	}
	return nil
}

// Edit replaces the transcript. After Stop the stored take is updated too.
func (s *Session) Edit(ctx context.Context, text string) error {
	if err := s.ctrl.Edit(text); err != nil {
		return err
	}
	s.mu.Lock()
	t, finished := s.take, s.finished
	s.mu.Unlock()
	if t == nil || !finished {
		return nil
	}

	stored, err := s.mgr.store.GetTake(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("app: edit take: %w", err)
	}
	stored.Transcript = text
	if err := s.mgr.store.UpdateTake(ctx, stored); err != nil {
		return fmt.Errorf("app: edit take: %w", err)
	}
	return nil
}

// Close stops the controller, waits for pending updates to be forwarded and
// frees the manager slot. A take still recording is discarded. Close is
// idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		t, finished := s.take, s.finished
		s.mu.Unlock()

		close(s.closing)
		s.closeErr = s.ctrl.Close()
		<-s.done

		if t != nil && !finished {
			if err := s.mgr.store.DeleteTake(context.Background(), t.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				slog.Warn("session: discard unfinished take", "take_id", t.ID, "err", err)
			}
		}
		s.mgr.release(s)
		slog.Info("session closed", "session_id", s.info.SessionID)
	})
	return s.closeErr
}

// forward relays controller events to Updates and persists auto-stopped
// takes. It exits when the controller closes its event channel.
func (s *Session) forward() {
	defer close(s.done)
	defer close(s.updates)

	for ev := range s.ctrl.Events() {
		u := Update{Event: ev}
		switch e := ev.(type) {
		case session.StoppedEvent:
			id, err := s.finish(context.Background(), e.Result)
			if err != nil {
				slog.Error("session: persist take", "session_id", s.info.SessionID, "err", err)
			}
			u.TakeID = id
			// Stops are never dropped.
			select {
			case s.updates <- u:
			case <-s.closing:
			}
			continue
		case session.StateEvent:
			if e.State == session.Stopped && e.AutoStopped {
				// StoppedEvent may have been dropped under load; the
				// snapshot still carries the result.
				if snap, err := s.ctrl.Snapshot(); err == nil && snap.Result != nil {
					if _, err := s.finish(context.Background(), *snap.Result); err != nil {
						slog.Error("session: persist take", "session_id", s.info.SessionID, "err", err)
					}
				}
			}
		}
		u.TakeID = s.Info().TakeID
		select {
		case s.updates <- u:
		default:
		}
	}
}

// finish persists a stopped take exactly once.
func (s *Session) finish(ctx context.Context, res session.Result) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.take == nil {
		return "", nil
	}
	if s.finished {
		return s.take.ID, nil
	}

	m := res.Metrics
	t := *s.take
	t.Status = store.StatusTranscribed
	t.Transcript = res.Transcript
	t.Duration = res.Duration
	t.Audio = res.Audio
	t.Metrics = &m
	if err := s.mgr.store.UpdateTake(ctx, &t); err != nil {
		return t.ID, fmt.Errorf("app: save take: %w", err)
	}
	s.take = &t
	s.finished = true
	s.mgr.metrics.RecordTake(ctx, res.Duration, res.AutoStopped)

	slog.Info("take saved",
		"take_id", t.ID,
		"duration", res.Duration,
		"auto_stopped", res.AutoStopped,
		"audio_bytes", len(res.Audio),
	)
	return t.ID, nil
}
