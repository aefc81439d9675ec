// Package tui is the terminal front end: a bubbletea program that records a
// take on the local microphone, shows the live waveform and transcript, and
// asks the coach for an evaluation once the take is stopped.
package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/introcoach/internal/acoustic"
	"github.com/MrWong99/introcoach/internal/app"
	"github.com/MrWong99/introcoach/internal/coach"
	"github.com/MrWong99/introcoach/internal/session"
)

// evaluateTimeout bounds one evaluation request.
const evaluateTimeout = 90 * time.Second

// Recorder is the part of [app.Session] the TUI drives.
type Recorder interface {
	Start(ctx context.Context) error
	Pause() error
	Resume() error
	Stop(ctx context.Context) (session.Result, string, error)
	Clear(ctx context.Context) error
	Updates() <-chan app.Update
}

// Evaluator runs evaluations. [app.App] implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, in app.EvaluateInput) (*coach.Evaluation, error)
}

// Model is the root bubbletea model.
type Model struct {
	ctx       context.Context
	rec       Recorder
	eval      Evaluator
	personaID string
	limit     time.Duration

	state     session.State
	elapsed   time.Duration
	bars      []float64
	committed string
	interim   string
	metrics   *acoustic.Metrics
	takeID    string
	auto      bool

	evaluating bool
	evaluation *coach.Evaluation

	errMsg string
	closed bool
	width  int
}

// Option configures a [Model].
type Option func(*Model)

// WithPersona evaluates from the perspective of the catalog persona id.
func WithPersona(id string) Option {
	return func(m *Model) { m.personaID = id }
}

// WithLimit sets the displayed recording ceiling. Defaults to
// [session.MaxDuration].
func WithLimit(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.limit = d
		}
	}
}

// New creates a Model driving rec. eval may be nil, which disables
// evaluation.
func New(ctx context.Context, rec Recorder, eval Evaluator, opts ...Option) Model {
	m := Model{
		ctx:   ctx,
		rec:   rec,
		eval:  eval,
		limit: session.MaxDuration,
		state: session.Idle,
	}
	for _, o := range opts {
		o(&m)
	}
	return m
}

// Init starts listening for session updates.
func (m Model) Init() tea.Cmd {
	return waitUpdate(m.rec)
}

// waitUpdate reads the next session update.
func waitUpdate(rec Recorder) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-rec.Updates()
		if !ok {
			return sessionClosedMsg{}
		}
		return updateMsg{update: u}
	}
}

// action runs fn off the update loop and reports a failure.
func action(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (m Model) stopCmd() tea.Cmd {
	rec, ctx := m.rec, m.ctx
	return func() tea.Msg {
		_, id, err := rec.Stop(ctx)
		if err != nil {
			return actionErrMsg{err: err}
		}
		return stoppedMsg{takeID: id}
	}
}

func (m Model) evaluateCmd() tea.Cmd {
	in := app.EvaluateInput{
		TakeID:     m.takeID,
		Transcript: m.committed,
		Metrics:    m.metrics,
		PersonaID:  m.personaID,
	}
	ev, parent := m.eval, m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, evaluateTimeout)
		defer cancel()
		res, err := ev.Evaluate(ctx, in)
		return evaluatedMsg{eval: res, err: err}
	}
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case updateMsg:
		m.apply(msg.update)
		return m, waitUpdate(m.rec)

	case sessionClosedMsg:
		m.closed = true
		return m, nil

	case actionErrMsg:
		m.errMsg = msg.err.Error()
		return m, nil

	case stoppedMsg:
		if msg.takeID != "" {
			m.takeID = msg.takeID
		}
		return m, nil

	case evaluatedMsg:
		m.evaluating = false
		if msg.err != nil {
			m.errMsg = describeEvalError(msg.err)
			return m, nil
		}
		m.evaluation = msg.eval
		m.errMsg = ""
		return m, nil
	}
	return m, nil
}

// apply folds one session update into the model.
func (m *Model) apply(u app.Update) {
	if u.TakeID != "" {
		m.takeID = u.TakeID
	}
	switch e := u.Event.(type) {
	case session.StateEvent:
		m.state = e.State
		switch e.State {
		case session.Idle:
			m.elapsed = 0
			m.bars = nil
			m.metrics = nil
			m.evaluation = nil
			m.takeID = ""
			m.auto = false
		case session.Recording:
			m.errMsg = ""
		case session.Stopped:
			m.auto = e.AutoStopped
			m.bars = nil
		}
	case session.ElapsedEvent:
		m.elapsed = e.Elapsed
	case session.WaveformEvent:
		m.bars = e.Bars
	case session.TranscriptEvent:
		m.committed, m.interim = e.Committed, e.Interim
	case session.ErrorEvent:
		m.errMsg = e.Err.Error()
	case session.StoppedEvent:
		met := e.Result.Metrics
		m.metrics = &met
		m.elapsed = e.Result.Duration
		m.committed, m.interim = e.Result.Transcript, ""
		m.auto = e.Result.AutoStopped
	}
}

// canEvaluate reports whether the evaluate key is live.
func (m Model) canEvaluate() bool {
	return m.eval != nil && !m.evaluating && m.state == session.Stopped && m.committed != ""
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	rec, ctx := m.rec, m.ctx
	switch msg.String() {
	case KeyQuit, KeyCtrlC:
		return m, tea.Quit

	case KeyStart:
		switch m.state {
		case session.Idle:
			return m, action(func() error { return rec.Start(ctx) })
		case session.Stopped:
			// A new take replaces the stopped one on screen; the stored take
			// is kept.
			return m, action(func() error {
				if err := rec.Clear(ctx); err != nil {
					return err
				}
				return rec.Start(ctx)
			})
		}

	case KeyPause:
		switch m.state {
		case session.Recording:
			return m, action(rec.Pause)
		case session.Paused:
			return m, action(rec.Resume)
		}

	case KeyStop:
		if m.state == session.Recording || m.state == session.Paused {
			return m, m.stopCmd()
		}

	case KeyClear:
		if m.state != session.Idle {
			return m, action(func() error { return rec.Clear(ctx) })
		}

	case KeyEvaluate:
		if m.canEvaluate() {
			m.evaluating = true
			m.errMsg = ""
			return m, m.evaluateCmd()
		}
	}
	return m, nil
}

func describeEvalError(err error) string {
	var (
		reqErr   *coach.RequestError
		parseErr *coach.ParseError
	)
	switch {
	case errors.As(err, &parseErr):
		return "analysis failed: the evaluation could not be read"
	case errors.As(err, &reqErr):
		return "evaluation backend unavailable: " + reqErr.Err.Error()
	case errors.Is(err, app.ErrNoLLM):
		return "no evaluation backend configured"
	}
	return err.Error()
}
