package session

import (
	"time"

	"github.com/MrWong99/introcoach/internal/acoustic"
)

// State is the lifecycle position of a [Controller].
type State int

const (
	Idle State = iota
	Recording
	Paused
	Stopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Result is the outcome of a finished take.
type Result struct {
	// Transcript is the committed text at stop time, or the edited text when
	// Edit is called afterwards.
	Transcript string

	// Duration is the recorded time with paused intervals excluded.
	Duration time.Duration

	// Metrics are computed exactly once, at stop.
	Metrics acoustic.Metrics

	// Audio is the captured take as a WAV file.
	Audio []byte

	// AutoStopped is true when the take hit the duration limit.
	AutoStopped bool
}

// Snapshot is a point-in-time view of a controller.
type Snapshot struct {
	State      State
	Elapsed    time.Duration
	Transcript string
	Interim    string
	HistoryLen int

	// Metrics is nil until the take is stopped.
	Metrics *acoustic.Metrics

	// Result is the stopped take, or nil.
	Result *Result
}

// Event is emitted on [Controller.Events]. The concrete types are
// [StateEvent], [ElapsedEvent], [WaveformEvent], [TranscriptEvent],
// [ErrorEvent] and [StoppedEvent].
type Event interface {
	isEvent()
}

// StateEvent reports a state transition.
type StateEvent struct {
	State       State
	AutoStopped bool
}

// ElapsedEvent is emitted once per second while recording.
type ElapsedEvent struct {
	Elapsed   time.Duration
	Remaining time.Duration
}

// WaveformEvent carries [acoustic.WaveformBars] bar heights in [0, 1]. An
// empty Bars clears the display.
type WaveformEvent struct {
	Bars []float64
}

// TranscriptEvent carries the transcript after every change.
type TranscriptEvent struct {
	Committed string
	Interim   string
}

// ErrorEvent reports a recoverable failure, such as a transcription producer
// dropping out.
type ErrorEvent struct {
	Err error
}

// StoppedEvent carries the result of a stopped take.
type StoppedEvent struct {
	Result Result
}

func (StateEvent) isEvent()      {}
func (ElapsedEvent) isEvent()    {}
func (WaveformEvent) isEvent()   {}
func (TranscriptEvent) isEvent() {}
func (ErrorEvent) isEvent()      {}
func (StoppedEvent) isEvent()    {}
