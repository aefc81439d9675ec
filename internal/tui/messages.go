package tui

import (
	"github.com/MrWong99/introcoach/internal/app"
	"github.com/MrWong99/introcoach/internal/coach"
)

// updateMsg wraps one session update.
type updateMsg struct {
	update app.Update
}

// sessionClosedMsg is sent when the session's update channel is closed.
type sessionClosedMsg struct{}

// actionErrMsg reports a failed key action.
type actionErrMsg struct {
	err error
}

// stoppedMsg carries the take ID of an explicit stop.
type stoppedMsg struct {
	takeID string
}

// evaluatedMsg carries the outcome of an evaluation request.
type evaluatedMsg struct {
	eval *coach.Evaluation
	err  error
}
