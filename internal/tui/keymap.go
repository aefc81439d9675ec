package tui

// Key bindings handled by Model.handleKey.
const (
	KeyStart    = "r"
	KeyPause    = "p"
	KeyStop     = "s"
	KeyClear    = "c"
	KeyEvaluate = "e"
	KeyQuit     = "q"
	KeyCtrlC    = "ctrl+c"
)
