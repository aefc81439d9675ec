package acoustic

import "unicode/utf8"

// Fragment is one speech-to-text result. Final fragments are committed;
// interim fragments only preview speech that is still being recognised.
type Fragment struct {
	Text    string
	IsFinal bool
}

// Transcript is a reducer over [Fragment] events plus explicit edit and clear
// events.
//
// A final fragment is appended to the committed text and discards the current
// interim preview. An interim fragment replaces the preview. Because the
// reducer applies events strictly in arrival order, a final always lands
// before any later interim.
type Transcript struct {
	committed string
	interim   string
}

// Apply reduces one fragment into the transcript.
func (t *Transcript) Apply(f Fragment) {
	if f.IsFinal {
		t.committed += f.Text
		t.interim = ""
		return
	}
	t.interim = f.Text
}

// Edit replaces the committed text with a user-supplied version and drops the
// interim preview.
func (t *Transcript) Edit(text string) {
	t.committed = text
	t.interim = ""
}

// Clear empties the transcript.
func (t *Transcript) Clear() {
	t.committed, t.interim = "", ""
}

// Commit promotes the pending preview to committed text. The session
// controller calls it when production stops so the last words spoken are
// kept.
func (t *Transcript) Commit() {
	t.committed += t.interim
	t.interim = ""
}

// DropInterim discards the preview, keeping committed text.
func (t *Transcript) DropInterim() {
	t.interim = ""
}

// Committed returns the committed text.
func (t *Transcript) Committed() string { return t.committed }

// Interim returns the current preview.
func (t *Transcript) Interim() string { return t.interim }

// Display returns committed text followed by the preview.
func (t *Transcript) Display() string { return t.committed + t.interim }

// Len counts the characters (Unicode code points) of the committed text.
func (t *Transcript) Len() int { return utf8.RuneCountInString(t.committed) }
