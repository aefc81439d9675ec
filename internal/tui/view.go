package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/introcoach/internal/acoustic"
	"github.com/MrWong99/introcoach/internal/session"
)

var barGlyphs = []rune("▁▂▃▄▅▆▇█")

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("自己紹介コーチ"))
	b.WriteString("  ")
	b.WriteString(m.renderState())
	b.WriteString("  ")
	b.WriteString(formatClock(m.elapsed) + labelStyle.Render(" / "+formatClock(m.limit)))
	b.WriteString("\n\n")

	b.WriteString(waveStyle.Render(renderWaveform(m.bars, acoustic.WaveformBars)))
	b.WriteString("\n\n")

	b.WriteString(m.renderTranscript())
	b.WriteString("\n")

	if m.metrics != nil {
		b.WriteString("\n")
		b.WriteString(renderMetrics(*m.metrics))
		b.WriteString("\n")
	}
	if m.evaluating {
		b.WriteString("\n" + labelStyle.Render("評価中..."))
		b.WriteString("\n")
	}
	if m.evaluation != nil {
		b.WriteString("\n")
		b.WriteString(m.renderEvaluation())
		b.WriteString("\n")
	}
	if m.errMsg != "" {
		b.WriteString("\n" + errorStyle.Render(m.errMsg) + "\n")
	}
	if m.closed {
		b.WriteString("\n" + errorStyle.Render("session closed") + "\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderState() string {
	switch m.state {
	case session.Recording:
		return recordingStyle.Render("● 録音中")
	case session.Paused:
		return pausedStyle.Render("‖ 一時停止")
	case session.Stopped:
		s := "■ 停止"
		if m.auto {
			s += " (時間切れ)"
		}
		return stoppedStyle.Render(s)
	}
	return idleStyle.Render("○ 待機中")
}

func (m Model) renderTranscript() string {
	if m.committed == "" && m.interim == "" {
		return labelStyle.Render("(まだ文字起こしはありません)")
	}
	text := m.committed + interimStyle.Render(m.interim)
	if m.width > 4 {
		return panelStyle.Width(m.width - 4).Render(text)
	}
	return panelStyle.Render(text)
}

func renderMetrics(mt acoustic.Metrics) string {
	rows := []string{
		fmt.Sprintf("%s %d/10", labelStyle.Render("明瞭さ"), mt.Clarity),
		fmt.Sprintf("%s %d/5 (%s)", labelStyle.Render("声量"), mt.Volume, mt.VolumeLevel()),
		fmt.Sprintf("%s %d 文字/分 (%s)", labelStyle.Render("話速"), mt.SpeechRate, mt.RateLevel()),
		fmt.Sprintf("%s %d/10", labelStyle.Render("安定性"), mt.Stability),
	}
	return strings.Join(rows, "   ")
}

func (m Model) renderEvaluation() string {
	ev := m.evaluation
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", labelStyle.Render("総合"), scoreStyle.Render(fmt.Sprintf("%d", ev.Scores.Total)))
	fmt.Fprintf(&b, "   %s %d   %s %d", labelStyle.Render("友達"), ev.Scores.Friendship, labelStyle.Render("仕事"), ev.Scores.WorkTogether)
	if ev.Scores.Voice != nil {
		fmt.Fprintf(&b, "   %s %d", labelStyle.Render("声"), *ev.Scores.Voice)
	}
	if ev.Summary != "" {
		b.WriteString("\n" + ev.Summary)
	}
	for _, s := range ev.ImprovementSuggestions {
		b.WriteString("\n・" + s)
	}
	return b.String()
}

func (m Model) renderFooter() string {
	type binding struct {
		key, desc string
		enabled   bool
	}
	start := "start"
	if m.state == session.Stopped {
		start = "new take"
	}
	pause := "pause"
	if m.state == session.Paused {
		pause = "resume"
	}
	bindings := []binding{
		{KeyStart, start, m.state == session.Idle || m.state == session.Stopped},
		{KeyPause, pause, m.state == session.Recording || m.state == session.Paused},
		{KeyStop, "stop", m.state == session.Recording || m.state == session.Paused},
		{KeyClear, "clear", m.state != session.Idle},
		{KeyEvaluate, "evaluate", m.canEvaluate()},
		{KeyQuit, "quit", true},
	}
	parts := make([]string, 0, len(bindings))
	for _, bd := range bindings {
		if bd.enabled {
			parts = append(parts, footerKeyStyle.Render(bd.key)+" "+footerDescStyle.Render(bd.desc))
		} else {
			parts = append(parts, disabledKeyStyle.Render(bd.key+" "+bd.desc))
		}
	}
	return strings.Join(parts, "  ")
}

// renderWaveform draws n bars; missing values render as the lowest glyph.
func renderWaveform(bars []float64, n int) string {
	out := make([]rune, n)
	for i := range out {
		v := 0.0
		if i < len(bars) {
			v = bars[i]
		}
		idx := int(v * float64(len(barGlyphs)-1))
		idx = max(0, min(idx, len(barGlyphs)-1))
		out[i] = barGlyphs[idx]
	}
	return string(out)
}

// formatClock renders d as mm:ss.
func formatClock(d time.Duration) string {
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
