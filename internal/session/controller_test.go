package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/introcoach/pkg/audio"
	audiomock "github.com/MrWong99/introcoach/pkg/audio/mock"
	"github.com/MrWong99/introcoach/pkg/provider/stt"
	sttmock "github.com/MrWong99/introcoach/pkg/provider/stt/mock"
)

const waitTimeout = 2 * time.Second

type fixture struct {
	c     *Controller
	dev   *audiomock.Device
	stt   *sttmock.Provider
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		dev:   &audiomock.Device{},
		stt:   &sttmock.Provider{},
		clock: clockwork.NewFakeClock(),
	}
	opts = append([]Option{WithClock(f.clock), WithTranscriber(f.stt), WithLanguage("ja")}, opts...)
	f.c = New(f.dev, opts...)
	t.Cleanup(func() { _ = f.c.Close() })
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// waitEvent reads events until one of type T satisfies match.
func waitEvent[T Event](t *testing.T, c *Controller, match func(T) bool) T {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatal("events channel closed")
			}
			if e, ok := ev.(T); ok && (match == nil || match(e)) {
				return e
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func snapshot(t *testing.T, c *Controller) Snapshot {
	t.Helper()
	s, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return s
}

// speechFrame returns n samples of a loud 16 kHz mono square wave.
func speechFrame(n int) audio.Frame {
	pcm := make([]byte, n*2)
	for i := range n {
		v := int16(6000)
		if (i/8)%2 == 1 {
			v = -6000
		}
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(uint16(v) >> 8)
	}
	return audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1}
}

func TestController_PauseIsExcludedFromDuration(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.clock.Advance(2 * time.Second)
	if err := f.c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	f.clock.Advance(10 * time.Second)
	if got := snapshot(t, f.c).Elapsed; got != 2*time.Second {
		t.Errorf("Elapsed while paused = %v, want 2s", got)
	}
	if err := f.c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	f.clock.Advance(3 * time.Second)

	res, err := f.c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if res.Duration != 5*time.Second {
		t.Errorf("Duration = %v, want 5s", res.Duration)
	}
	if res.AutoStopped {
		t.Error("AutoStopped = true for a manual stop")
	}
	if s := snapshot(t, f.c); s.State != Stopped || s.Metrics == nil {
		t.Errorf("after Stop: state=%v metrics=%v", s.State, s.Metrics)
	}
	if !f.dev.Last().IsClosed() {
		t.Error("capture stream not closed after Stop")
	}
}

func TestController_PauseClosesTranscriberAndClearsWaveform(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	waitFor(t, "transcriber start", func() bool { return f.stt.StartCount() == 1 })

	if err := f.c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	waitEvent(t, f.c, func(e WaveformEvent) bool { return len(e.Bars) == 0 })
	waitFor(t, "transcriber close", func() bool {
		s := f.stt.Last()
		return s != nil && s.Closed()
	})

	if err := f.c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitFor(t, "transcriber restart", func() bool { return f.stt.StartCount() == 2 })
	if got := f.stt.StartStreamCalls[1].Cfg; got.Language != "ja" || got.SampleRate != 16000 {
		t.Errorf("StreamConfig = %+v", got)
	}
}

func TestController_PermissionDeniedKeepsIdle(t *testing.T) {
	f := newFixture(t)
	f.dev.SetOpenErr(audio.ErrPermissionDenied)

	err := f.c.Start(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Start error = %v, want ErrPermissionDenied", err)
	}
	if s := snapshot(t, f.c); s.State != Idle {
		t.Errorf("state = %v, want idle", s.State)
	}

	f.dev.SetOpenErr(nil)
	f.start(t)
	if s := snapshot(t, f.c); s.State != Recording {
		t.Errorf("state after retry = %v, want recording", s.State)
	}
	if f.dev.OpenCount() != 2 {
		t.Errorf("OpenCount = %d, want 2", f.dev.OpenCount())
	}
}

func TestController_InvalidTransitions(t *testing.T) {
	f := newFixture(t)

	for name, call := range map[string]func() error{
		"pause":  f.c.Pause,
		"resume": f.c.Resume,
		"stop":   func() error { _, err := f.c.Stop(); return err },
		"edit":   func() error { return f.c.Edit("x") },
	} {
		if err := call(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s while idle = %v, want ErrInvalidTransition", name, err)
		}
	}
	if err := f.c.Clear(); err != nil {
		t.Errorf("Clear while idle = %v, want nil", err)
	}

	f.start(t)
	if err := f.c.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Start = %v, want ErrInvalidTransition", err)
	}
	if err := f.c.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resume while recording = %v, want ErrInvalidTransition", err)
	}
}

func TestController_AutoStopFiresOnce(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.clock.Advance(MaxDuration)

	ev := waitEvent(t, f.c, func(e StateEvent) bool { return e.State == Stopped })
	if !ev.AutoStopped {
		t.Error("StateEvent.AutoStopped = false")
	}
	stopped := waitEvent[StoppedEvent](t, f.c, nil)
	if stopped.Result.Duration != MaxDuration || !stopped.Result.AutoStopped {
		t.Errorf("result = %+v", stopped.Result)
	}

	f.clock.Advance(10 * time.Second)
	snapshot(t, f.c)
	for {
		select {
		case ev := <-f.c.Events():
			if _, ok := ev.(StoppedEvent); ok {
				t.Fatal("second StoppedEvent after auto-stop")
			}
			continue
		default:
		}
		break
	}

	if _, err := f.c.Stop(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Stop after auto-stop = %v, want ErrInvalidTransition", err)
	}
}

func TestController_PauseAfterCeilingAutoStops(t *testing.T) {
	const ceiling = 10 * time.Second
	f := newFixture(t, WithMaxDuration(ceiling))
	f.start(t)

	// Re-phase the tickers so the ceiling falls between two ticks.
	f.clock.Advance(500 * time.Millisecond)
	if err := f.c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := f.c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	for range 9 {
		f.clock.Advance(time.Second)
	}
	f.clock.Advance(600 * time.Millisecond)

	// Either the deadline already ended the take, or Pause does.
	if err := f.c.Pause(); err != nil && !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Pause: %v", err)
	}
	f.clock.Advance(time.Minute)

	s := snapshot(t, f.c)
	if s.State != Stopped {
		t.Fatalf("state = %v, want stopped", s.State)
	}
	if s.Result == nil || !s.Result.AutoStopped || s.Result.Duration != ceiling {
		t.Errorf("result = %+v, want auto-stopped at %v", s.Result, ceiling)
	}
}

func TestController_DeadlineStopsBetweenTicks(t *testing.T) {
	const ceiling = 3 * time.Second
	f := newFixture(t, WithMaxDuration(ceiling))
	f.start(t)

	f.clock.Advance(400 * time.Millisecond)
	if err := f.c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := f.c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	// Remaining is 2.6 s; the re-phased tick would only see it at 3 s.
	f.clock.Advance(2600 * time.Millisecond)

	stopped := waitEvent[StoppedEvent](t, f.c, nil)
	if !stopped.Result.AutoStopped || stopped.Result.Duration != ceiling {
		t.Errorf("result = %+v, want auto-stopped at %v", stopped.Result, ceiling)
	}
}

func TestController_ElapsedAndSamplerTicks(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.clock.Advance(time.Second)
	ev := waitEvent[ElapsedEvent](t, f.c, nil)
	if ev.Elapsed != time.Second || ev.Remaining != MaxDuration-time.Second {
		t.Errorf("ElapsedEvent = %+v", ev)
	}

	waitFor(t, "loudness sample", func() bool {
		f.clock.Advance(SampleInterval)
		return snapshot(t, f.c).HistoryLen > 0
	})
}

func TestController_TranscriptFlow(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	waitFor(t, "transcriber start", func() bool { return f.stt.Last() != nil })

	sess := f.stt.Last()
	sess.Emit(stt.Transcript{Text: "はじめまして。", IsFinal: true})
	sess.Emit(stt.Transcript{Text: "田中です"})

	waitEvent(t, f.c, func(e TranscriptEvent) bool { return e.Interim == "田中です" })
	if s := snapshot(t, f.c); s.Transcript != "はじめまして。田中です" {
		t.Errorf("display = %q", s.Transcript)
	}

	res, err := f.c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// The pending interim is promoted on stop.
	if res.Transcript != "はじめまして。田中です" {
		t.Errorf("Transcript = %q", res.Transcript)
	}
	// 11 characters over the 6 s minimum duration.
	if res.Metrics.SpeechRate != 110 {
		t.Errorf("SpeechRate = %d, want 110", res.Metrics.SpeechRate)
	}
}

func TestController_AudioIsCapturedAsWAV(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	for range 3 {
		if !f.dev.Emit(speechFrame(1600)) {
			t.Fatal("Emit rejected frame")
		}
	}
	res, err := f.c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if want := 44 + 3*1600*2; len(res.Audio) != want {
		t.Errorf("len(Audio) = %d, want %d", len(res.Audio), want)
	}
	if string(res.Audio[0:4]) != "RIFF" {
		t.Errorf("Audio header = %q", res.Audio[0:4])
	}
}

func TestController_TranscriberRestartsAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	waitFor(t, "transcriber start", func() bool { return f.stt.Last() != nil })

	boom := errors.New("connection reset")
	f.stt.Last().Fail(boom)

	ev := waitEvent[ErrorEvent](t, f.c, nil)
	if !errors.Is(ev.Err, boom) {
		t.Errorf("ErrorEvent = %v, want wrapping %v", ev.Err, boom)
	}

	// Three tickers plus the restart timer.
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := f.clock.BlockUntilContext(ctx, 4); err != nil {
		t.Fatalf("restart timer not armed: %v", err)
	}
	f.clock.Advance(restartDelay)
	waitFor(t, "transcriber restart", func() bool { return f.stt.StartCount() == 2 })

	if s := snapshot(t, f.c); s.State != Recording {
		t.Errorf("state = %v, want recording", s.State)
	}
}

func TestController_TranscriberEndsWithoutError(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	waitFor(t, "transcriber start", func() bool { return f.stt.Last() != nil })

	_ = f.stt.Last().Close()
	ev := waitEvent[ErrorEvent](t, f.c, nil)
	if !errors.Is(ev.Err, errProducerEnded) {
		t.Errorf("ErrorEvent = %v, want errProducerEnded", ev.Err)
	}
}

func TestController_Clear(t *testing.T) {
	t.Run("from recording", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		waitFor(t, "transcriber start", func() bool { return f.stt.Last() != nil })

		if err := f.c.Clear(); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		s := snapshot(t, f.c)
		if s.State != Idle || s.Metrics != nil || s.HistoryLen != 0 {
			t.Errorf("after Clear: %+v", s)
		}
		if !f.dev.Last().IsClosed() {
			t.Error("capture stream still open")
		}
		waitFor(t, "transcriber close", func() bool { return f.stt.Last().Closed() })
	})

	t.Run("from stopped", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		if err := f.c.Edit("よろしくお願いします"); err != nil {
			t.Fatalf("Edit: %v", err)
		}
		if _, err := f.c.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if err := f.c.Clear(); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		s := snapshot(t, f.c)
		if s.State != Idle || s.Transcript != "" || s.Result != nil {
			t.Errorf("after Clear: %+v", s)
		}
		// A fresh take can start again.
		f.start(t)
	})
}

func TestController_EditAfterStopKeepsMetrics(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	res, err := f.c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := f.c.Edit("修正した自己紹介"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	s := snapshot(t, f.c)
	if s.Result == nil || s.Result.Transcript != "修正した自己紹介" {
		t.Fatalf("Result = %+v", s.Result)
	}
	if s.Result.Metrics != res.Metrics {
		t.Errorf("metrics changed after edit: %+v vs %+v", s.Result.Metrics, res.Metrics)
	}
}

func TestController_Close(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	if err := f.c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.c.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if err := f.c.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
	if _, err := f.c.Snapshot(); !errors.Is(err, ErrClosed) {
		t.Errorf("Snapshot after Close = %v, want ErrClosed", err)
	}
	if !f.dev.Last().IsClosed() {
		t.Error("capture stream not released by Close")
	}

	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-f.c.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel not closed")
		}
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Recording: "recording", Paused: "paused", Stopped: "stopped", State(9): "unknown"} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
