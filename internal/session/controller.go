// Package session implements the recording session controller: the state
// machine that owns the microphone stream, the spectrum analyser, the
// loudness history, the transcription producer and the timers of one take.
//
// A [Controller] runs a single event loop goroutine. Timer ticks, audio
// frames, transcription results and caller commands all arrive as select
// cases on that goroutine, so session state needs no locking. Public methods
// send a command and wait for the loop to reply.
//
//	c := session.New(dev, session.WithTranscriber(deepgramProvider))
//	defer c.Close()
//	if err := c.Start(ctx); err != nil { ... }
//	for ev := range c.Events() { ... }
//	res, err := c.Stop()
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/introcoach/internal/acoustic"
	"github.com/MrWong99/introcoach/pkg/audio"
	"github.com/MrWong99/introcoach/pkg/audio/analyser"
	"github.com/MrWong99/introcoach/pkg/provider/stt"
)

const (
	// MaxDuration is the longest take. Reaching it stops the take.
	MaxDuration = 300 * time.Second

	TickInterval     = time.Second
	SampleInterval   = 100 * time.Millisecond
	WaveformInterval = 50 * time.Millisecond

	// restartDelay is how long a failed transcription producer waits before
	// it is started again.
	restartDelay = 100 * time.Millisecond

	defaultEventBuffer = 256
)

var (
	// ErrInvalidTransition is returned when a command does not apply to the
	// current state.
	ErrInvalidTransition = errors.New("session: invalid state transition")

	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("session: controller closed")
)

// Option configures a [Controller].
type Option func(*Controller)

// WithClock sets the clock driving every timer. Defaults to the real clock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithTranscriber sets the speech-to-text backend. Without one the take has
// no live transcript; text can still be supplied through Edit.
func WithTranscriber(p stt.Provider) Option {
	return func(c *Controller) { c.stt = p }
}

// WithLanguage sets the recognition language passed to the transcriber.
func WithLanguage(lang string) Option {
	return func(c *Controller) { c.language = lang }
}

// WithKeywords sets recognition hints passed to the transcriber.
func WithKeywords(kw []stt.KeywordBoost) Option {
	return func(c *Controller) { c.keywords = kw }
}

// WithFormat sets the format frames are normalised to before analysis,
// transcription and WAV encoding. Defaults to [audio.DefaultFormat].
func WithFormat(f audio.Format) Option {
	return func(c *Controller) {
		if f.SampleRate > 0 && f.Channels > 0 {
			c.format = f
		}
	}
}

// WithMaxDuration overrides [MaxDuration].
func WithMaxDuration(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.maxDuration = d
		}
	}
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.eventBuffer = n
		}
	}
}

// WithAnalyserOptions configures the analyser created for every take.
func WithAnalyserOptions(opts ...analyser.Option) Option {
	return func(c *Controller) { c.analyserOpts = opts }
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdPause
	cmdResume
	cmdStop
	cmdClear
	cmdEdit
	cmdSnapshot
	cmdClose
)

var cmdNames = [...]string{"start", "pause", "resume", "stop", "clear", "edit", "snapshot", "close"}

type command struct {
	kind  cmdKind
	ctx   context.Context
	text  string
	reply chan reply
}

type reply struct {
	result *Result
	snap   Snapshot
	err    error
}

type producerStart struct {
	gen    uint64
	handle stt.SessionHandle
	err    error
}

// Controller drives one take at a time through Idle, Recording, Paused and
// Stopped. All methods are safe for concurrent use.
type Controller struct {
	device       audio.Device
	stt          stt.Provider
	clock        clockwork.Clock
	format       audio.Format
	language     string
	keywords     []stt.KeywordBoost
	maxDuration  time.Duration
	eventBuffer  int
	analyserOpts []analyser.Option

	cmds    chan command
	started chan producerStart
	events  chan Event
	done    chan struct{}

	// ctx bounds transcription sessions; cancelled when the loop exits.
	ctx    context.Context
	cancel context.CancelFunc

	// Everything below is owned by the loop goroutine.
	state      State
	stream     audio.Stream
	frames     <-chan audio.Frame
	conv       *audio.Converter
	an         *analyser.Analyser
	history    *acoustic.History
	sampler    *acoustic.Sampler
	transcript acoustic.Transcript
	pcm        []byte

	prod        *producer
	prodResults <-chan stt.Transcript
	gen         uint64
	restart     clockwork.Timer

	tick, sample, wave clockwork.Ticker

	// deadline fires when recorded time reaches maxDuration. It is armed
	// while Recording only.
	deadline clockwork.Timer

	recorded  time.Duration
	resumedAt time.Time
	result    *Result
}

// New returns an idle Controller capturing from device and starts its event
// loop. The caller must Close it.
func New(device audio.Device, opts ...Option) *Controller {
	c := &Controller{
		device:      device,
		clock:       clockwork.NewRealClock(),
		format:      audio.DefaultFormat,
		maxDuration: MaxDuration,
		eventBuffer: defaultEventBuffer,
		cmds:        make(chan command),
		started:     make(chan producerStart),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.events = make(chan Event, c.eventBuffer)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.loop()
	return c
}

// Events returns the event stream. Delivery is best-effort: events are
// dropped when the consumer lags. The channel is closed by Close.
func (c *Controller) Events() <-chan Event { return c.events }

// Start acquires the microphone and begins a take. A capture failure such as
// [audio.ErrPermissionDenied] leaves the controller Idle and is returned
// wrapped; Start may be retried.
func (c *Controller) Start(ctx context.Context) error {
	return c.do(ctx, command{kind: cmdStart, ctx: ctx}).err
}

// Pause suspends recording. Time spent paused does not count towards the
// take duration.
func (c *Controller) Pause() error {
	return c.do(context.Background(), command{kind: cmdPause}).err
}

// Resume continues a paused take.
func (c *Controller) Resume() error {
	return c.do(context.Background(), command{kind: cmdResume}).err
}

// Stop ends the take and returns its result. Metrics are computed once, here.
func (c *Controller) Stop() (Result, error) {
	r := c.do(context.Background(), command{kind: cmdStop})
	if r.err != nil {
		return Result{}, r.err
	}
	return *r.result, nil
}

// Clear discards the take and returns to Idle. It is a no-op when Idle.
func (c *Controller) Clear() error {
	return c.do(context.Background(), command{kind: cmdClear}).err
}

// Edit replaces the committed transcript. After Stop it also replaces the
// result transcript; metrics are left as computed.
func (c *Controller) Edit(text string) error {
	return c.do(context.Background(), command{kind: cmdEdit, text: text}).err
}

// Snapshot returns the current state of the take.
func (c *Controller) Snapshot() (Snapshot, error) {
	r := c.do(context.Background(), command{kind: cmdSnapshot})
	return r.snap, r.err
}

// Close tears down any take and stops the event loop. Closing an already
// closed controller returns nil.
func (c *Controller) Close() error {
	err := c.do(context.Background(), command{kind: cmdClose}).err
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (c *Controller) do(ctx context.Context, cmd command) reply {
	cmd.reply = make(chan reply, 1)
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return reply{err: ErrClosed}
	case <-ctx.Done():
		return reply{err: ctx.Err()}
	}
	// An accepted command is always answered.
	return <-cmd.reply
}

func (c *Controller) loop() {
	defer close(c.done)
	defer close(c.events)
	defer c.cancel()

	for {
		select {
		case cmd := <-c.cmds:
			r := c.handle(cmd)
			cmd.reply <- r
			if cmd.kind == cmdClose {
				return
			}

		case f, ok := <-c.frames:
			if !ok {
				c.onStreamEnded()
				continue
			}
			c.onFrame(f)

		case tr, ok := <-c.prodResults:
			if !ok {
				c.onProducerEnded()
				continue
			}
			c.transcript.Apply(acoustic.Fragment{Text: tr.Text, IsFinal: tr.IsFinal})
			c.emitTranscript()

		case ps := <-c.started:
			c.onProducerStarted(ps)

		case <-timerC(c.restart):
			c.restart = nil
			if c.state == Recording {
				c.startProducer()
			}

		case <-tickerC(c.sample):
			c.sampler.Sample()

		case <-tickerC(c.wave):
			c.emit(WaveformEvent{Bars: c.sampler.Waveform()})

		case <-tickerC(c.tick):
			c.onTick()

		case <-timerC(c.deadline):
			c.deadline = nil
			c.onDeadline()
		}
	}
}

func (c *Controller) handle(cmd command) reply {
	switch cmd.kind {
	case cmdStart:
		return reply{err: c.start(cmd.ctx)}

	case cmdPause:
		if c.state != Recording {
			return reply{err: c.invalid(cmd.kind)}
		}
		if c.elapsed() >= c.maxDuration {
			// The ceiling passed before the deadline was serviced.
			c.stop(true)
			return reply{}
		}
		c.recorded += c.clock.Since(c.resumedAt)
		c.stopTimers()
		c.stopProducer()
		c.transcript.Commit()
		c.emitTranscript()
		c.emit(WaveformEvent{})
		c.setState(Paused, false)
		return reply{}

	case cmdResume:
		if c.state != Paused {
			return reply{err: c.invalid(cmd.kind)}
		}
		c.resumedAt = c.clock.Now()
		c.startTimers()
		c.startProducer()
		c.setState(Recording, false)
		return reply{}

	case cmdStop:
		if c.state != Recording && c.state != Paused {
			return reply{err: c.invalid(cmd.kind)}
		}
		res := c.stop(false)
		return reply{result: &res}

	case cmdClear:
		c.clear()
		return reply{}

	case cmdEdit:
		if c.state == Idle {
			return reply{err: c.invalid(cmd.kind)}
		}
		c.transcript.Edit(cmd.text)
		if c.result != nil {
			c.result.Transcript = cmd.text
		}
		c.emitTranscript()
		return reply{}

	case cmdSnapshot:
		return reply{snap: c.snapshot()}

	case cmdClose:
		c.teardown()
		c.state = Idle
		return reply{}
	}
	return reply{err: fmt.Errorf("session: unknown command %d", cmd.kind)}
}

func (c *Controller) invalid(kind cmdKind) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, cmdNames[kind], c.state)
}

func (c *Controller) start(ctx context.Context) error {
	if c.state != Idle {
		return c.invalid(cmdStart)
	}
	if c.device == nil {
		return fmt.Errorf("session: start: %w", audio.ErrUnavailable)
	}
	stream, err := c.device.Open(ctx, c.format)
	if err != nil {
		return fmt.Errorf("session: start: %w", err)
	}

	c.stream = stream
	c.frames = stream.Frames()
	c.conv = &audio.Converter{Target: c.format}
	c.an = analyser.New(c.analyserOpts...)
	c.history = acoustic.NewHistory(0)
	c.sampler = acoustic.NewSampler(c.history)
	c.sampler.Attach(c.an)
	c.transcript.Clear()
	c.pcm = nil
	c.recorded = 0
	c.result = nil
	c.resumedAt = c.clock.Now()

	c.startTimers()
	c.startProducer()
	c.setState(Recording, false)
	c.emitTranscript()
	slog.Info("session: recording started", "sample_rate", c.format.SampleRate, "channels", c.format.Channels)
	return nil
}

// stop finalises the take. The caller has checked the state.
func (c *Controller) stop(auto bool) Result {
	if c.state == Recording {
		c.recorded += c.clock.Since(c.resumedAt)
		c.drainFrames()
	}
	c.teardown()
	c.transcript.Commit()

	dur := min(c.recorded, c.maxDuration)
	c.recorded = dur
	res := Result{
		Transcript:  c.transcript.Committed(),
		Duration:    dur,
		Metrics:     acoustic.Estimate(c.transcript.Len(), dur, c.history.Values()),
		Audio:       audio.EncodeWAV(c.pcm, c.format.SampleRate, c.format.Channels),
		AutoStopped: auto,
	}
	c.pcm = nil
	c.result = &res

	c.setState(Stopped, auto)
	c.emitTranscript()
	c.emit(StoppedEvent{Result: res})
	slog.Info("session: recording stopped",
		"duration", dur,
		"auto_stopped", auto,
		"characters", c.transcript.Len(),
		"clarity", res.Metrics.Clarity,
		"speech_rate", res.Metrics.SpeechRate,
	)
	return res
}

func (c *Controller) clear() {
	switch c.state {
	case Idle:
		return
	case Recording, Paused:
		c.teardown()
	}
	c.transcript.Clear()
	c.history = nil
	c.sampler = nil
	c.pcm = nil
	c.recorded = 0
	c.result = nil
	c.setState(Idle, false)
	c.emitTranscript()
}

// teardown releases every resource of the current take: timers, producer,
// capture stream and analyser.
func (c *Controller) teardown() {
	c.stopTimers()
	c.stopProducer()
	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			slog.Warn("session: close capture stream", "err", err)
		}
		c.stream = nil
		c.frames = nil
	}
	if c.sampler != nil {
		c.sampler.Attach(nil)
	}
	c.an = nil
	c.conv = nil
}

// drainFrames consumes frames already queued on the stream so audio captured
// before Stop ends up in the take.
func (c *Controller) drainFrames() {
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				return
			}
			c.onFrame(f)
		default:
			return
		}
	}
}

func (c *Controller) onFrame(f audio.Frame) {
	// Frames that arrive while paused are discarded.
	if c.state != Recording {
		return
	}
	f = c.conv.Convert(f)
	if len(f.Data) == 0 {
		return
	}
	c.pcm = append(c.pcm, f.Data...)
	c.an.Write(audio.PCM16ToFloat32(f.Data))
	if c.prod != nil && !c.prod.feed(f.Data) {
		slog.Debug("session: transcriber queue full, dropping audio", "bytes", len(f.Data))
	}
}

func (c *Controller) onStreamEnded() {
	c.frames = nil
	err := fmt.Errorf("session: capture stream ended: %w", audio.ErrUnavailable)
	slog.Warn("session: capture stream ended unexpectedly", "state", c.state)
	c.emit(ErrorEvent{Err: err})
	if c.state == Recording || c.state == Paused {
		c.stop(false)
	}
}

func (c *Controller) onTick() {
	el := min(c.elapsed(), c.maxDuration)
	c.emit(ElapsedEvent{
		Elapsed:   el.Truncate(time.Second),
		Remaining: (c.maxDuration - el).Truncate(time.Second),
	})
	if el >= c.maxDuration {
		c.stop(true)
	}
}

// onDeadline ends the take at the duration ceiling.
func (c *Controller) onDeadline() {
	if c.state != Recording {
		return
	}
	c.emit(ElapsedEvent{Elapsed: c.maxDuration})
	c.stop(true)
}

func (c *Controller) elapsed() time.Duration {
	if c.state == Recording {
		return c.recorded + c.clock.Since(c.resumedAt)
	}
	return c.recorded
}

// ─── Timers ──────────────────────────────────────────────────────────────────

func (c *Controller) startTimers() {
	c.stopTimers()
	c.tick = c.clock.NewTicker(TickInterval)
	c.sample = c.clock.NewTicker(SampleInterval)
	c.wave = c.clock.NewTicker(WaveformInterval)
	c.deadline = c.clock.NewTimer(max(c.maxDuration-c.recorded, 0))
}

// stopTimers stops every ticker and the deadline. A stopped timer is never
// selected again, so a value already buffered in its channel is discarded.
func (c *Controller) stopTimers() {
	for _, t := range []*clockwork.Ticker{&c.tick, &c.sample, &c.wave} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
	if c.deadline != nil {
		c.deadline.Stop()
		c.deadline = nil
	}
}

func tickerC(t clockwork.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func timerC(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

// ─── Transcription producer ──────────────────────────────────────────────────

// startProducer opens a transcription session without blocking the loop. The
// handle comes back through c.started tagged with the generation it was
// requested for.
func (c *Controller) startProducer() {
	if c.stt == nil {
		return
	}
	c.gen++
	gen := c.gen
	cfg := stt.StreamConfig{
		SampleRate: c.format.SampleRate,
		Channels:   c.format.Channels,
		Language:   c.language,
		Keywords:   c.keywords,
	}
	go func() {
		handle, err := c.stt.StartStream(c.ctx, cfg)
		select {
		case c.started <- producerStart{gen: gen, handle: handle, err: err}:
		case <-c.done:
			if handle != nil {
				_ = handle.Close()
			}
		}
	}()
}

func (c *Controller) onProducerStarted(ps producerStart) {
	if ps.gen != c.gen || c.state != Recording {
		if ps.handle != nil {
			_ = ps.handle.Close()
		}
		return
	}
	if ps.err != nil {
		c.producerFailed(fmt.Errorf("session: start transcriber: %w", ps.err))
		return
	}
	c.prod = newProducer(ps.gen, ps.handle)
	c.prodResults = c.prod.results()
}

func (c *Controller) onProducerEnded() {
	err := c.prod.handle.Err()
	if err == nil {
		err = errProducerEnded
	}
	c.producerFailed(fmt.Errorf("session: transcriber: %w", err))
}

// producerFailed reports err, drops the producer and schedules a restart
// while recording.
func (c *Controller) producerFailed(err error) {
	slog.Warn("session: transcription producer failed", "err", err, "state", c.state)
	c.emit(ErrorEvent{Err: err})
	c.stopProducer()
	if c.state == Recording {
		c.restart = c.clock.NewTimer(restartDelay)
	}
}

// stopProducer closes the current producer, cancels a pending restart and
// invalidates any start still in flight.
func (c *Controller) stopProducer() {
	c.gen++
	if c.prod != nil {
		c.prod.close()
		c.prod = nil
		c.prodResults = nil
	}
	if c.restart != nil {
		c.restart.Stop()
		c.restart = nil
	}
}

// ─── Events ──────────────────────────────────────────────────────────────────

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		slog.Debug("session: event dropped", "type", fmt.Sprintf("%T", ev))
	}
}

func (c *Controller) setState(s State, auto bool) {
	c.state = s
	c.emit(StateEvent{State: s, AutoStopped: auto})
}

func (c *Controller) emitTranscript() {
	c.emit(TranscriptEvent{Committed: c.transcript.Committed(), Interim: c.transcript.Interim()})
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		State:      c.state,
		Elapsed:    c.elapsed(),
		Transcript: c.transcript.Display(),
		Interim:    c.transcript.Interim(),
	}
	if c.history != nil {
		s.HistoryLen = c.history.Len()
	}
	if c.result != nil {
		res := *c.result
		s.Metrics = &res.Metrics
		s.Result = &res
	}
	return s
}
