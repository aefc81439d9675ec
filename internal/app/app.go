// Package app wires the introcoach subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the take store and
// builds the coach, the persona catalog and the session manager; the
// surfaces (HTTP API, MCP server, terminal UI) call into it; Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/introcoach/internal/acoustic"
	"github.com/MrWong99/introcoach/internal/coach"
	"github.com/MrWong99/introcoach/internal/config"
	"github.com/MrWong99/introcoach/internal/observe"
	"github.com/MrWong99/introcoach/internal/resilience"
	"github.com/MrWong99/introcoach/internal/scoring"
	"github.com/MrWong99/introcoach/pkg/provider/llm"
	"github.com/MrWong99/introcoach/pkg/provider/stt"
	"github.com/MrWong99/introcoach/pkg/store"
	"github.com/MrWong99/introcoach/pkg/store/postgres"
	"github.com/MrWong99/introcoach/pkg/store/sqlite"
)

var (
	// ErrNoLLM is returned by operations that need the evaluation backend
	// when none is configured.
	ErrNoLLM = errors.New("app: no LLM provider configured")

	// ErrUnknownPersona is returned for a persona ID not in the catalog.
	ErrUnknownPersona = errors.New("app: unknown persona")
)

// NamedLLM is an LLM provider with the config name it was built from.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the provider instances built from the config registry.
// A nil LLM.Provider disables evaluation; a nil STT leaves takes without a
// live transcript.
type Providers struct {
	LLM NamedLLM

	// LLMFallbacks are tried in order when the primary keeps failing.
	LLMFallbacks []NamedLLM

	STT stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store    store.Store
	coach    *coach.Coach
	llm      llm.Provider
	personas *coach.Catalog
	sessions *SessionManager
	metrics  *observe.Metrics
	logLevel *slog.LevelVar
	clock    clockwork.Clock

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a take store instead of opening one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel sets the level variable that config reloads update.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithClock sets the clock for session timers.
func WithClock(c clockwork.Clock) Option {
	return func(a *App) { a.clock = c }
}

// New creates an App by wiring all subsystems together. The providers come
// from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.logLevel == nil {
		a.logLevel = new(slog.LevelVar)
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.initCoach()
	a.personas = coach.NewCatalog(cfg.Personas...)
	a.sessions = NewSessionManager(SessionManagerConfig{
		Store:   a.store,
		STT:     providers.STT,
		Session: cfg.Session,
		Metrics: a.metrics,
		Clock:   a.clock,
	})
	// Sessions close before the store.
	a.closers = append([]func() error{a.sessions.Close}, a.closers...)

	return a, nil
}

// initStore opens the configured take store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	s, err := OpenStore(ctx, a.cfg.Storage)
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	slog.Info("take store opened", "driver", a.cfg.Storage.Driver)
	return nil
}

// OpenStore opens the store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StorageMemory, "":
		return store.NewMemStore(), nil
	case config.StorageSQLite:
		return sqlite.Open(ctx, cfg.DSN)
	case config.StoragePostgres:
		return postgres.NewStore(ctx, cfg.DSN)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// initCoach builds the coach on the primary LLM, behind circuit-breaker
// failover when fallbacks are configured.
func (a *App) initCoach() {
	primary := a.providers.LLM
	if primary.Provider == nil {
		slog.Warn("no LLM provider; evaluation endpoints are disabled")
		return
	}
	a.llm = primary.Provider
	if len(a.providers.LLMFallbacks) > 0 {
		fb := resilience.NewLLMFallback(primary.Provider, primary.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				OnStateChange: func(name string, from, to resilience.State) {
					slog.Warn("LLM circuit breaker", "provider", name, "from", from.String(), "to", to.String())
				},
			},
		})
		for _, f := range a.providers.LLMFallbacks {
			fb.AddFallback(f.Name, f.Provider)
		}
		a.llm = fb
		slog.Info("LLM failover enabled", "primary", primary.Name, "fallbacks", len(a.providers.LLMFallbacks))
	}
	a.coach = coach.New(a.llm,
		coach.WithMetrics(a.metrics),
		coach.WithProviderName(primary.Name),
	)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the config the App was built with or last reloaded to.
func (a *App) Config() *config.Config { return a.cfg }

// Store returns the take store.
func (a *App) Store() store.Store { return a.store }

// Coach returns the coach, or nil when no LLM is configured.
func (a *App) Coach() *coach.Coach { return a.coach }

// Personas returns the persona catalog.
func (a *App) Personas() *coach.Catalog { return a.personas }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Metrics returns the metric instruments.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// STT returns the configured transcriber, or nil.
func (a *App) STT() stt.Provider { return a.providers.STT }

// LLMReady is a readiness check reporting whether evaluation is possible.
// With failover it fails only when every backend's breaker is open.
func (a *App) LLMReady(context.Context) error {
	if a.coach == nil {
		return ErrNoLLM
	}
	fb, ok := a.llm.(*resilience.LLMFallback)
	if !ok {
		return nil
	}
	for _, st := range fb.BreakerStates() {
		if st != resilience.StateOpen {
			return nil
		}
	}
	return errors.New("all LLM backends are failing")
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the live-reloadable parts of newCfg: the log level and
// the configured personas. Other changes are logged as needing a restart.
func (a *App) ApplyConfig(oldCfg, newCfg *config.Config) {
	d := config.Diff(oldCfg, newCfg)
	if d.LogLevelChanged {
		a.logLevel.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PersonasChanged {
		a.personas.Replace(newCfg.Personas)
		for _, c := range d.PersonaChanges {
			slog.Info("persona reloaded", "id", c.ID, "added", c.Added, "removed", c.Removed, "modified", c.Modified)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "settings", strings.Join(d.RestartRequired, ", "))
	}
	a.cfg = newCfg
}

// ParseLevel converts a config log level to a slog level.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Coaching operations ─────────────────────────────────────────────────────

// EvaluateInput selects what to evaluate and from which perspective.
type EvaluateInput struct {
	// TakeID, when set, stores the evaluation against the take. A blank
	// Transcript or nil Metrics are then taken from the stored take.
	TakeID     string
	Transcript string
	Metrics    *acoustic.Metrics

	// PersonaID picks a catalog persona. Persona supplies an ad-hoc custom
	// one instead; it wins when both are set.
	PersonaID string
	Persona   *coach.Persona
}

// Evaluate runs a persona evaluation and stores it when TakeID is set.
func (a *App) Evaluate(ctx context.Context, in EvaluateInput) (*coach.Evaluation, error) {
	if a.coach == nil {
		return nil, ErrNoLLM
	}
	persona, err := a.resolvePersona(in.PersonaID, in.Persona)
	if err != nil {
		return nil, err
	}

	transcript, metrics := in.Transcript, in.Metrics
	if in.TakeID != "" && (strings.TrimSpace(transcript) == "" || metrics == nil) {
		t, err := a.store.GetTake(ctx, in.TakeID)
		if err != nil {
			return nil, fmt.Errorf("app: evaluate: %w", err)
		}
		if strings.TrimSpace(transcript) == "" {
			transcript = t.Transcript
		}
		if metrics == nil {
			metrics = t.Metrics
		}
	}

	req := coach.EvaluateRequest{Key: in.TakeID, Transcript: transcript, Metrics: metrics, Persona: persona}
	ev, err := a.coach.Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	if in.TakeID != "" {
		rec := evaluationRecord(in.TakeID, ev)
		if err := a.store.SaveEvaluation(ctx, &rec); err != nil {
			return nil, fmt.Errorf("app: save evaluation: %w", err)
		}
	}
	return ev, nil
}

// AnalyzeTake runs the full analysis of a stored take and persists the
// voice analysis, evaluation and profile. The take ends up completed, or in
// the error status when the backend fails.
func (a *App) AnalyzeTake(ctx context.Context, takeID, personaID string) (_ *coach.Analysis, err error) {
	ctx, span := observe.StartSpan(ctx, "app.analyze_take", trace.WithAttributes(observe.TakeAttr(takeID)))
	defer func() { observe.EndSpan(span, err) }()

	if a.coach == nil {
		return nil, ErrNoLLM
	}
	persona, err := a.resolvePersona(personaID, nil)
	if err != nil {
		return nil, err
	}
	t, err := a.store.GetTake(ctx, takeID)
	if err != nil {
		return nil, fmt.Errorf("app: analyze: %w", err)
	}

	log := observe.Logger(ctx).With("take_id", takeID)
	res, err := a.coach.Analyze(ctx, coach.AnalyzeRequest{
		Key:        takeID,
		Transcript: t.Transcript,
		Metrics:    t.Metrics,
		Persona:    persona,
	})
	if err != nil {
		a.setStatus(ctx, t, store.StatusError)
		log.Warn("take analysis failed", "err", err)
		return nil, err
	}

	if t.Metrics != nil {
		va := store.VoiceAnalysis{
			TakeID:      takeID,
			Metrics:     *t.Metrics,
			VolumeLevel: t.Metrics.VolumeLevel(),
			RateLevel:   t.Metrics.RateLevel(),
			VoiceScore:  scoring.VoiceScore(*t.Metrics),
		}
		if res.Voice != nil {
			if va.Characteristics, err = json.Marshal(res.Voice); err != nil {
				return nil, fmt.Errorf("app: encode voice characteristics: %w", err)
			}
		}
		if err := a.store.SaveVoiceAnalysis(ctx, &va); err != nil {
			return nil, fmt.Errorf("app: save voice analysis: %w", err)
		}
		a.setStatus(ctx, t, store.StatusAnalyzed)
	}

	rec := evaluationRecord(takeID, res.Evaluation)
	if err := a.store.SaveEvaluation(ctx, &rec); err != nil {
		return nil, fmt.Errorf("app: save evaluation: %w", err)
	}
	prof := store.ProfileRecord{
		TakeID:         takeID,
		Text:           res.Profile.Text,
		CharacterCount: res.Profile.CharacterCount,
	}
	if err := a.store.SaveProfile(ctx, &prof); err != nil {
		return nil, fmt.Errorf("app: save profile: %w", err)
	}
	a.setStatus(ctx, t, store.StatusCompleted)

	log.Info("take analysed", "total", res.Evaluation.Scores.Total)
	return res, nil
}

// GenerateProfile writes a profile for a transcript and, when takeID is
// set, stores it.
func (a *App) GenerateProfile(ctx context.Context, takeID, transcript string) (*coach.Profile, error) {
	if a.coach == nil {
		return nil, ErrNoLLM
	}
	if takeID != "" && strings.TrimSpace(transcript) == "" {
		t, err := a.store.GetTake(ctx, takeID)
		if err != nil {
			return nil, fmt.Errorf("app: profile: %w", err)
		}
		transcript = t.Transcript
	}
	p, err := a.coach.GenerateProfile(ctx, transcript)
	if err != nil {
		return nil, err
	}
	if takeID != "" {
		rec := store.ProfileRecord{TakeID: takeID, Text: p.Text, CharacterCount: p.CharacterCount}
		if err := a.store.SaveProfile(ctx, &rec); err != nil {
			return nil, fmt.Errorf("app: save profile: %w", err)
		}
	}
	return p, nil
}

func (a *App) resolvePersona(id string, custom *coach.Persona) (*coach.Persona, error) {
	if custom != nil {
		p, err := coach.Custom(custom.Name, custom.Description, custom.Prompt)
		if err != nil {
			return nil, err
		}
		return &p, nil
	}
	if id == "" {
		return nil, nil
	}
	p, ok := a.personas.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPersona, id)
	}
	return &p, nil
}

func (a *App) setStatus(ctx context.Context, t *store.Take, st store.Status) {
	t.Status = st
	if err := a.store.UpdateTake(ctx, t); err != nil {
		slog.Warn("update take status", "take_id", t.ID, "status", st, "err", err)
	}
}

func evaluationRecord(takeID string, ev *coach.Evaluation) store.EvaluationRecord {
	return store.EvaluationRecord{
		TakeID:           takeID,
		PersonaID:        ev.PersonaID,
		Friendship:       ev.Scores.Friendship,
		WorkTogether:     ev.Scores.WorkTogether,
		Voice:            ev.Scores.Voice,
		Total:            ev.Scores.Total,
		FriendshipReason: ev.FriendshipReason,
		WorkReason:       ev.WorkReason,
		Suggestions:      ev.ImprovementSuggestions,
		Summary:          ev.Summary,
		ProcessingTime:   ev.ProcessingTime(),
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: the open session first, then the
// store. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
