// Package coach turns a self-introduction transcript into feedback using a
// language model: a two-axis evaluation fused with the acoustic metrics, a
// description of the speaker's voice, and a short social-media profile.
//
// Every backend response is JSON (except the profile, which is plain text).
// Responses are stripped of markdown fences before parsing. A response that
// cannot be interpreted surfaces as a [*ParseError] carrying the raw text; a
// failed backend call surfaces as a [*RequestError]. The evaluation total is
// always recomputed locally with [scoring.Fuse].
package coach

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/introcoach/internal/acoustic"
	"github.com/MrWong99/introcoach/internal/observe"
	"github.com/MrWong99/introcoach/internal/scoring"
	"github.com/MrWong99/introcoach/pkg/provider/llm"
)

// ProfileMaxChars is the longest profile text, in characters.
const ProfileMaxChars = 160

const (
	defaultTemperature        = 0.4
	defaultProfileTemperature = 0.9

	evaluationMaxTokens = 1024
	voiceMaxTokens      = 512
	profileMaxTokens    = 256
)

// Operation names used in errors, spans and metrics.
const (
	OpEvaluate = "evaluate"
	OpVoice    = "voice_characteristics"
	OpProfile  = "profile"
)

// Pitch is the normalised pitch label of a voice.
type Pitch string

const (
	PitchHigh   Pitch = "high"
	PitchNormal Pitch = "normal"
	PitchLow    Pitch = "low"
)

// Evaluation is the outcome of [Coach.Evaluate].
type Evaluation struct {
	Scores                 scoring.Result `json:"scores"`
	FriendshipReason       string         `json:"friendshipReason"`
	WorkReason             string         `json:"workReason"`
	ImprovementSuggestions []string       `json:"improvementSuggestions"`
	Summary                string         `json:"summary,omitempty"`
	PersonaID              string         `json:"personaId,omitempty"`
	ProcessingTimeMs       int64          `json:"processingTimeMs"`
}

// ProcessingTime returns how long the backend call took.
func (e *Evaluation) ProcessingTime() time.Duration {
	return time.Duration(e.ProcessingTimeMs) * time.Millisecond
}

// VoiceCharacteristics is the qualitative description of a voice.
type VoiceCharacteristics struct {
	Pitch                Pitch  `json:"pitch"`
	Impression           string `json:"impression"`
	CharacterDescription string `json:"characterDescription"`
	SimilarCelebrity     string `json:"similarCelebrity,omitempty"`
	OverallComment       string `json:"overallComment"`
}

// Profile is a generated social-media profile.
type Profile struct {
	Text           string `json:"profile"`
	CharacterCount int    `json:"character_count"`
}

// EvaluateRequest is the input of [Coach.Evaluate].
type EvaluateRequest struct {
	// Key deduplicates concurrent evaluations of the same take. Calls only
	// share a backend request when the persona, transcript and metrics match
	// too. Empty disables deduplication.
	Key        string
	Transcript string

	// Metrics, when set, are shown to the model and fused into the total.
	Metrics *acoustic.Metrics

	// Persona is the evaluator perspective. Nil uses a neutral evaluator.
	Persona *Persona
}

// AnalyzeRequest is the input of [Coach.Analyze].
type AnalyzeRequest = EvaluateRequest

// Analysis bundles the three results for a finished take.
type Analysis struct {
	Evaluation *Evaluation           `json:"evaluation"`
	Voice      *VoiceCharacteristics `json:"voiceCharacteristics,omitempty"`
	Profile    *Profile              `json:"profile"`
}

// Option configures a [Coach].
type Option func(*Coach)

// WithTemperature sets the sampling temperature for evaluation and voice
// analysis.
func WithTemperature(t float64) Option {
	return func(c *Coach) { c.temperature = t }
}

// WithMetrics records backend latency and request counts.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coach) { c.metrics = m }
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) Option {
	return func(c *Coach) { c.providerName = name }
}

// Coach calls the evaluation backend. It is safe for concurrent use.
type Coach struct {
	llm          llm.Provider
	temperature  float64
	metrics      *observe.Metrics
	providerName string

	inflight singleflight.Group
}

// New returns a Coach backed by provider.
func New(provider llm.Provider, opts ...Option) *Coach {
	c := &Coach{
		llm:          provider,
		temperature:  defaultTemperature,
		providerName: "llm",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Evaluate scores a transcript from the persona's perspective. Concurrent
// identical calls with the same non-empty Key share one backend request.
func (c *Coach) Evaluate(ctx context.Context, req EvaluateRequest) (*Evaluation, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return nil, ErrEmptyTranscript
	}
	if req.Persona != nil {
		if err := req.Persona.Validate(); err != nil {
			return nil, err
		}
	}
	if req.Key == "" {
		return c.evaluate(ctx, req)
	}

	key := inflightKey(req)
	v, err, shared := c.inflight.Do(key, func() (any, error) {
		return c.evaluate(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		observe.Logger(ctx).Debug("coach: shared in-flight evaluation", "key", key)
	}
	// Each caller gets its own copy.
	ev := *v.(*Evaluation)
	ev.ImprovementSuggestions = append([]string(nil), ev.ImprovementSuggestions...)
	return &ev, nil
}

// inflightKey scopes req.Key to everything that shapes the prompt.
func inflightKey(req EvaluateRequest) string {
	h := sha256.New()
	io.WriteString(h, strings.TrimSpace(req.Transcript))
	if req.Metrics != nil {
		fmt.Fprintf(h, "\x00%+v", *req.Metrics)
	}
	persona := ""
	if p := req.Persona; p != nil {
		persona = p.ID
		fmt.Fprintf(h, "\x00%s\x00%s\x00%s", p.Name, p.Description, p.Prompt)
	}
	return req.Key + "/" + persona + "/" + hex.EncodeToString(h.Sum(nil)[:12])
}

func (c *Coach) evaluate(ctx context.Context, req EvaluateRequest) (*Evaluation, error) {
	start := time.Now()
	content, err := c.complete(ctx, OpEvaluate, llm.CompletionRequest{
		SystemPrompt: evaluationSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildEvaluationPrompt(strings.TrimSpace(req.Transcript), req.Metrics, req.Persona)},
		},
		Temperature: c.temperature,
		MaxTokens:   evaluationMaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	r, err := parseEvaluation(content)
	if err != nil {
		return nil, c.parseFailed(ctx, OpEvaluate, content, err)
	}

	ev := &Evaluation{
		Scores:                 scoring.Fuse(roundScore(*r.Scores.Friendship), roundScore(*r.Scores.WorkTogether), req.Metrics),
		FriendshipReason:       strings.TrimSpace(r.Feedback.FriendshipReason),
		WorkReason:             strings.TrimSpace(r.Feedback.WorkReason),
		ImprovementSuggestions: r.Feedback.ImprovementSuggestions,
		Summary:                strings.TrimSpace(r.Summary),
		ProcessingTimeMs:       time.Since(start).Milliseconds(),
	}
	if req.Persona != nil {
		ev.PersonaID = req.Persona.ID
	}
	return ev, nil
}

// VoiceCharacteristics describes the speaker's voice from the metrics and
// what was said.
func (c *Coach) VoiceCharacteristics(ctx context.Context, m *acoustic.Metrics, transcript string) (*VoiceCharacteristics, error) {
	transcript = strings.TrimSpace(transcript)
	if m == nil || transcript == "" {
		return nil, ErrMissingInput
	}
	content, err := c.complete(ctx, OpVoice, llm.CompletionRequest{
		SystemPrompt: voiceSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: buildVoicePrompt(transcript, *m)}},
		Temperature:  c.temperature,
		MaxTokens:    voiceMaxTokens,
		JSONMode:     true,
	})
	if err != nil {
		return nil, err
	}
	vc, err := parseVoice(content)
	if err != nil {
		return nil, c.parseFailed(ctx, OpVoice, content, err)
	}
	return vc, nil
}

// GenerateProfile writes a profile of at most [ProfileMaxChars] characters.
// Longer backend output is cut to 157 characters followed by "...".
func (c *Coach) GenerateProfile(ctx context.Context, transcript string) (*Profile, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}
	content, err := c.complete(ctx, OpProfile, llm.CompletionRequest{
		SystemPrompt: profileSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: buildProfilePrompt(transcript)}},
		Temperature:  defaultProfileTemperature,
		MaxTokens:    profileMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	text := truncateProfile(content)
	if text == "" {
		return nil, c.parseFailed(ctx, OpProfile, content, errors.New("empty profile"))
	}
	return &Profile{Text: text, CharacterCount: utf8.RuneCountInString(text)}, nil
}

// Analyze runs Evaluate, VoiceCharacteristics and GenerateProfile
// concurrently. Voice analysis is skipped when req.Metrics is nil. The first
// failure cancels the others and is returned.
func (c *Coach) Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return nil, ErrEmptyTranscript
	}

	var out Analysis
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ev, err := c.Evaluate(gctx, req)
		out.Evaluation = ev
		return err
	})
	if req.Metrics != nil {
		g.Go(func() error {
			vc, err := c.VoiceCharacteristics(gctx, req.Metrics, req.Transcript)
			out.Voice = vc
			return err
		})
	}
	g.Go(func() error {
		p, err := c.GenerateProfile(gctx, req.Transcript)
		out.Profile = p
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// complete performs one traced and measured backend call.
func (c *Coach) complete(ctx context.Context, op string, req llm.CompletionRequest) (string, error) {
	ctx, span := observe.StartSpan(ctx, "coach."+op)
	span.SetAttributes(attribute.String("coach.provider", c.providerName))

	start := time.Now()
	resp, err := c.llm.Complete(ctx, req)
	elapsed := time.Since(start)

	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordCoachCall(ctx, op, status, elapsed)
		c.metrics.RecordProviderRequest(ctx, c.providerName, "llm", status)
		if err != nil {
			c.metrics.RecordProviderError(ctx, c.providerName, "llm")
		}
	}

	observe.EndSpan(span, err)
	if err != nil {
		observe.Logger(ctx).Warn("coach: backend request failed", "op", op, "err", err, "duration", elapsed)
		return "", &RequestError{Op: op, Err: err}
	}
	observe.Logger(ctx).Debug("coach: backend responded", "op", op, "duration", elapsed,
		"prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	return resp.Content, nil
}

func (c *Coach) parseFailed(ctx context.Context, op, raw string, err error) error {
	observe.Logger(ctx).Error("coach: unparseable backend response", "op", op, "err", err, "raw", raw)
	return &ParseError{Op: op, Raw: raw, Err: err}
}
