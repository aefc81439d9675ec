package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/introcoach/internal/acoustic"
	"github.com/MrWong99/introcoach/internal/app"
	"github.com/MrWong99/introcoach/internal/coach"
	"github.com/MrWong99/introcoach/pkg/store"
)

// ─────────────────────────────────────────────────────────────────────────────
// list_takes
// ─────────────────────────────────────────────────────────────────────────────

type listTakesArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of takes to return, defaults to 50"`
}

type takeSummary struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Status          store.Status      `json:"status"`
	Transcript      string            `json:"transcript"`
	DurationSeconds float64           `json:"duration_seconds"`
	Metrics         *acoustic.Metrics `json:"metrics,omitempty"`
	CreatedAt       string            `json:"created_at"`
}

type listTakesResult struct {
	Takes []takeSummary `json:"takes"`
}

// ─────────────────────────────────────────────────────────────────────────────
// get_take
// ─────────────────────────────────────────────────────────────────────────────

type getTakeArgs struct {
	ID string `json:"id" jsonschema:"the take ID as returned by list_takes"`
}

type storedEvaluation struct {
	PersonaID   string   `json:"persona_id,omitempty"`
	Total       int      `json:"total"`
	Friendship  int      `json:"friendship"`
	Work        int      `json:"work_together"`
	Voice       *int     `json:"voice,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

type getTakeResult struct {
	Take        takeSummary        `json:"take"`
	VoiceScore  *int               `json:"voice_score,omitempty"`
	Evaluations []storedEvaluation `json:"evaluations"`
	Profiles    []string           `json:"profiles"`
}

// ─────────────────────────────────────────────────────────────────────────────
// evaluate_transcript / generate_profile
// ─────────────────────────────────────────────────────────────────────────────

type evaluateArgs struct {
	Transcript string `json:"transcript" jsonschema:"the self-introduction text"`
	PersonaID  string `json:"persona_id,omitempty" jsonschema:"evaluator persona, e.g. team-member or job-interviewer"`
}

type evaluationResult struct {
	PersonaID        string   `json:"persona_id,omitempty"`
	Total            int      `json:"total"`
	Friendship       int      `json:"friendship"`
	WorkTogether     int      `json:"work_together"`
	Voice            *int     `json:"voice,omitempty"`
	FriendshipReason string   `json:"friendship_reason"`
	WorkReason       string   `json:"work_reason"`
	Suggestions      []string `json:"suggestions,omitempty"`
	Summary          string   `json:"summary,omitempty"`
}

type profileArgs struct {
	Transcript string `json:"transcript" jsonschema:"the self-introduction text"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Registration
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "list_takes",
		Description: "List recorded self-introduction takes, newest first.",
	}, instrument(s, "list_takes", s.listTakes))

	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "get_take",
		Description: "Get one take with its voice analysis, evaluations and generated profiles.",
	}, instrument(s, "get_take", s.getTake))

	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "evaluate_transcript",
		Description: "Score a self-introduction for friendship and working-together potential from a persona's perspective.",
	}, instrument(s, "evaluate_transcript", s.evaluate))

	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "generate_profile",
		Description: "Write a social-media profile of at most 160 characters from a self-introduction.",
	}, instrument(s, "generate_profile", s.generateProfile))
}

func (s *Server) listTakes(ctx context.Context, _ *mcpsdk.CallToolRequest, args listTakesArgs) (*mcpsdk.CallToolResult, listTakesResult, error) {
	takes, err := s.app.Store().ListTakes(ctx, args.Limit)
	if err != nil {
		return nil, listTakesResult{}, fmt.Errorf("list takes: %w", err)
	}
	out := listTakesResult{Takes: make([]takeSummary, 0, len(takes))}
	for i := range takes {
		out.Takes = append(out.Takes, summarize(&takes[i]))
	}
	return nil, out, nil
}

func (s *Server) getTake(ctx context.Context, _ *mcpsdk.CallToolRequest, args getTakeArgs) (*mcpsdk.CallToolResult, getTakeResult, error) {
	if args.ID == "" {
		return nil, getTakeResult{}, errors.New("id is required")
	}
	t, err := s.app.Store().GetTake(ctx, args.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, getTakeResult{}, fmt.Errorf("take %q not found", args.ID)
		}
		return nil, getTakeResult{}, fmt.Errorf("get take: %w", err)
	}
	a, err := s.app.Store().GetAnalysis(ctx, args.ID)
	if err != nil {
		return nil, getTakeResult{}, fmt.Errorf("get analysis: %w", err)
	}

	out := getTakeResult{
		Take:        summarize(t),
		Evaluations: make([]storedEvaluation, 0, len(a.Evaluations)),
		Profiles:    make([]string, 0, len(a.Profiles)),
	}
	if a.Voice != nil {
		out.VoiceScore = &a.Voice.VoiceScore
	}
	for _, ev := range a.Evaluations {
		out.Evaluations = append(out.Evaluations, storedEvaluation{
			PersonaID:   ev.PersonaID,
			Total:       ev.Total,
			Friendship:  ev.Friendship,
			Work:        ev.WorkTogether,
			Voice:       ev.Voice,
			Summary:     ev.Summary,
			Suggestions: ev.Suggestions,
		})
	}
	for _, p := range a.Profiles {
		out.Profiles = append(out.Profiles, p.Text)
	}
	return nil, out, nil
}

func (s *Server) evaluate(ctx context.Context, _ *mcpsdk.CallToolRequest, args evaluateArgs) (*mcpsdk.CallToolResult, evaluationResult, error) {
	ev, err := s.app.Evaluate(ctx, app.EvaluateInput{Transcript: args.Transcript, PersonaID: args.PersonaID})
	if err != nil {
		return nil, evaluationResult{}, err
	}
	return nil, evaluationResult{
		PersonaID:        ev.PersonaID,
		Total:            ev.Scores.Total,
		Friendship:       ev.Scores.Friendship,
		WorkTogether:     ev.Scores.WorkTogether,
		Voice:            ev.Scores.Voice,
		FriendshipReason: ev.FriendshipReason,
		WorkReason:       ev.WorkReason,
		Suggestions:      ev.ImprovementSuggestions,
		Summary:          ev.Summary,
	}, nil
}

func (s *Server) generateProfile(ctx context.Context, _ *mcpsdk.CallToolRequest, args profileArgs) (*mcpsdk.CallToolResult, coach.Profile, error) {
	p, err := s.app.GenerateProfile(ctx, "", args.Transcript)
	if err != nil {
		return nil, coach.Profile{}, err
	}
	return nil, *p, nil
}

func summarize(t *store.Take) takeSummary {
	return takeSummary{
		ID:              t.ID,
		Title:           t.Title,
		Status:          t.Status,
		Transcript:      t.Transcript,
		DurationSeconds: t.Duration.Seconds(),
		Metrics:         t.Metrics,
		CreatedAt:       t.CreatedAt.Format(time.RFC3339),
	}
}
