package coach_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/introcoach/internal/acoustic"
	"github.com/MrWong99/introcoach/internal/coach"
	"github.com/MrWong99/introcoach/internal/scoring"
	"github.com/MrWong99/introcoach/pkg/provider/llm"
	llmmock "github.com/MrWong99/introcoach/pkg/provider/llm/mock"
)

const evaluationJSON = "```json\n" + `{
  "scores": {"friendship_score": 85, "work_together_score": 78, "total_score": 999},
  "feedback": {
    "friendship_reason": "趣味の話が親しみやすい",
    "work_reason": "経験が具体的",
    "improvement_suggestions": ["結論から話す", "数字を入れる", "最後に一言", "余分な提案"]
  },
  "summary": "良い自己紹介です"
}` + "\n```"

func respond(content string) *llmmock.Provider {
	return &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	t.Run("recomputes total and trims suggestions", func(t *testing.T) {
		t.Parallel()
		p := respond(evaluationJSON)
		ev, err := coach.New(p).Evaluate(context.Background(), coach.EvaluateRequest{Transcript: "はじめまして"})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if ev.Scores.Friendship != 85 || ev.Scores.WorkTogether != 78 {
			t.Errorf("scores = %+v", ev.Scores)
		}
		if ev.Scores.Total != 81 {
			t.Errorf("Total = %d, want 81 (backend total ignored)", ev.Scores.Total)
		}
		if ev.Scores.Voice != nil {
			t.Errorf("Voice = %d without metrics, want nil", *ev.Scores.Voice)
		}
		if len(ev.ImprovementSuggestions) != 3 || ev.ImprovementSuggestions[2] != "最後に一言" {
			t.Errorf("suggestions = %q", ev.ImprovementSuggestions)
		}
		if ev.Summary != "良い自己紹介です" || ev.FriendshipReason == "" || ev.WorkReason == "" {
			t.Errorf("feedback = %+v", ev)
		}

		req, _ := p.LastRequest()
		if !req.JSONMode {
			t.Error("JSONMode not requested")
		}
		if !strings.Contains(req.Messages[0].Content, "はじめまして") {
			t.Errorf("prompt does not contain transcript: %q", req.Messages[0].Content)
		}
	})

	t.Run("fuses metrics into total", func(t *testing.T) {
		t.Parallel()
		m := &acoustic.Metrics{Clarity: 8, Volume: 3, SpeechRate: 350, Stability: 7}
		p := respond(evaluationJSON)
		ev, err := coach.New(p).Evaluate(context.Background(), coach.EvaluateRequest{Transcript: "x", Metrics: m})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		want := scoring.Fuse(85, 78, m)
		if ev.Scores.Total != want.Total || ev.Scores.Voice == nil || *ev.Scores.Voice != *want.Voice {
			t.Errorf("scores = %+v, want %+v", ev.Scores, want)
		}
		req, _ := p.LastRequest()
		if !strings.Contains(req.Messages[0].Content, "350文字/分") {
			t.Errorf("prompt does not contain metrics: %q", req.Messages[0].Content)
		}
	})

	t.Run("clamps scores", func(t *testing.T) {
		t.Parallel()
		p := respond(`{"scores":{"friendship_score":120.4,"work_together_score":-5},"feedback":{"improvement_suggestions":["a"]}}`)
		ev, err := coach.New(p).Evaluate(context.Background(), coach.EvaluateRequest{Transcript: "x"})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if ev.Scores.Friendship != 100 || ev.Scores.WorkTogether != 0 || ev.Scores.Total != 40 {
			t.Errorf("scores = %+v", ev.Scores)
		}
		if len(ev.ImprovementSuggestions) != 1 {
			t.Errorf("suggestions = %q, want the single one returned", ev.ImprovementSuggestions)
		}
	})

	t.Run("persona is passed into the prompt", func(t *testing.T) {
		t.Parallel()
		persona, _ := coach.NewCatalog().Get("job-interviewer")
		p := respond(evaluationJSON)
		ev, err := coach.New(p).Evaluate(context.Background(), coach.EvaluateRequest{Transcript: "x", Persona: &persona})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if ev.PersonaID != "job-interviewer" {
			t.Errorf("PersonaID = %q", ev.PersonaID)
		}
		req, _ := p.LastRequest()
		if !strings.Contains(req.Messages[0].Content, persona.Name) || !strings.Contains(req.Messages[0].Content, persona.Prompt) {
			t.Errorf("prompt missing persona: %q", req.Messages[0].Content)
		}
	})
}

func TestEvaluate_Errors(t *testing.T) {
	t.Parallel()
	backendErr := errors.New("503 unavailable")

	tests := []struct {
		name      string
		provider  *llmmock.Provider
		req       coach.EvaluateRequest
		wantIs    error
		wantParse bool
		wantReq   bool
	}{
		{name: "empty transcript", provider: respond(evaluationJSON), req: coach.EvaluateRequest{Transcript: "  \n"}, wantIs: coach.ErrEmptyTranscript},
		{name: "invalid persona", provider: respond(evaluationJSON), req: coach.EvaluateRequest{Transcript: "x", Persona: &coach.Persona{Name: "only a name"}}, wantIs: coach.ErrInvalidPersona},
		{name: "backend failure", provider: &llmmock.Provider{CompleteErr: backendErr}, req: coach.EvaluateRequest{Transcript: "x"}, wantIs: backendErr, wantReq: true},
		{name: "nil response", provider: &llmmock.Provider{}, req: coach.EvaluateRequest{Transcript: "x"}, wantReq: true},
		{name: "not json", provider: respond("申し訳ありませんが評価できません"), req: coach.EvaluateRequest{Transcript: "x"}, wantParse: true},
		{name: "missing scores", provider: respond(`{"feedback":{}}`), req: coach.EvaluateRequest{Transcript: "x"}, wantParse: true},
		{name: "score not a number", provider: respond(`{"scores":{"friendship_score":"高い","work_together_score":50}}`), req: coach.EvaluateRequest{Transcript: "x"}, wantParse: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := coach.New(tt.provider).Evaluate(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("err = %v, want %v", err, tt.wantIs)
			}
			var pe *coach.ParseError
			if got := errors.As(err, &pe); got != tt.wantParse {
				t.Errorf("ParseError = %v, want %v (err %v)", got, tt.wantParse, err)
			}
			if pe != nil && pe.Raw == "" {
				t.Error("ParseError.Raw is empty")
			}
			var re *coach.RequestError
			if got := errors.As(err, &re); got != tt.wantReq {
				t.Errorf("RequestError = %v, want %v (err %v)", got, tt.wantReq, err)
			}
		})
	}
}

func TestEvaluate_SharesInflightRequest(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	p := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &llm.CompletionResponse{Content: evaluationJSON}, nil
		},
	}
	c := coach.New(p)

	const callers = 4
	var wg sync.WaitGroup
	results := make([]*coach.Evaluation, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, err := c.Evaluate(context.Background(), coach.EvaluateRequest{Key: "take-1", Transcript: "x"})
			if err != nil {
				t.Errorf("Evaluate: %v", err)
			}
			results[i] = ev
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.CallCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := p.CallCount(); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}
	for i, ev := range results {
		if ev == nil || ev.Scores.Total != 81 {
			t.Errorf("caller %d got %+v", i, ev)
		}
	}
	if results[0] == results[1] {
		t.Error("callers share the same *Evaluation")
	}
}

func TestEvaluate_InflightScopedToPersonaAndTranscript(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	p := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &llm.CompletionResponse{Content: evaluationJSON}, nil
		},
	}
	c := coach.New(p)

	preset := func(id string) *coach.Persona {
		for _, ps := range coach.Presets() {
			if ps.ID == id {
				return &ps
			}
		}
		t.Fatalf("no preset %q", id)
		return nil
	}
	reqs := []coach.EvaluateRequest{
		{Key: "take-1", Transcript: "はじめまして", Persona: preset("team-member")},
		{Key: "take-1", Transcript: "はじめまして", Persona: preset("company-event")},
		{Key: "take-1", Transcript: "はじめまして、田中です", Persona: preset("team-member")},
	}

	var wg sync.WaitGroup
	results := make([]*coach.Evaluation, len(reqs))
	for i, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, err := c.Analyze(context.Background(), req)
			if err != nil {
				t.Errorf("Analyze %d: %v", i, err)
				return
			}
			results[i] = ev.Evaluation
		}()
	}
	// Three evaluations plus three profiles must all reach the backend.
	deadline := time.Now().Add(2 * time.Second)
	for p.CallCount() < 2*len(reqs) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if n := p.CallCount(); n != 2*len(reqs) {
		t.Errorf("backend calls = %d, want %d", n, 2*len(reqs))
	}
	for i, ev := range results {
		if ev == nil || ev.PersonaID != reqs[i].Persona.ID {
			t.Errorf("request %d (%s) got %+v", i, reqs[i].Persona.ID, ev)
		}
	}
}

func TestVoiceCharacteristics(t *testing.T) {
	t.Parallel()
	m := &acoustic.Metrics{Clarity: 7, Volume: 3, SpeechRate: 320, Stability: 8}

	t.Run("normalises pitch", func(t *testing.T) {
		t.Parallel()
		p := respond(`{"pitch":"高め","impression":"アナウンサーっぽい","characterDescription":"明るい声","similarCelebrity":"","overallComment":"聞き取りやすい"}`)
		vc, err := coach.New(p).VoiceCharacteristics(context.Background(), m, "こんにちは")
		if err != nil {
			t.Fatalf("VoiceCharacteristics: %v", err)
		}
		if vc.Pitch != coach.PitchHigh || vc.Impression != "アナウンサーっぽい" {
			t.Errorf("got %+v", vc)
		}
		req, _ := p.LastRequest()
		if !strings.Contains(req.Messages[0].Content, "7/10点") {
			t.Errorf("prompt missing clarity: %q", req.Messages[0].Content)
		}
	})

	t.Run("unknown pitch", func(t *testing.T) {
		t.Parallel()
		p := respond(`{"pitch":"ultrasonic"}`)
		_, err := coach.New(p).VoiceCharacteristics(context.Background(), m, "x")
		var pe *coach.ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("err = %v, want ParseError", err)
		}
	})

	t.Run("missing input", func(t *testing.T) {
		t.Parallel()
		p := respond("{}")
		c := coach.New(p)
		if _, err := c.VoiceCharacteristics(context.Background(), nil, "x"); !errors.Is(err, coach.ErrMissingInput) {
			t.Errorf("nil metrics: %v", err)
		}
		if _, err := c.VoiceCharacteristics(context.Background(), m, " "); !errors.Is(err, coach.ErrMissingInput) {
			t.Errorf("blank transcript: %v", err)
		}
		if p.CallCount() != 0 {
			t.Errorf("backend called %d times", p.CallCount())
		}
	})
}

func TestParsePitch(t *testing.T) {
	t.Parallel()
	tests := map[string]coach.Pitch{
		"high": coach.PitchHigh, "高め": coach.PitchHigh, " Higher ": coach.PitchHigh,
		"普通": coach.PitchNormal, "medium": coach.PitchNormal, "normal": coach.PitchNormal,
		"低め": coach.PitchLow, "LOW": coach.PitchLow,
	}
	for in, want := range tests {
		got, err := coach.ParsePitch(in)
		if err != nil || got != want {
			t.Errorf("ParsePitch(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := coach.ParsePitch(""); err == nil {
		t.Error("ParsePitch(\"\") succeeded")
	}
}

func TestGenerateProfile(t *testing.T) {
	t.Parallel()

	t.Run("truncates to 157 plus ellipsis", func(t *testing.T) {
		t.Parallel()
		long := strings.Repeat("あ", 200)
		prof, err := coach.New(respond("  "+long+"\n")).GenerateProfile(context.Background(), "x")
		if err != nil {
			t.Fatalf("GenerateProfile: %v", err)
		}
		if prof.CharacterCount != 160 || utf8.RuneCountInString(prof.Text) != 160 {
			t.Errorf("count = %d, runes = %d", prof.CharacterCount, utf8.RuneCountInString(prof.Text))
		}
		if !strings.HasSuffix(prof.Text, "...") || !strings.HasPrefix(prof.Text, strings.Repeat("あ", 157)) {
			t.Errorf("Text = %q", prof.Text)
		}
	})

	t.Run("keeps short text", func(t *testing.T) {
		t.Parallel()
		prof, err := coach.New(respond("\"Goエンジニア 🐹 | 分散システム好き\"")).GenerateProfile(context.Background(), "x")
		if err != nil {
			t.Fatalf("GenerateProfile: %v", err)
		}
		if prof.Text != "Goエンジニア 🐹 | 分散システム好き" {
			t.Errorf("Text = %q", prof.Text)
		}
		if prof.CharacterCount != utf8.RuneCountInString(prof.Text) {
			t.Errorf("CharacterCount = %d", prof.CharacterCount)
		}
	})

	t.Run("exactly 160 is kept", func(t *testing.T) {
		t.Parallel()
		text := strings.Repeat("b", 160)
		prof, err := coach.New(respond(text)).GenerateProfile(context.Background(), "x")
		if err != nil {
			t.Fatalf("GenerateProfile: %v", err)
		}
		if prof.Text != text {
			t.Errorf("Text changed: %q", prof.Text)
		}
	})

	t.Run("empty transcript", func(t *testing.T) {
		t.Parallel()
		if _, err := coach.New(respond("x")).GenerateProfile(context.Background(), ""); !errors.Is(err, coach.ErrEmptyTranscript) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestAnalyze(t *testing.T) {
	t.Parallel()
	m := &acoustic.Metrics{Clarity: 7, Volume: 3, SpeechRate: 320, Stability: 8}

	route := func(voiceErr error) *llmmock.Provider {
		return &llmmock.Provider{
			CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
				switch {
				case strings.Contains(req.SystemPrompt, "friendship_score"):
					return &llm.CompletionResponse{Content: evaluationJSON}, nil
				case strings.Contains(req.SystemPrompt, "pitch"):
					if voiceErr != nil {
						return nil, voiceErr
					}
					return &llm.CompletionResponse{Content: `{"pitch":"普通","impression":"落ち着いている","characterDescription":"穏やか","overallComment":"良い"}`}, nil
				default:
					return &llm.CompletionResponse{Content: "Goが好きなエンジニアです"}, nil
				}
			},
		}
	}

	t.Run("all three", func(t *testing.T) {
		t.Parallel()
		p := route(nil)
		a, err := coach.New(p).Analyze(context.Background(), coach.AnalyzeRequest{Transcript: "x", Metrics: m})
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		if a.Evaluation == nil || a.Voice == nil || a.Profile == nil {
			t.Fatalf("incomplete analysis: %+v", a)
		}
		if a.Voice.Pitch != coach.PitchNormal || a.Profile.Text != "Goが好きなエンジニアです" {
			t.Errorf("analysis = %+v %+v", a.Voice, a.Profile)
		}
		if p.CallCount() != 3 {
			t.Errorf("calls = %d, want 3", p.CallCount())
		}
	})

	t.Run("without metrics skips voice", func(t *testing.T) {
		t.Parallel()
		p := route(nil)
		a, err := coach.New(p).Analyze(context.Background(), coach.AnalyzeRequest{Transcript: "x"})
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		if a.Voice != nil || p.CallCount() != 2 {
			t.Errorf("voice = %+v, calls = %d", a.Voice, p.CallCount())
		}
	})

	t.Run("one failure fails the analysis", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("quota exceeded")
		_, err := coach.New(route(boom)).Analyze(context.Background(), coach.AnalyzeRequest{Transcript: "x", Metrics: m})
		var re *coach.RequestError
		if !errors.As(err, &re) || re.Op != coach.OpVoice || !errors.Is(err, boom) {
			t.Errorf("err = %v", err)
		}
	})
}
