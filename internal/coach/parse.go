package coach

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// maxSuggestions is the number of improvement suggestions kept.
const maxSuggestions = 3

type evaluationResponse struct {
	Scores *struct {
		Friendship   *float64 `json:"friendship_score"`
		WorkTogether *float64 `json:"work_together_score"`
		// A backend total is read but never used.
		Total *float64 `json:"total_score"`
	} `json:"scores"`
	Feedback struct {
		FriendshipReason       string   `json:"friendship_reason"`
		WorkReason             string   `json:"work_reason"`
		ImprovementSuggestions []string `json:"improvement_suggestions"`
	} `json:"feedback"`
	Summary string `json:"summary"`
}

type voiceResponse struct {
	Pitch                string `json:"pitch"`
	Impression           string `json:"impression"`
	CharacterDescription string `json:"characterDescription"`
	SimilarCelebrity     string `json:"similarCelebrity"`
	OverallComment       string `json:"overallComment"`
}

func parseEvaluation(content string) (*evaluationResponse, error) {
	var r evaluationResponse
	if err := json.Unmarshal([]byte(stripMarkdown(content)), &r); err != nil {
		return nil, err
	}
	if r.Scores == nil || r.Scores.Friendship == nil || r.Scores.WorkTogether == nil {
		return nil, errors.New("missing friendship_score or work_together_score")
	}
	suggestions := r.Feedback.ImprovementSuggestions[:0]
	for _, s := range r.Feedback.ImprovementSuggestions {
		if s = strings.TrimSpace(s); s != "" {
			suggestions = append(suggestions, s)
		}
	}
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	r.Feedback.ImprovementSuggestions = suggestions
	return &r, nil
}

func parseVoice(content string) (*VoiceCharacteristics, error) {
	var r voiceResponse
	if err := json.Unmarshal([]byte(stripMarkdown(content)), &r); err != nil {
		return nil, err
	}
	pitch, err := ParsePitch(r.Pitch)
	if err != nil {
		return nil, err
	}
	return &VoiceCharacteristics{
		Pitch:                pitch,
		Impression:           strings.TrimSpace(r.Impression),
		CharacterDescription: strings.TrimSpace(r.CharacterDescription),
		SimilarCelebrity:     strings.TrimSpace(r.SimilarCelebrity),
		OverallComment:       strings.TrimSpace(r.OverallComment),
	}, nil
}

// ParsePitch normalises a pitch label. It accepts the canonical values, the
// Japanese labels 高め/普通/低め and common English synonyms.
func ParsePitch(s string) (Pitch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "higher", "高め", "高い", "高":
		return PitchHigh, nil
	case "normal", "medium", "average", "mid", "普通", "標準", "中":
		return PitchNormal, nil
	case "low", "lower", "低め", "低い", "低":
		return PitchLow, nil
	}
	return "", fmt.Errorf("unknown pitch %q", s)
}

// truncateProfile trims text and cuts it to [ProfileMaxChars] characters,
// ending in "..." when it was longer.
func truncateProfile(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "\"「」")
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= ProfileMaxChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:ProfileMaxChars-3]) + "..."
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models wrap JSON output in.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```JSON", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

func roundScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	// Keep the value inside int range; scoring.Fuse clamps to 0–100.
	return int(math.Round(math.Max(-1000, math.Min(1000, v))))
}
