// Package scoring fuses the qualitative scores returned by the evaluation
// backend with locally measured acoustic metrics into one total score.
//
// The total is always computed here. A total supplied by the backend is never
// used.
package scoring

import (
	"math"

	"github.com/MrWong99/introcoach/internal/acoustic"
)

// Result is the numeric part of an evaluation.
type Result struct {
	Friendship   int  `json:"friendshipScore"`
	WorkTogether int  `json:"workTogetherScore"`
	Voice        *int `json:"voiceScore,omitempty"`
	Total        int  `json:"totalScore"`
}

// VoiceScore blends the four acoustic metrics into a 0–100 composite.
// Clarity and stability weigh 0.3 each. Volume adequacy and speech-rate
// closeness weigh 0.2 each. The rate term is clamped to [1, 10].
func VoiceScore(m acoustic.Metrics) int {
	volumeTerm := float64(6-abs(m.Volume-3)) * 2
	rateTerm := clamp(10-math.Abs(float64(m.SpeechRate-acoustic.OptimalSpeechRate))/50, 1, 10)

	score := float64(m.Clarity)*10*0.3 +
		volumeTerm*10*0.2 +
		float64(m.Stability)*10*0.3 +
		rateTerm*10*0.2
	return int(math.Round(score))
}

// Total computes the composite score. Without a voice score the friendship
// and work-together scores weigh 0.4/0.6; with one they weigh 0.3/0.4 and the
// voice score 0.3.
func Total(friendship, workTogether int, voice *int) int {
	f, w := float64(friendship), float64(workTogether)
	if voice == nil {
		return int(math.Round(f*0.4 + w*0.6))
	}
	return int(math.Round(f*0.3 + w*0.4 + float64(*voice)*0.3))
}

// Fuse builds a Result from the backend's component scores and optional
// metrics. Component scores are clamped to 0–100 first.
func Fuse(friendship, workTogether int, m *acoustic.Metrics) Result {
	r := Result{
		Friendship:   clampInt(friendship, 0, 100),
		WorkTogether: clampInt(workTogether, 0, 100),
	}
	if m != nil {
		v := VoiceScore(*m)
		r.Voice = &v
	}
	r.Total = Total(r.Friendship, r.WorkTogether, r.Voice)
	return r
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
