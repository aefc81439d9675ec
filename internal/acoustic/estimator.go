package acoustic

import (
	"math"
	"time"
)

const (
	// MinDuration is the floor applied to a take's duration before computing
	// speech rate (0.1 minutes).
	MinDuration = 6 * time.Second

	// OptimalSpeechRate is the reference rate in characters per minute.
	OptimalSpeechRate = 350

	// DefaultStability is reported when the history holds too few samples to
	// judge variance.
	DefaultStability = 8

	minStabilitySamples = 10
)

// VolumeLevel classifies [Metrics.Volume].
type VolumeLevel string

const (
	VolumeTooLow      VolumeLevel = "too_low"
	VolumeAppropriate VolumeLevel = "appropriate"
	VolumeTooHigh     VolumeLevel = "too_high"
)

// RateLevel classifies [Metrics.SpeechRate].
type RateLevel string

const (
	RateTooSlow     RateLevel = "too_slow"
	RateAppropriate RateLevel = "appropriate"
	RateTooFast     RateLevel = "too_fast"
)

// Metrics are the four acoustic features of a finished take. Values are
// immutable once computed.
type Metrics struct {
	Clarity    int `json:"clarity"`    // 1–10
	Volume     int `json:"volume"`     // 1–5, 3 is adequate
	SpeechRate int `json:"speechRate"` // characters per minute
	Stability  int `json:"stability"`  // 1–10
}

// VolumeLevel returns the label for m.Volume.
func (m Metrics) VolumeLevel() VolumeLevel {
	switch {
	case m.Volume < 3:
		return VolumeTooLow
	case m.Volume > 3:
		return VolumeTooHigh
	}
	return VolumeAppropriate
}

// RateLevel returns the label for m.SpeechRate: within ±50 of the optimal
// rate is appropriate.
func (m Metrics) RateLevel() RateLevel {
	switch {
	case m.SpeechRate < OptimalSpeechRate-50:
		return RateTooSlow
	case m.SpeechRate > OptimalSpeechRate+50:
		return RateTooFast
	}
	return RateAppropriate
}

// Estimate derives [Metrics] from the committed transcript length (in
// characters), the active recording duration and the loudness history.
func Estimate(transcriptLen int, duration time.Duration, history []float64) Metrics {
	rate := SpeechRate(transcriptLen, duration)
	vol := VolumeScore(Mean(history))
	return Metrics{
		Clarity:    ClarityScore(rate, vol),
		Volume:     vol,
		SpeechRate: rate,
		Stability:  StabilityScore(history),
	}
}

// SpeechRate returns characters per minute, rounded. Durations under
// [MinDuration] are raised to it; an empty transcript yields 0.
func SpeechRate(transcriptLen int, duration time.Duration) int {
	if transcriptLen <= 0 {
		return 0
	}
	duration = max(duration, MinDuration)
	return int(math.Round(float64(transcriptLen) / duration.Minutes()))
}

// VolumeScore buckets a mean loudness on the raw 0–255 scale into 1–5.
func VolumeScore(avg float64) int {
	switch {
	case avg < 30:
		return 1
	case avg < 60:
		return 2
	case avg < 120:
		return 3
	case avg < 180:
		return 4
	}
	return 5
}

// StabilityScore maps the population standard deviation of history onto 4–9.
// Histories of ten samples or fewer score [DefaultStability].
func StabilityScore(history []float64) int {
	if len(history) <= minStabilitySamples {
		return DefaultStability
	}
	sd := StdDev(history)
	switch {
	case sd < 10:
		return 9
	case sd < 20:
		return 8
	case sd < 30:
		return 7
	case sd < 40:
		return 6
	case sd < 50:
		return 5
	}
	return 4
}

// ClarityScore is a 5–9 heuristic: close to the optimal rate at an adequate
// volume reads as clear speech.
func ClarityScore(rate, volume int) int {
	diff := abs(rate - OptimalSpeechRate)
	switch {
	case diff < 50 && volume == 3:
		return 9
	case diff < 100 && volume >= 2 && volume <= 4:
		return 8
	case diff < 150:
		return 7
	case diff < 200:
		return 6
	}
	return 5
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
