// Package store persists takes (finished recordings) and the analyses run
// on them: the acoustic voice analysis, persona evaluations and generated
// profiles.
//
// Three implementations exist: [MemStore] (in-process, the "memory" driver),
// sqlite (modernc.org/sqlite) and postgres (pgx). All of them are safe for
// concurrent use. Timestamps are stored in UTC at microsecond precision.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MrWong99/introcoach/internal/acoustic"
)

// ErrNotFound is returned when a take does not exist.
var ErrNotFound = errors.New("store: not found")

// DefaultListLimit is used by ListTakes when limit is not positive.
const DefaultListLimit = 50

// Status is the lifecycle state of a take.
type Status string

const (
	StatusRecording   Status = "recording"
	StatusTranscribed Status = "transcribed"
	StatusAnalyzed    Status = "analyzed"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRecording, StatusTranscribed, StatusAnalyzed, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Take is one recorded self-introduction.
type Take struct {
	ID         string
	Title      string
	Status     Status
	Transcript string
	Duration   time.Duration

	// Audio is the WAV-encoded recording. ListTakes leaves it nil.
	Audio     []byte
	AudioSize int

	Metrics *acoustic.Metrics

	CreatedAt time.Time
	UpdatedAt time.Time
}

// VoiceAnalysis is the acoustic analysis of a take. A take has at most one;
// saving again replaces it.
type VoiceAnalysis struct {
	TakeID      string
	Metrics     acoustic.Metrics
	VolumeLevel acoustic.VolumeLevel
	RateLevel   acoustic.RateLevel
	VoiceScore  int

	// Characteristics holds the backend's qualitative voice description as
	// JSON. May be empty.
	Characteristics json.RawMessage

	CreatedAt time.Time
}

// EvaluationRecord is one persona evaluation of a take.
type EvaluationRecord struct {
	ID               string
	TakeID           string
	PersonaID        string
	Friendship       int
	WorkTogether     int
	Voice            *int
	Total            int
	FriendshipReason string
	WorkReason       string
	Suggestions      []string
	Summary          string
	ProcessingTime   time.Duration
	CreatedAt        time.Time
}

// ProfileRecord is a generated profile for a take.
type ProfileRecord struct {
	ID             string
	TakeID         string
	Text           string
	CharacterCount int
	CreatedAt      time.Time
}

// Analysis is everything stored for a take besides the take itself.
// Evaluations and Profiles are ordered oldest first.
type Analysis struct {
	Voice       *VoiceAnalysis
	Evaluations []EvaluationRecord
	Profiles    []ProfileRecord
}

// Store is the persistence interface.
//
// Create and Save methods fill in empty IDs and the timestamps on the value
// passed in. Saving an analysis for an unknown take returns [ErrNotFound].
type Store interface {
	CreateTake(ctx context.Context, t *Take) error

	// UpdateTake overwrites the mutable fields of an existing take: title,
	// status, transcript, duration, audio and metrics.
	UpdateTake(ctx context.Context, t *Take) error

	GetTake(ctx context.Context, id string) (*Take, error)

	// ListTakes returns up to limit takes, newest first, without audio.
	ListTakes(ctx context.Context, limit int) ([]Take, error)

	// DeleteTake removes a take and everything stored for it.
	DeleteTake(ctx context.Context, id string) error

	SaveVoiceAnalysis(ctx context.Context, va *VoiceAnalysis) error
	SaveEvaluation(ctx context.Context, ev *EvaluationRecord) error
	SaveProfile(ctx context.Context, p *ProfileRecord) error
	GetAnalysis(ctx context.Context, takeID string) (*Analysis, error)

	Ping(ctx context.Context) error
	Close() error
}

// Now returns the current time as stored by every implementation.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Limit normalises a ListTakes limit.
func Limit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
