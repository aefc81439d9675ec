package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/introcoach/internal/acoustic"
	"github.com/MrWong99/introcoach/internal/app"
	"github.com/MrWong99/introcoach/internal/coach"
	"github.com/MrWong99/introcoach/pkg/store"
)

type personaInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

type evaluateRequest struct {
	Transcript string            `json:"transcript"`
	Metrics    *acoustic.Metrics `json:"metrics,omitempty"`
	PersonaID  string            `json:"persona_id,omitempty"`
	Persona    *personaInput     `json:"persona,omitempty"`
	TakeID     string            `json:"take_id,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decode(w, r, &req) {
		return
	}
	in := app.EvaluateInput{
		TakeID:     req.TakeID,
		Transcript: req.Transcript,
		Metrics:    req.Metrics,
		PersonaID:  req.PersonaID,
	}
	if req.Persona != nil {
		in.Persona = &coach.Persona{
			Kind:        coach.KindCustom,
			Name:        req.Persona.Name,
			Description: req.Persona.Description,
			Prompt:      req.Persona.Prompt,
		}
	}
	ev, err := s.app.Evaluate(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type voiceRequest struct {
	Metrics    *acoustic.Metrics `json:"metrics"`
	Transcript string            `json:"transcript"`
}

func (s *Server) handleVoiceCharacteristics(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if !decode(w, r, &req) {
		return
	}
	c := s.app.Coach()
	if c == nil {
		writeAppError(w, r, app.ErrNoLLM)
		return
	}
	vc, err := c.VoiceCharacteristics(r.Context(), req.Metrics, req.Transcript)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vc)
}

type profileRequest struct {
	Transcript string `json:"transcript"`
	TakeID     string `json:"take_id,omitempty"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.app.GenerateProfile(r.Context(), req.TakeID, req.Transcript)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePersonas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"personas": s.app.Personas().List()})
}

// ─── Takes ───────────────────────────────────────────────────────────────────

type takeJSON struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Status     store.Status      `json:"status"`
	Transcript string            `json:"transcript"`
	DurationMs int64             `json:"duration_ms"`
	AudioSize  int               `json:"audio_size"`
	Metrics    *acoustic.Metrics `json:"metrics,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func toTakeJSON(t *store.Take) takeJSON {
	return takeJSON{
		ID:         t.ID,
		Title:      t.Title,
		Status:     t.Status,
		Transcript: t.Transcript,
		DurationMs: t.Duration.Milliseconds(),
		AudioSize:  t.AudioSize,
		Metrics:    t.Metrics,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

type voiceAnalysisJSON struct {
	Metrics         acoustic.Metrics     `json:"metrics"`
	VolumeLevel     acoustic.VolumeLevel `json:"volume_level"`
	RateLevel       acoustic.RateLevel   `json:"rate_level"`
	VoiceScore      int                  `json:"voice_score"`
	Characteristics json.RawMessage      `json:"characteristics,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

type evaluationJSON struct {
	ID               string    `json:"id"`
	PersonaID        string    `json:"persona_id,omitempty"`
	Friendship       int       `json:"friendship"`
	WorkTogether     int       `json:"work_together"`
	Voice            *int      `json:"voice,omitempty"`
	Total            int       `json:"total"`
	FriendshipReason string    `json:"friendship_reason"`
	WorkReason       string    `json:"work_reason"`
	Suggestions      []string  `json:"suggestions"`
	Summary          string    `json:"summary,omitempty"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

type profileJSON struct {
	ID             string    `json:"id"`
	Text           string    `json:"profile"`
	CharacterCount int       `json:"character_count"`
	CreatedAt      time.Time `json:"created_at"`
}

type takeDetailJSON struct {
	takeJSON
	VoiceAnalysis *voiceAnalysisJSON `json:"voice_analysis,omitempty"`
	Evaluations   []evaluationJSON   `json:"evaluations"`
	Profiles      []profileJSON      `json:"profiles"`
}

func toTakeDetail(t *store.Take, a *store.Analysis) takeDetailJSON {
	d := takeDetailJSON{
		takeJSON:    toTakeJSON(t),
		Evaluations: make([]evaluationJSON, 0, len(a.Evaluations)),
		Profiles:    make([]profileJSON, 0, len(a.Profiles)),
	}
	if v := a.Voice; v != nil {
		d.VoiceAnalysis = &voiceAnalysisJSON{
			Metrics:         v.Metrics,
			VolumeLevel:     v.VolumeLevel,
			RateLevel:       v.RateLevel,
			VoiceScore:      v.VoiceScore,
			Characteristics: v.Characteristics,
			CreatedAt:       v.CreatedAt,
		}
	}
	for _, ev := range a.Evaluations {
		d.Evaluations = append(d.Evaluations, evaluationJSON{
			ID:               ev.ID,
			PersonaID:        ev.PersonaID,
			Friendship:       ev.Friendship,
			WorkTogether:     ev.WorkTogether,
			Voice:            ev.Voice,
			Total:            ev.Total,
			FriendshipReason: ev.FriendshipReason,
			WorkReason:       ev.WorkReason,
			Suggestions:      ev.Suggestions,
			Summary:          ev.Summary,
			ProcessingTimeMs: ev.ProcessingTime.Milliseconds(),
			CreatedAt:        ev.CreatedAt,
		})
	}
	for _, p := range a.Profiles {
		d.Profiles = append(d.Profiles, profileJSON{
			ID:             p.ID,
			Text:           p.Text,
			CharacterCount: p.CharacterCount,
			CreatedAt:      p.CreatedAt,
		})
	}
	return d
}

func (s *Server) handleListTakes(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	takes, err := s.app.Store().ListTakes(r.Context(), limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	out := make([]takeJSON, 0, len(takes))
	for i := range takes {
		out = append(out, toTakeJSON(&takes[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"takes": out})
}

func (s *Server) handleGetTake(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := s.app.Store().GetTake(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	a, err := s.app.Store().GetAnalysis(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTakeDetail(t, a))
}

func (s *Server) handleDeleteTake(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Store().DeleteTake(r.Context(), r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTakeAudio(w http.ResponseWriter, r *http.Request) {
	t, err := s.app.Store().GetTake(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if len(t.Audio) == 0 {
		writeError(w, http.StatusNotFound, "take has no audio")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(t.Audio)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(t.Audio); err != nil {
		logger(r).Debug("write take audio", "take_id", t.ID, "err", err)
	}
}

type analyzeRequest struct {
	PersonaID string `json:"persona_id,omitempty"`
}

func (s *Server) handleAnalyzeTake(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	// An empty body analyses from the neutral perspective.
	if r.ContentLength != 0 {
		if !decode(w, r, &req) {
			return
		}
	}
	res, err := s.app.AnalyzeTake(r.Context(), r.PathValue("id"), req.PersonaID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
