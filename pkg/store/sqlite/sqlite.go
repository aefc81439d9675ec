// Package sqlite is a [store.Store] on a local SQLite file, using the
// pure-Go modernc.org/sqlite driver. The schema is created on open.
//
//	s, err := sqlite.Open(ctx, "introcoach.sqlite")
//
// Pass ":memory:" for a throwaway database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MrWong99/introcoach/internal/acoustic"
	"github.com/MrWong99/introcoach/pkg/store"
)

var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS takes (
    id          TEXT    PRIMARY KEY,
    title       TEXT    NOT NULL,
    status      TEXT    NOT NULL,
    transcript  TEXT    NOT NULL DEFAULT '',
    duration_ns INTEGER NOT NULL DEFAULT 0,
    audio       BLOB,
    audio_size  INTEGER NOT NULL DEFAULT 0,
    metrics     TEXT,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_takes_created_at ON takes (created_at);

CREATE TABLE IF NOT EXISTS voice_analyses (
    take_id         TEXT    PRIMARY KEY REFERENCES takes (id) ON DELETE CASCADE,
    clarity         INTEGER NOT NULL,
    volume          INTEGER NOT NULL,
    speech_rate     INTEGER NOT NULL,
    stability       INTEGER NOT NULL,
    volume_level    TEXT    NOT NULL,
    rate_level      TEXT    NOT NULL,
    voice_score     INTEGER NOT NULL,
    characteristics TEXT,
    created_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS evaluations (
    seq                INTEGER PRIMARY KEY AUTOINCREMENT,
    id                 TEXT    NOT NULL UNIQUE,
    take_id            TEXT    NOT NULL REFERENCES takes (id) ON DELETE CASCADE,
    persona_id         TEXT    NOT NULL DEFAULT '',
    friendship         INTEGER NOT NULL,
    work_together      INTEGER NOT NULL,
    voice              INTEGER,
    total              INTEGER NOT NULL,
    friendship_reason  TEXT    NOT NULL DEFAULT '',
    work_reason        TEXT    NOT NULL DEFAULT '',
    suggestions        TEXT    NOT NULL DEFAULT '[]',
    summary            TEXT    NOT NULL DEFAULT '',
    processing_time_ms INTEGER NOT NULL DEFAULT 0,
    created_at         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_take_id ON evaluations (take_id);

CREATE TABLE IF NOT EXISTS profiles (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT    NOT NULL UNIQUE,
    take_id         TEXT    NOT NULL REFERENCES takes (id) ON DELETE CASCADE,
    text            TEXT    NOT NULL,
    character_count INTEGER NOT NULL,
    created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_profiles_take_id ON profiles (take_id);
`

// Store is a SQLite-backed [store.Store].
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// One connection serialises writers and keeps a :memory: database alive.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateTake(ctx context.Context, t *store.Take) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = store.StatusRecording
	}
	metrics, err := encodeMetrics(t.Metrics)
	if err != nil {
		return err
	}
	now := store.Now()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO takes (id, title, status, transcript, duration_ns, audio, audio_size, metrics, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, string(t.Status), t.Transcript, t.Duration.Nanoseconds(),
		t.Audio, len(t.Audio), metrics, now.UnixMicro(), now.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: create take: %w", err)
	}
	t.AudioSize = len(t.Audio)
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

func (s *Store) UpdateTake(ctx context.Context, t *store.Take) error {
	metrics, err := encodeMetrics(t.Metrics)
	if err != nil {
		return err
	}
	now := store.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE takes
		SET    title = ?, status = ?, transcript = ?, duration_ns = ?, audio = ?, audio_size = ?, metrics = ?, updated_at = ?
		WHERE  id = ?`,
		t.Title, string(t.Status), t.Transcript, t.Duration.Nanoseconds(),
		t.Audio, len(t.Audio), metrics, now.UnixMicro(), t.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: update take: %w", err)
	}
	if err := expectRow(res); err != nil {
		return err
	}

	var created int64
	if err := s.db.QueryRowContext(ctx, `SELECT created_at FROM takes WHERE id = ?`, t.ID).Scan(&created); err != nil {
		return fmt.Errorf("sqlite store: update take: %w", err)
	}
	t.AudioSize = len(t.Audio)
	t.CreatedAt = fromMicro(created)
	t.UpdatedAt = now
	return nil
}

func (s *Store) GetTake(ctx context.Context, id string) (*store.Take, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, status, transcript, duration_ns, audio, audio_size, metrics, created_at, updated_at
		FROM   takes
		WHERE  id = ?`, id)
	t, err := scanTake(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get take: %w", err)
	}
	return t, nil
}

func (s *Store) ListTakes(ctx context.Context, limit int) ([]store.Take, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, status, transcript, duration_ns, NULL, audio_size, metrics, created_at, updated_at
		FROM   takes
		ORDER  BY created_at DESC, id DESC
		LIMIT  ?`, store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list takes: %w", err)
	}
	defer rows.Close()

	takes := []store.Take{}
	for rows.Next() {
		t, err := scanTake(rows, false)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: list takes: %w", err)
		}
		takes = append(takes, *t)
	}
	return takes, rows.Err()
}

func (s *Store) DeleteTake(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM takes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite store: delete take: %w", err)
	}
	return expectRow(res)
}

func (s *Store) SaveVoiceAnalysis(ctx context.Context, va *store.VoiceAnalysis) error {
	if err := s.takeExists(ctx, va.TakeID); err != nil {
		return err
	}
	now := store.Now()
	var characteristics any
	if len(va.Characteristics) > 0 {
		characteristics = string(va.Characteristics)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO voice_analyses
		    (take_id, clarity, volume, speech_rate, stability, volume_level, rate_level, voice_score, characteristics, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (take_id) DO UPDATE SET
		    clarity = excluded.clarity, volume = excluded.volume, speech_rate = excluded.speech_rate,
		    stability = excluded.stability, volume_level = excluded.volume_level, rate_level = excluded.rate_level,
		    voice_score = excluded.voice_score, characteristics = excluded.characteristics, created_at = excluded.created_at`,
		va.TakeID, va.Metrics.Clarity, va.Metrics.Volume, va.Metrics.SpeechRate, va.Metrics.Stability,
		string(va.VolumeLevel), string(va.RateLevel), va.VoiceScore, characteristics, now.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save voice analysis: %w", err)
	}
	va.CreatedAt = now
	return nil
}

func (s *Store) SaveEvaluation(ctx context.Context, ev *store.EvaluationRecord) error {
	if err := s.takeExists(ctx, ev.TakeID); err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	suggestions, err := json.Marshal(nonNil(ev.Suggestions))
	if err != nil {
		return fmt.Errorf("sqlite store: save evaluation: %w", err)
	}
	now := store.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evaluations
		    (id, take_id, persona_id, friendship, work_together, voice, total,
		     friendship_reason, work_reason, suggestions, summary, processing_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TakeID, ev.PersonaID, ev.Friendship, ev.WorkTogether, ev.Voice, ev.Total,
		ev.FriendshipReason, ev.WorkReason, string(suggestions), ev.Summary,
		ev.ProcessingTime.Milliseconds(), now.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save evaluation: %w", err)
	}
	ev.CreatedAt = now
	return nil
}

func (s *Store) SaveProfile(ctx context.Context, p *store.ProfileRecord) error {
	if err := s.takeExists(ctx, p.TakeID); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := store.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, take_id, text, character_count, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.TakeID, p.Text, p.CharacterCount, now.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save profile: %w", err)
	}
	p.CreatedAt = now
	return nil
}

func (s *Store) GetAnalysis(ctx context.Context, takeID string) (*store.Analysis, error) {
	if err := s.takeExists(ctx, takeID); err != nil {
		return nil, err
	}
	a := &store.Analysis{}

	var (
		va              store.VoiceAnalysis
		volume, rate    string
		characteristics sql.NullString
		created         int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT take_id, clarity, volume, speech_rate, stability, volume_level, rate_level, voice_score, characteristics, created_at
		FROM   voice_analyses
		WHERE  take_id = ?`, takeID).Scan(
		&va.TakeID, &va.Metrics.Clarity, &va.Metrics.Volume, &va.Metrics.SpeechRate, &va.Metrics.Stability,
		&volume, &rate, &va.VoiceScore, &characteristics, &created,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("sqlite store: get voice analysis: %w", err)
	default:
		va.VolumeLevel = acoustic.VolumeLevel(volume)
		va.RateLevel = acoustic.RateLevel(rate)
		if characteristics.Valid {
			va.Characteristics = json.RawMessage(characteristics.String)
		}
		va.CreatedAt = fromMicro(created)
		a.Voice = &va
	}

	if a.Evaluations, err = s.evaluations(ctx, takeID); err != nil {
		return nil, err
	}
	if a.Profiles, err = s.profiles(ctx, takeID); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) evaluations(ctx context.Context, takeID string) ([]store.EvaluationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, take_id, persona_id, friendship, work_together, voice, total,
		       friendship_reason, work_reason, suggestions, summary, processing_time_ms, created_at
		FROM   evaluations
		WHERE  take_id = ?
		ORDER  BY seq`, takeID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get evaluations: %w", err)
	}
	defer rows.Close()

	out := []store.EvaluationRecord{}
	for rows.Next() {
		var (
			ev          store.EvaluationRecord
			voice       sql.NullInt64
			suggestions string
			ms, created int64
		)
		if err := rows.Scan(&ev.ID, &ev.TakeID, &ev.PersonaID, &ev.Friendship, &ev.WorkTogether, &voice, &ev.Total,
			&ev.FriendshipReason, &ev.WorkReason, &suggestions, &ev.Summary, &ms, &created); err != nil {
			return nil, fmt.Errorf("sqlite store: scan evaluation: %w", err)
		}
		if voice.Valid {
			v := int(voice.Int64)
			ev.Voice = &v
		}
		if err := json.Unmarshal([]byte(suggestions), &ev.Suggestions); err != nil {
			return nil, fmt.Errorf("sqlite store: decode suggestions: %w", err)
		}
		ev.ProcessingTime = time.Duration(ms) * time.Millisecond
		ev.CreatedAt = fromMicro(created)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: get evaluations: %w", err)
	}
	return out, nil
}

func (s *Store) profiles(ctx context.Context, takeID string) ([]store.ProfileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, take_id, text, character_count, created_at
		FROM   profiles
		WHERE  take_id = ?
		ORDER  BY seq`, takeID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get profiles: %w", err)
	}
	defer rows.Close()

	out := []store.ProfileRecord{}
	for rows.Next() {
		var (
			p       store.ProfileRecord
			created int64
		)
		if err := rows.Scan(&p.ID, &p.TakeID, &p.Text, &p.CharacterCount, &created); err != nil {
			return nil, fmt.Errorf("sqlite store: scan profile: %w", err)
		}
		p.CreatedAt = fromMicro(created)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: get profiles: %w", err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) takeExists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM takes WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite store: lookup take: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTake(row scanner, withAudio bool) (*store.Take, error) {
	var (
		t                store.Take
		status           string
		durationNS       int64
		audio            []byte
		metrics          sql.NullString
		created, updated int64
	)
	if err := row.Scan(&t.ID, &t.Title, &status, &t.Transcript, &durationNS, &audio, &t.AudioSize,
		&metrics, &created, &updated); err != nil {
		return nil, err
	}
	t.Status = store.Status(status)
	t.Duration = time.Duration(durationNS)
	if withAudio {
		t.Audio = audio
	}
	if metrics.Valid {
		var m acoustic.Metrics
		if err := json.Unmarshal([]byte(metrics.String), &m); err != nil {
			return nil, fmt.Errorf("decode metrics: %w", err)
		}
		t.Metrics = &m
	}
	t.CreatedAt = fromMicro(created)
	t.UpdatedAt = fromMicro(updated)
	return &t, nil
}

func encodeMetrics(m *acoustic.Metrics) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: encode metrics: %w", err)
	}
	return string(b), nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func fromMicro(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
