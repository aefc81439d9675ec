package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/introcoach/internal/acoustic"
	"github.com/MrWong99/introcoach/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [store.Store]. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) CreateTake(ctx context.Context, t *store.Take) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = store.StatusRecording
	}
	now := store.Now()

	const q = `
		INSERT INTO takes (id, title, status, transcript, duration_ns, audio, audio_size, metrics, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`
	_, err := s.pool.Exec(ctx, q,
		t.ID, t.Title, string(t.Status), t.Transcript, t.Duration.Nanoseconds(),
		t.Audio, len(t.Audio), t.Metrics, now,
	)
	if err != nil {
		return fmt.Errorf("postgres store: create take: %w", err)
	}
	t.AudioSize = len(t.Audio)
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

func (s *Store) UpdateTake(ctx context.Context, t *store.Take) error {
	now := store.Now()
	const q = `
		UPDATE takes
		SET    title = $2, status = $3, transcript = $4, duration_ns = $5,
		       audio = $6, audio_size = $7, metrics = $8, updated_at = $9
		WHERE  id = $1
		RETURNING created_at`

	var created time.Time
	err := s.pool.QueryRow(ctx, q,
		t.ID, t.Title, string(t.Status), t.Transcript, t.Duration.Nanoseconds(),
		t.Audio, len(t.Audio), t.Metrics, now,
	).Scan(&created)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres store: update take: %w", err)
	}
	t.AudioSize = len(t.Audio)
	t.CreatedAt = created.UTC()
	t.UpdatedAt = now
	return nil
}

func (s *Store) GetTake(ctx context.Context, id string) (*store.Take, error) {
	const q = `
		SELECT id, title, status, transcript, duration_ns, audio, audio_size, metrics, created_at, updated_at
		FROM   takes
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get take: %w", err)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanTake)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get take: %w", err)
	}
	return &t, nil
}

func (s *Store) ListTakes(ctx context.Context, limit int) ([]store.Take, error) {
	const q = `
		SELECT id, title, status, transcript, duration_ns, NULL::bytea, audio_size, metrics, created_at, updated_at
		FROM   takes
		ORDER  BY created_at DESC, id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres store: list takes: %w", err)
	}
	takes, err := pgx.CollectRows(rows, scanTake)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list takes: %w", err)
	}
	if takes == nil {
		takes = []store.Take{}
	}
	return takes, nil
}

func (s *Store) DeleteTake(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM takes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete take: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SaveVoiceAnalysis(ctx context.Context, va *store.VoiceAnalysis) error {
	if err := s.takeExists(ctx, va.TakeID); err != nil {
		return err
	}
	var characteristics []byte
	if len(va.Characteristics) > 0 {
		characteristics = va.Characteristics
	}
	now := store.Now()

	const q = `
		INSERT INTO voice_analyses (take_id, metrics, volume_level, rate_level, voice_score, characteristics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (take_id) DO UPDATE SET
		    metrics         = EXCLUDED.metrics,
		    volume_level    = EXCLUDED.volume_level,
		    rate_level      = EXCLUDED.rate_level,
		    voice_score     = EXCLUDED.voice_score,
		    characteristics = EXCLUDED.characteristics,
		    created_at      = EXCLUDED.created_at`
	_, err := s.pool.Exec(ctx, q,
		va.TakeID, va.Metrics, string(va.VolumeLevel), string(va.RateLevel), va.VoiceScore, characteristics, now,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save voice analysis: %w", err)
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
	suggestions := ev.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	now := store.Now()

	const q = `
		INSERT INTO evaluations
		    (id, take_id, persona_id, friendship, work_together, voice, total,
		     friendship_reason, work_reason, suggestions, summary, processing_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := s.pool.Exec(ctx, q,
		ev.ID, ev.TakeID, ev.PersonaID, ev.Friendship, ev.WorkTogether, ev.Voice, ev.Total,
		ev.FriendshipReason, ev.WorkReason, suggestions, ev.Summary, ev.ProcessingTime.Milliseconds(), now,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save evaluation: %w", err)
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

	const q = `
		INSERT INTO profiles (id, take_id, text, character_count, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, q, p.ID, p.TakeID, p.Text, p.CharacterCount, now); err != nil {
		return fmt.Errorf("postgres store: save profile: %w", err)
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
		va           store.VoiceAnalysis
		volume, rate string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT take_id, metrics, volume_level, rate_level, voice_score, characteristics, created_at
		FROM   voice_analyses
		WHERE  take_id = $1`, takeID).Scan(
		&va.TakeID, &va.Metrics, &volume, &rate, &va.VoiceScore, &va.Characteristics, &va.CreatedAt,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("postgres store: get voice analysis: %w", err)
	default:
		va.VolumeLevel = acoustic.VolumeLevel(volume)
		va.RateLevel = acoustic.RateLevel(rate)
		va.CreatedAt = va.CreatedAt.UTC()
		a.Voice = &va
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, take_id, persona_id, friendship, work_together, voice, total,
		       friendship_reason, work_reason, suggestions, summary, processing_time_ms, created_at
		FROM   evaluations
		WHERE  take_id = $1
		ORDER  BY seq`, takeID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get evaluations: %w", err)
	}
	a.Evaluations, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.EvaluationRecord, error) {
		var (
			ev store.EvaluationRecord
			ms int64
		)
		err := row.Scan(&ev.ID, &ev.TakeID, &ev.PersonaID, &ev.Friendship, &ev.WorkTogether, &ev.Voice, &ev.Total,
			&ev.FriendshipReason, &ev.WorkReason, &ev.Suggestions, &ev.Summary, &ms, &ev.CreatedAt)
		ev.ProcessingTime = time.Duration(ms) * time.Millisecond
		ev.CreatedAt = ev.CreatedAt.UTC()
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: get evaluations: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, take_id, text, character_count, created_at
		FROM   profiles
		WHERE  take_id = $1
		ORDER  BY seq`, takeID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get profiles: %w", err)
	}
	a.Profiles, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ProfileRecord, error) {
		var p store.ProfileRecord
		err := row.Scan(&p.ID, &p.TakeID, &p.Text, &p.CharacterCount, &p.CreatedAt)
		p.CreatedAt = p.CreatedAt.UTC()
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: get profiles: %w", err)
	}

	if a.Evaluations == nil {
		a.Evaluations = []store.EvaluationRecord{}
	}
	if a.Profiles == nil {
		a.Profiles = []store.ProfileRecord{}
	}
	return a, nil
}

// Ping verifies a connection can be acquired.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) takeExists(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM takes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres store: lookup take: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return nil
}

// scanTake reads the column order used by GetTake and ListTakes.
func scanTake(row pgx.CollectableRow) (store.Take, error) {
	var (
		t          store.Take
		status     string
		durationNS int64
	)
	if err := row.Scan(&t.ID, &t.Title, &status, &t.Transcript, &durationNS, &t.Audio, &t.AudioSize,
		&t.Metrics, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return store.Take{}, err
	}
	t.Status = store.Status(status)
	t.Duration = time.Duration(durationNS)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}
