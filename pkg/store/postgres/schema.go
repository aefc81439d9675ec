// Package postgres is a PostgreSQL-backed [store.Store] on a single
// [pgxpool.Pool]. [Migrate] runs on connect and is idempotent.
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTakes = `
CREATE TABLE IF NOT EXISTS takes (
    id          TEXT         PRIMARY KEY,
    title       TEXT         NOT NULL,
    status      TEXT         NOT NULL,
    transcript  TEXT         NOT NULL DEFAULT '',
    duration_ns BIGINT       NOT NULL DEFAULT 0,
    audio       BYTEA,
    audio_size  INTEGER      NOT NULL DEFAULT 0,
    metrics     JSONB,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_takes_created_at
    ON takes (created_at DESC);
`

const ddlAnalysis = `
CREATE TABLE IF NOT EXISTS voice_analyses (
    take_id         TEXT         PRIMARY KEY REFERENCES takes (id) ON DELETE CASCADE,
    metrics         JSONB        NOT NULL,
    volume_level    TEXT         NOT NULL,
    rate_level      TEXT         NOT NULL,
    voice_score     INTEGER      NOT NULL,
    characteristics JSONB,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS evaluations (
    seq                BIGSERIAL    PRIMARY KEY,
    id                 TEXT         NOT NULL UNIQUE,
    take_id            TEXT         NOT NULL REFERENCES takes (id) ON DELETE CASCADE,
    persona_id         TEXT         NOT NULL DEFAULT '',
    friendship         INTEGER      NOT NULL,
    work_together      INTEGER      NOT NULL,
    voice              INTEGER,
    total              INTEGER      NOT NULL,
    friendship_reason  TEXT         NOT NULL DEFAULT '',
    work_reason        TEXT         NOT NULL DEFAULT '',
    suggestions        JSONB        NOT NULL DEFAULT '[]',
    summary            TEXT         NOT NULL DEFAULT '',
    processing_time_ms BIGINT       NOT NULL DEFAULT 0,
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_evaluations_take_id
    ON evaluations (take_id);

CREATE TABLE IF NOT EXISTS profiles (
    seq             BIGSERIAL    PRIMARY KEY,
    id              TEXT         NOT NULL UNIQUE,
    take_id         TEXT         NOT NULL REFERENCES takes (id) ON DELETE CASCADE,
    text            TEXT         NOT NULL,
    character_count INTEGER      NOT NULL,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_profiles_take_id
    ON profiles (take_id);
`

// Migrate creates every table and index the store needs. It is safe to call
// on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlTakes, ddlAnalysis} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
