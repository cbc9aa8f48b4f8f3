// Package postgres stores interaction history in PostgreSQL.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, history.NewRecord())
//	recent, _ := store.Recent(ctx, 20)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlInteractions = `
CREATE TABLE IF NOT EXISTS interactions (
    id          UUID         PRIMARY KEY,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    skill_id    TEXT         NOT NULL DEFAULT '',
    question    TEXT         NOT NULL,
    answer      TEXT         NOT NULL DEFAULT '',
    error       TEXT         NOT NULL DEFAULT '',
    continues   BOOLEAN      NOT NULL DEFAULT false,
    fallback    BOOLEAN      NOT NULL DEFAULT false,
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_interactions_timestamp
    ON interactions (timestamp DESC);

CREATE INDEX IF NOT EXISTS idx_interactions_skill_id
    ON interactions (skill_id);
`

// Migrate creates the interactions table and its indexes. It is idempotent
// and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlInteractions); err != nil {
		return fmt.Errorf("migrate: interactions: %w", err)
	}
	return nil
}
