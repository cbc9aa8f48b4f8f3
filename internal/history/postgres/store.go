package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intensifier/dicio/internal/history"
)

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [history.Store]. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool

	// migrated is set once the schema is known to exist.
	mu       sync.Mutex
	migrated bool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	s, err := Open(dsn)
	if err != nil {
		return nil, err
	}

	if err := s.pool.Ping(ctx); err != nil {
		s.pool.Close()
		return nil, fmt.Errorf("history postgres: ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		s.pool.Close()
		return nil, err
	}
	return s, nil
}

// Open creates a Store without connecting. Connections are made on first
// use and the schema is migrated by the first call that reaches the
// database, so Open succeeds while the database is down.
func Open(dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("history postgres: create pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// ensureSchema runs [Migrate] until it succeeds once.
func (s *Store) ensureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.migrated {
		return nil
	}
	if err := Migrate(ctx, s.pool); err != nil {
		return fmt.Errorf("history postgres: %w", err)
	}
	s.migrated = true
	return nil
}

// Append implements [history.Store]. Appending a record whose ID already
// exists is a no-op.
func (s *Store) Append(ctx context.Context, r history.Record) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	const q = `
		INSERT INTO interactions
		    (id, timestamp, skill_id, question, answer, error, continues, fallback, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q,
		r.ID.String(), r.Timestamp, r.SkillID, r.Question, r.Answer, r.Error,
		r.Continues, r.Fallback, r.Confidence,
	); err != nil {
		return fmt.Errorf("history postgres: append: %w", err)
	}
	return nil
}

// Recent implements [history.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	q := `
		SELECT id::text, timestamp, skill_id, question, answer, error, continues, fallback, confidence
		FROM interactions
		ORDER BY timestamp DESC, id`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history postgres: recent: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Record, error) {
		var (
			r  history.Record
			id string
		)
		if err := row.Scan(&id, &r.Timestamp, &r.SkillID, &r.Question, &r.Answer,
			&r.Error, &r.Continues, &r.Fallback, &r.Confidence); err != nil {
			return r, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return r, fmt.Errorf("parse id %q: %w", id, err)
		}
		r.ID = parsed
		r.Timestamp = r.Timestamp.UTC()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history postgres: scan rows: %w", err)
	}
	return records, nil
}

// Ping verifies the database is reachable. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
