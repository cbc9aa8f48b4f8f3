package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intensifier/dicio/internal/history"
	"github.com/intensifier/dicio/internal/history/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if DICIO_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("DICIO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DICIO_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] on an empty interactions
// table.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS interactions CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_AppendRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, q := range []string{"what time is it", "hello", "my name is Ada"} {
		r := history.Record{
			ID:         uuid.New(),
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			SkillID:    "greeting",
			Question:   q,
			Answer:     "ok",
			Continues:  i == 2,
			Confidence: 0.9,
		}
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("Append(%q): %v", q, err)
		}
	}

	got, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d records", len(got))
	}
	if got[0].Question != "my name is Ada" || !got[0].Continues {
		t.Errorf("newest = %+v", got[0])
	}
	if got[1].Question != "hello" {
		t.Errorf("second = %+v", got[1])
	}
	if !got[1].Timestamp.Equal(base.Add(time.Minute)) {
		t.Errorf("timestamp = %v", got[1].Timestamp)
	}

	all, err := store.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent(0): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Recent(0) returned %d records, want 3", len(all))
	}
}

func TestStore_AppendDuplicateIDIsNoop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := history.NewRecord()
	r.Question = "hello"
	for range 2 {
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := store.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].ID != r.ID {
		t.Errorf("Recent = %+v, want the single record %s", got, r.ID)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	newTestStore(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	for range 2 {
		if err := postgres.Migrate(ctx, pool); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
	}
}

// unreachableDSN points at a port nothing listens on.
const unreachableDSN = "postgres://dicio@127.0.0.1:1/dicio?connect_timeout=2&sslmode=disable"

func TestOpen_Unreachable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if _, err := postgres.NewStore(ctx, unreachableDSN); err == nil {
		t.Error("NewStore with an unreachable database: want error")
	}

	store, err := postgres.Open(unreachableDSN)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Append(ctx, history.Record{Question: "hello"}); err == nil {
		t.Error("Append with an unreachable database: want error")
	}
	if _, err := store.Recent(ctx, 1); err == nil {
		t.Error("Recent with an unreachable database: want error")
	}
	if err := store.Ping(ctx); err == nil {
		t.Error("Ping with an unreachable database: want error")
	}
}

func TestOpen_MigratesOnFirstUse(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS interactions CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	store, err := postgres.Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Append(ctx, history.Record{SkillID: "stop", Question: "stop"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := store.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Question != "stop" {
		t.Errorf("Recent = %+v, want the appended record", got)
	}
}
