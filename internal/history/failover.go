package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/intensifier/dicio/internal/resilience"
)

// Compile-time interface check.
var _ Store = (*FailoverStore)(nil)

// FailoverStore writes to a primary store and spills to secondary stores
// while the primary fails. Each store sits behind its own circuit breaker,
// so an unreachable database is skipped quickly until it recovers.
//
// Recent reads from the first store that answers; records spilled elsewhere
// are not merged back.
type FailoverStore struct {
	stores *resilience.Failover[Store]
}

// NewFailoverStore creates a FailoverStore with primary tried first. Add
// spill-over stores with [FailoverStore.Add].
func NewFailoverStore(primaryName string, primary Store, cfg resilience.BreakerConfig) *FailoverStore {
	return &FailoverStore{stores: resilience.NewFailover(primaryName, primary, cfg)}
}

// Add registers a store tried after those already registered.
func (s *FailoverStore) Add(name string, store Store) {
	s.stores.Add(name, store)
}

// Append persists r in the first store that accepts it. The ID and
// timestamp are assigned once, so a retried record keeps them.
func (s *FailoverStore) Append(ctx context.Context, r Record) error {
	r = fillDefaults(r)
	if err := s.stores.Do(ctx, func(ctx context.Context, st Store) error {
		return st.Append(ctx, r)
	}); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent returns the records of the first store that answers.
func (s *FailoverStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	records, err := resilience.DoValue(ctx, s.stores, func(ctx context.Context, st Store) ([]Record, error) {
		return st.Recent(ctx, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return records, nil
}

// pinger is implemented by stores that can report their health.
type pinger interface {
	Ping(ctx context.Context) error
}

// Ping succeeds when at least one store is reachable. Stores without a
// Ping method count as reachable.
func (s *FailoverStore) Ping(ctx context.Context) error {
	var errs []error
	ok := false
	_ = s.stores.Each(func(name string, st Store) error {
		p, isPinger := st.(pinger)
		if !isPinger {
			ok = true
			return nil
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return nil
		}
		ok = true
		return nil
	})
	if ok {
		return nil
	}
	return errors.Join(errs...)
}

// Close closes every store.
func (s *FailoverStore) Close() error {
	return s.stores.Each(func(_ string, st Store) error { return st.Close() })
}
