// Package skills provides the built-in skills and the registry that builds
// them by ID from loaded sentences.
package skills

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"golang.org/x/text/language"

	"github.com/intensifier/dicio/internal/sentences"
	"github.com/intensifier/dicio/pkg/skill"
)

// ErrSkillNotRegistered is returned by [Registry.Create] when no factory has
// been registered under the requested skill ID.
var ErrSkillNotRegistered = errors.New("skills: skill not registered")

// Built-in skill IDs.
const (
	CurrentTimeID  = "current_time"
	GreetingID     = "greeting"
	GreetingNameID = "greeting_name"
	StopID         = "stop"
	FallbackID     = "fallback"
)

// Deps is what a factory may build a skill from.
type Deps struct {
	// Sentences holds the compiled patterns of standard skills.
	Sentences *sentences.Set

	// Locale selects the language of spoken answers.
	Locale language.Tag
}

// Factory builds one skill.
type Factory func(Deps) (skill.Skill, error)

// Registry maps skill IDs to their factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Builtin returns a registry holding every built-in skill except the
// fallback, which [NewFallback] builds separately.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(CurrentTimeID, NewCurrentTime)
	r.Register(GreetingID, NewGreeting)
	r.Register(StopID, NewStop)
	return r
}

// Register registers factory under id. Subsequent calls with the same id
// overwrite the previous registration.
func (r *Registry) Register(id string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
}

// IDs returns the registered skill IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// Create builds the skill registered under id.
// Returns [ErrSkillNotRegistered] if no factory has been registered for it.
func (r *Registry) Create(id string, deps Deps) (skill.Skill, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSkillNotRegistered, id)
	}
	s, err := factory(deps)
	if err != nil {
		return nil, fmt.Errorf("skills: create %q: %w", id, err)
	}
	return s, nil
}

// Batch builds the skills ids in order. An empty ids builds every
// registered skill. All failures are reported together.
func (r *Registry) Batch(ids []string, deps Deps) ([]skill.Skill, error) {
	if len(ids) == 0 {
		ids = r.IDs()
	}
	batch := make([]skill.Skill, 0, len(ids))
	var errs []error
	for _, id := range ids {
		s, err := r.Create(id, deps)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		batch = append(batch, s)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return batch, nil
}
