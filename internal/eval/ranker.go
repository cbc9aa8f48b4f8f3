// Package eval chooses which skill answers an utterance and runs it.
//
// The [Ranker] holds the stack of skill batches: a fixed default batch at
// the bottom and one batch per conversation turn on top. The [Evaluator]
// feeds utterances through the ranker one at a time, invokes the winning
// skill and pushes or resets the stack depending on the skill's output.
package eval

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/intensifier/dicio/pkg/skill"
)

// DefaultMinScore is the confidence floor used when none is configured.
const DefaultMinScore = 0.7

// Match is a skill chosen for an input together with its score.
type Match struct {
	Skill skill.Skill
	Score skill.Score
	Input skill.Input

	// Fallback is true when Skill is the fallback skill.
	Fallback bool
}

// GenerateOutput runs the matched skill on the input it won with.
func (m *Match) GenerateOutput(ctx context.Context, sctx skill.Context) (skill.Output, error) {
	return m.Skill.GenerateOutput(ctx, sctx, m.Input, m.Score)
}

// RankerOption configures a [Ranker].
type RankerOption func(*Ranker)

// WithMinScore sets the confidence floor a skill's
// [skill.Score.ScoreIn01Range] must reach to be chosen. Default:
// [DefaultMinScore].
func WithMinScore(minScore float64) RankerOption {
	return func(r *Ranker) {
		r.minScore = minScore
	}
}

// WithParallelism bounds how many skills of one batch are scored at once.
// Values below 1 mean GOMAXPROCS.
func WithParallelism(n int) RankerOption {
	return func(r *Ranker) {
		r.parallelism = n
	}
}

// Ranker finds the best skill for an input across the batch stack.
//
// All methods are safe for concurrent use, but a read-then-write sequence
// such as [Ranker.Best] followed by [Ranker.AddBatchToTop] must be
// serialized by the caller; [Evaluator] does that.
type Ranker struct {
	mu           sync.Mutex
	defaultBatch []skill.Skill
	stack        [][]skill.Skill
	fallback     skill.Skill
	minScore     float64
	parallelism  int
}

// NewRanker returns a ranker with only defaultBatch active. fallback
// answers when nothing else does and must not be nil.
func NewRanker(defaultBatch []skill.Skill, fallback skill.Skill, opts ...RankerOption) (*Ranker, error) {
	if fallback == nil {
		return nil, fmt.Errorf("eval: new ranker: nil fallback skill")
	}
	r := &Ranker{
		defaultBatch: append([]skill.Skill(nil), defaultBatch...),
		fallback:     fallback,
		minScore:     DefaultMinScore,
	}
	for _, o := range opts {
		o(r)
	}
	if r.parallelism < 1 {
		r.parallelism = runtime.GOMAXPROCS(0)
	}
	return r, nil
}

// Best scores in against the active batches, top of the stack first, and
// returns the best skill of the first batch whose best clears the floor.
// Skills of one batch are scored concurrently; on equal scores the skill
// listed first wins.
//
// When the winner does not come from the top of the stack the conversation
// was abandoned, and the stack is reset to the default batch. When no batch
// has a skill above the floor the fallback is returned if it clears the
// floor itself, otherwise nil. Best only fails when ctx is done.
func (r *Ranker) Best(ctx context.Context, sctx skill.Context, in skill.Input) (*Match, error) {
	batches := r.activeBatches()

	for i, batch := range batches {
		best, err := r.bestOf(ctx, sctx, in, batch)
		if err != nil {
			return nil, err
		}
		if best == nil || best.Score.ScoreIn01Range() < r.floor() {
			continue
		}
		if i > 0 {
			r.RemoveAllBatches()
		}
		return best, nil
	}

	if fb := r.Fallback(sctx, in); fb.Score.ScoreIn01Range() >= r.floor() {
		return fb, nil
	}
	return nil, nil
}

// Fallback scores in against the fallback skill. It always returns a match.
func (r *Ranker) Fallback(sctx skill.Context, in skill.Input) *Match {
	r.mu.Lock()
	fb := r.fallback
	r.mu.Unlock()
	return &Match{Skill: fb, Score: fb.Score(sctx, in), Input: in, Fallback: true}
}

// bestOf scores every skill of batch concurrently and reduces the results
// in batch order.
func (r *Ranker) bestOf(ctx context.Context, sctx skill.Context, in skill.Input, batch []skill.Skill) (*Match, error) {
	scores := make([]skill.Score, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, s := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores[i] = s.Score(sctx, in)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("eval: rank: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("eval: rank: %w", err)
	}

	var best *Match
	for i, sc := range scores {
		if sc == nil {
			continue
		}
		if best == nil || sc.IsBetterThan(best.Score) {
			best = &Match{Skill: batch[i], Score: sc, Input: in}
		}
	}
	return best, nil
}

// activeBatches returns the batches top of the stack first, the default
// batch last.
func (r *Ranker) activeBatches() [][]skill.Skill {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]skill.Skill, 0, len(r.stack)+1)
	for i := len(r.stack) - 1; i >= 0; i-- {
		out = append(out, r.stack[i])
	}
	return append(out, r.defaultBatch)
}

func (r *Ranker) floor() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minScore
}

// AddBatchToTop pushes batch as the new top of the stack.
func (r *Ranker) AddBatchToTop(batch []skill.Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stack = append(r.stack, append([]skill.Skill(nil), batch...))
}

// RemoveAllBatches resets the stack to the default batch.
func (r *Ranker) RemoveAllBatches() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stack = nil
}

// HasAnyBatches reports whether a batch is pushed above the default batch,
// i.e. whether the next utterance may continue a conversation.
func (r *Ranker) HasAnyBatches() bool {
	return r.Depth() > 0
}

// Depth returns the number of batches above the default batch.
func (r *Ranker) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stack)
}

// SetDefaultBatch replaces the default batch. Pushed batches are kept.
func (r *Ranker) SetDefaultBatch(batch []skill.Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultBatch = append([]skill.Skill(nil), batch...)
}

// SetFallback replaces the fallback skill. A nil fallback is ignored.
func (r *Ranker) SetFallback(fallback skill.Skill) {
	if fallback == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = fallback
}

// SetMinScore replaces the confidence floor.
func (r *Ranker) SetMinScore(minScore float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minScore = minScore
}

// vocabularyProvider is implemented by skills that can list the words they
// recognize.
type vocabularyProvider interface {
	Vocabulary() []string
}

// Vocabulary returns the deduplicated words of every active skill that
// exposes a vocabulary, top of the stack first.
func (r *Ranker) Vocabulary() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, batch := range r.activeBatches() {
		for _, s := range batch {
			vp, ok := s.(vocabularyProvider)
			if !ok {
				continue
			}
			for _, w := range vp.Vocabulary() {
				if _, dup := seen[w]; !dup {
					seen[w] = struct{}{}
					out = append(out, w)
				}
			}
		}
	}
	return out
}
