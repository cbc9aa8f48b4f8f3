package standard

import (
	"context"
	"errors"
	"fmt"

	"github.com/intensifier/dicio/pkg/skill"
)

// HandlerFunc produces the output of a standard skill once it has been chosen.
type HandlerFunc func(ctx context.Context, sctx skill.Context, res Result) (skill.Output, error)

// Result is the input a standard skill won with, and the winning score.
type Result struct {
	Input skill.Input
	Score Score
}

// Text returns the text captured by the group name, or "" and false when the
// group was not captured.
func (r Result) Text(name string) (string, bool) {
	v, ok, err := CapturingGroup[string](r.Score, r.Input.Text, name)
	if err != nil {
		return "", false
	}
	return v, ok
}

// Compile-time check that Skill satisfies [skill.Skill].
var _ skill.Skill = (*Skill)(nil)

// Skill recognizes utterances with compiled sentence patterns.
type Skill struct {
	info      skill.Info
	sentences []Construct
	handle    HandlerFunc
}

// NewSkill returns a skill scoring inputs against sentences. It fails when
// there are no sentences, when handle is nil, or when a sentence does not
// pass [Validate].
func NewSkill(info skill.Info, sentences []Construct, handle HandlerFunc) (*Skill, error) {
	if len(sentences) == 0 {
		return nil, fmt.Errorf("standard: skill %q: no sentences", info.ID)
	}
	if handle == nil {
		return nil, fmt.Errorf("standard: skill %q: nil handler", info.ID)
	}
	var errs []error
	for i, s := range sentences {
		if s == nil {
			errs = append(errs, fmt.Errorf("sentence %d is nil", i))
			continue
		}
		if err := Validate(s); err != nil {
			errs = append(errs, fmt.Errorf("sentence %d: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("standard: skill %q: %w", info.ID, err)
	}
	return &Skill{
		info:      info,
		sentences: append([]Construct(nil), sentences...),
		handle:    handle,
	}, nil
}

// Info implements [skill.Skill].
func (s *Skill) Info() skill.Info { return s.info }

// Sentences returns a copy of the compiled patterns.
func (s *Skill) Sentences() []Construct { return append([]Construct(nil), s.sentences...) }

// Score implements [skill.Skill]. It returns the best [Score] over all
// sentences; on ties the earlier sentence wins.
func (s *Skill) Score(_ skill.Context, in skill.Input) skill.Score {
	var best *Score
	for _, c := range s.sentences {
		kept := KeepBest(best, Match(c, in))
		best = &kept
	}
	return *best
}

// GenerateOutput implements [skill.Skill]. score must be the value Score
// returned for in.
func (s *Skill) GenerateOutput(ctx context.Context, sctx skill.Context, in skill.Input, score skill.Score) (skill.Output, error) {
	sc, ok := score.(Score)
	if !ok {
		return nil, fmt.Errorf("standard: skill %q: score of type %T", s.info.ID, score)
	}
	return s.handle(ctx, sctx, Result{Input: in, Score: sc})
}

// Vocabulary returns the literal texts of every sentence, deduplicated, in
// pattern order.
func (s *Skill) Vocabulary() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range s.sentences {
		for _, w := range Vocabulary(c) {
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}
