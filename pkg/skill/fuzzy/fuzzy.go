// Package fuzzy implements a recognizer that compares an utterance with a
// list of example phrases using Jaro-Winkler string similarity.
//
// It is meant for short, fixed commands ("stop", "never mind") where a full
// sentence pattern would be overkill. Its [Score] is a different kind from
// the standard matcher's, so the two only compare through
// [skill.Score.ScoreIn01Range].
package fuzzy

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/intensifier/dicio/pkg/skill"
	"github.com/intensifier/dicio/pkg/skill/words"
)

// Compile-time checks.
var (
	_ skill.Score = Score{}
	_ skill.Skill = (*Skill)(nil)
)

// Score is the similarity of an utterance to the closest example phrase.
type Score struct {
	// Similarity is the Jaro-Winkler similarity in [0, 1].
	Similarity float64

	// Phrase is the example phrase that produced Similarity.
	Phrase string
}

// ScoreIn01Range implements [skill.Score].
func (s Score) ScoreIn01Range() float64 { return s.Similarity }

// IsBetterThan implements [skill.Score].
func (s Score) IsBetterThan(other skill.Score) bool {
	return s.Similarity > other.ScoreIn01Range()
}

// WordThreshold is the Jaro-Winkler similarity every utterance word must
// reach against the phrase word it is aligned with.
const WordThreshold = 0.9

// Recognizer scores inputs against normalized example phrases. It is
// read-only after construction and safe for concurrent use.
type Recognizer struct {
	phrases [][]string
}

// NewRecognizer returns a recognizer for the given phrases. Phrases are
// normalized the way input words are; blank phrases are dropped.
func NewRecognizer(phrases ...string) *Recognizer {
	r := &Recognizer{}
	for _, p := range phrases {
		if ws := normalizedWords(words.Extract(p)); len(ws) > 0 {
			r.phrases = append(r.phrases, ws)
		}
	}
	return r
}

// Phrases returns the normalized example phrases.
func (r *Recognizer) Phrases() []string {
	out := make([]string, len(r.phrases))
	for i, p := range r.phrases {
		out[i] = strings.Join(p, " ")
	}
	return out
}

// Score returns the best similarity of in to any example phrase. An empty
// input scores 0.
//
// Words are compared pairwise, so a phrase only matches an utterance with
// the same number of words, each at least [WordThreshold] similar to its
// counterpart. Utterances whose words are split or joined differently
// ("nevermind") are compared with the spaces removed, scaled by the length
// ratio of the two strings.
func (r *Recognizer) Score(in skill.Input) Score {
	ws := normalizedWords(in.Words)
	if len(ws) == 0 {
		return Score{}
	}
	var best Score
	for _, p := range r.phrases {
		if sim := similarity(ws, p); sim > best.Similarity {
			best = Score{Similarity: sim, Phrase: strings.Join(p, " ")}
		}
	}
	return best
}

// similarity scores utterance words u against phrase words p.
func similarity(u, p []string) float64 {
	if len(u) == len(p) {
		sum := 0.0
		for i := range u {
			sim := matchr.JaroWinkler(u[i], p[i], false)
			if sim < WordThreshold {
				return 0
			}
			sum += sim
		}
		return sum / float64(len(u))
	}

	a, b := strings.Join(u, ""), strings.Join(p, "")
	sim := matchr.JaroWinkler(a, b, false)
	if sim < WordThreshold {
		return 0
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	return sim * float64(min(la, lb)) / float64(max(la, lb))
}

func normalizedWords(ws []words.Word) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		if w.Normalized != "" {
			out = append(out, w.Normalized)
		}
	}
	return out
}

// HandlerFunc produces the output of a fuzzy skill once it has been chosen.
type HandlerFunc func(ctx context.Context, sctx skill.Context, in skill.Input, score Score) (skill.Output, error)

// Skill is a [skill.Skill] backed by a [Recognizer].
type Skill struct {
	info   skill.Info
	rec    *Recognizer
	handle HandlerFunc
}

// NewSkill returns a skill recognizing phrases. It fails without phrases or
// without a handler.
func NewSkill(info skill.Info, rec *Recognizer, handle HandlerFunc) (*Skill, error) {
	if rec == nil || len(rec.phrases) == 0 {
		return nil, fmt.Errorf("fuzzy: skill %q: no phrases", info.ID)
	}
	if handle == nil {
		return nil, fmt.Errorf("fuzzy: skill %q: nil handler", info.ID)
	}
	return &Skill{info: info, rec: rec, handle: handle}, nil
}

// Info implements [skill.Skill].
func (s *Skill) Info() skill.Info { return s.info }

// Score implements [skill.Skill].
func (s *Skill) Score(_ skill.Context, in skill.Input) skill.Score { return s.rec.Score(in) }

// GenerateOutput implements [skill.Skill].
func (s *Skill) GenerateOutput(ctx context.Context, sctx skill.Context, in skill.Input, score skill.Score) (skill.Output, error) {
	sc, ok := score.(Score)
	if !ok {
		return nil, fmt.Errorf("fuzzy: skill %q: score of type %T", s.info.ID, score)
	}
	return s.handle(ctx, sctx, in, sc)
}

// Vocabulary returns the words of all example phrases.
func (s *Skill) Vocabulary() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range s.rec.phrases {
		for _, w := range p {
			if _, dup := seen[w]; !dup {
				seen[w] = struct{}{}
				out = append(out, w)
			}
		}
	}
	return out
}
