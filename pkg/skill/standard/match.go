package standard

import (
	"fmt"
	"math"
	"strings"

	"github.com/intensifier/dicio/pkg/skill"
	"github.com/intensifier/dicio/pkg/skill/words"
)

// unreachable marks DP cells no alignment can reach. Its value is -Inf and
// stays -Inf under any addition, so KeepBest never prefers it.
var unreachable = Score{RefWeight: math.Inf(1)}

func isReachable(s Score) bool { return !math.IsInf(s.RefWeight, 1) }

// matchInput holds the per-utterance tables shared by every construct of one
// match. It is read-only during matching.
type matchInput struct {
	words []words.Word
	// lower holds strings.ToLower of every original word, for
	// diacritics-sensitive comparisons.
	lower []string
	// wordAt[p] is the index of the word starting at byte p, or -1.
	wordAt []int
	// cumulative[p] is the input weight of text[:p].
	cumulative []float64
	// wordEnds lists the distinct word end positions in increasing order.
	wordEnds []int
}

func newMatchInput(in skill.Input) *matchInput {
	n := len(in.Text)
	mi := &matchInput{
		words:      in.Words,
		lower:      make([]string, len(in.Words)),
		wordAt:     make([]int, n+1),
		cumulative: words.RuneWeights(in.Text, in.Words),
		wordEnds:   make([]int, 0, len(in.Words)),
	}
	for p := range mi.wordAt {
		mi.wordAt[p] = -1
	}
	for i, w := range in.Words {
		mi.lower[i] = strings.ToLower(w.Original)
		mi.wordAt[w.Start] = i
		mi.wordEnds = append(mi.wordEnds, w.End)
	}
	return mi
}

// Match aligns pattern c with in and returns the best score of matching the
// whole pattern against the input from its start. Trailing input the pattern
// does not reach is ignored at no cost.
//
// Match is a pure function and safe for concurrent use.
func Match(c Construct, in skill.Input) Score {
	mi := newMatchInput(in)
	mem := make([]Score, len(in.Text)+1)
	matchToEnd(c, mem, mi)
	normalizeMemToEnd(mem, mi.cumulative)
	return mem[0]
}

// matchToEnd transforms mem, where mem[p] is the best score of matching
// "what follows c" against text[p:], into the array for "c followed by what
// follows c".
func matchToEnd(c Construct, mem []Score, mi *matchInput) {
	switch c := c.(type) {
	case *Literal:
		matchWord(mem, mi, c.weight, func(wi int) bool {
			if c.diacriticsSensitive {
				return mi.lower[wi] == c.text
			}
			return mi.words[wi].Normalized == c.text
		})
	case *Regex:
		matchWord(mem, mi, c.weight, func(wi int) bool {
			if c.diacriticsSensitive {
				return c.re.MatchString(mi.lower[wi])
			}
			return c.re.MatchString(mi.words[wi].Normalized)
		})
	case *Optional:
		skipped := append([]Score(nil), mem...)
		matchToEnd(c.inner, mem, mi)
		absent := absentScore(c)
		for p := range mem {
			if isReachable(skipped[p]) {
				mem[p] = KeepBest(&mem[p], skipped[p].Plus(absent))
			}
		}
		normalizeMemToEnd(mem, mi.cumulative)
	case *Capture:
		matchCapture(c, mem, mi)
	case *Sequence:
		for i := len(c.items) - 1; i >= 0; i-- {
			matchToEnd(c.items[i], mem, mi)
		}
	default:
		panic(fmt.Sprintf("standard: unknown construct %T", c))
	}
}

// matchWord handles one single-word construct of reference weight w. The
// array is visited left to right so mem[word.End] still holds the value from
// before this construct when mem[start] is rewritten.
func matchWord(mem []Score, mi *matchInput, w float64, matches func(wi int) bool) {
	for start := range mem {
		skip := mem[start].add(0, 0, 0, w)
		if !isReachable(mem[start]) {
			skip = mem[start]
		}
		if wi := mi.wordAt[start]; wi >= 0 && matches(wi) {
			end := mi.words[wi].End
			if isReachable(mem[end]) {
				userWeight := mi.cumulative[end] - mi.cumulative[start]
				matched := mem[end].add(userWeight, userWeight, w, w)
				matched.lead = start + 1
				mem[start] = KeepBest(&matched, skip)
				continue
			}
		}
		mem[start] = skip
	}
	normalizeMemToEnd(mem, mi.cumulative)
}

// normalizeMemToEnd lets every position reach the best continuation further
// right by skipping input, charging the skipped input weight to the user
// side. Applying it twice changes nothing.
func normalizeMemToEnd(mem []Score, cumulative []float64) {
	for p := len(mem) - 2; p >= 0; p-- {
		next := mem[p+1]
		if !isReachable(next) {
			continue
		}
		mem[p] = KeepBest(&mem[p], next.add(0, cumulative[p+1]-cumulative[p], 0, 0))
	}
}

// matchCapture runs the inner construct once per possible span end. For a
// span [start, end) the candidate is the inner alignment that consumed at
// least one word, followed by the previous mem[end]; the recorded span begins
// at the first word the inner alignment consumed. Not capturing anything
// costs the inner construct's empty alignment.
func matchCapture(c *Capture, mem []Score, mi *matchInput) {
	following := append([]Score(nil), mem...)
	empty := emptyScore(c.inner)

	best := make([]*Score, len(mem))
	span := make([]Score, len(mem))
	for _, end := range mi.wordEnds {
		if !isReachable(following[end]) {
			continue
		}
		for p := range span {
			span[p] = unreachable
		}
		span[end] = Score{}
		matchToEnd(c.inner, span, mi)

		for start := 0; start < end; start++ {
			inner := span[start]
			if !isReachable(inner) || inner.lead == 0 {
				continue
			}
			leaf := RangeCapture{Name: c.name, Start: inner.lead - 1, End: end}
			candidate := following[end].Plus(Score{
				UserMatched: inner.UserMatched,
				UserWeight:  inner.UserWeight,
				RefMatched:  inner.RefMatched,
				RefWeight:   inner.RefWeight,
				Captures:    joinCaptures(inner.Captures, leaf),
			})
			candidate.lead = inner.lead
			kept := KeepBest(best[start], candidate)
			best[start] = &kept
		}
	}

	for p := range mem {
		skip := following[p]
		if isReachable(skip) {
			skip = skip.Plus(empty)
			skip.lead = following[p].lead
		}
		mem[p] = KeepBest(best[p], skip)
	}
	normalizeMemToEnd(mem, mi.cumulative)
}

// emptyScore is the score c accumulates when aligned with no input at all.
// It does not depend on the position.
func emptyScore(c Construct) Score {
	switch c := c.(type) {
	case *Literal:
		return Score{RefWeight: c.weight}
	case *Regex:
		return Score{RefWeight: c.weight}
	case *Optional:
		inner := emptyScore(c.inner)
		return KeepBest(&inner, absentScore(c))
	case *Capture:
		return emptyScore(c.inner)
	case *Sequence:
		var s Score
		for i := len(c.items) - 1; i >= 0; i-- {
			s = s.Plus(emptyScore(c.items[i]))
		}
		return s
	default:
		panic(fmt.Sprintf("standard: unknown construct %T", c))
	}
}

// absentScore is the score of leaving an optional construct out. The left
// out reference weight counts as matched, so an optional part never costs
// anything on the reference side and an utterance that omits it keeps full
// reference coverage.
func absentScore(o *Optional) Score {
	w := totalWeight(o.inner)
	return Score{RefMatched: w, RefWeight: w}
}

// totalWeight sums the reference weights of every word construct in c.
func totalWeight(c Construct) float64 {
	var w float64
	Walk(c, func(c Construct) bool {
		switch c := c.(type) {
		case *Literal:
			w += c.weight
		case *Regex:
			w += c.weight
		}
		return true
	})
	return w
}
