// Package phonetic implements [transcript.PhoneticMatcher] with Double
// Metaphone codes and Jaro-Winkler similarity.
//
// A vocabulary term becomes a candidate for a heard word when any Double
// Metaphone code of the word's tokens overlaps with a code of the term's
// tokens. Candidates are ranked by Jaro-Winkler similarity on the normalized
// strings and accepted above the phonetic threshold. When no term sounds
// alike, a second pass accepts pure Jaro-Winkler matches above the stricter
// fuzzy threshold.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/intensifier/dicio/pkg/skill/words"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a term that
// sounds like the heard word. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term that
// does not sound like the heard word. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type term struct {
	text       string
	normalized string
	tokens     []string
	codes      map[string]struct{}
}

// Vocabulary is a set of terms with their phonetic codes computed once.
type Vocabulary struct {
	terms    []term
	maxWords int
}

// Prepare computes the phonetic data of every term. Blank terms are dropped.
func Prepare(vocabulary []string) *Vocabulary {
	v := &Vocabulary{terms: make([]term, 0, len(vocabulary))}
	for _, t := range vocabulary {
		tokens := normalizedTokens(t)
		if len(tokens) == 0 {
			continue
		}
		v.terms = append(v.terms, term{
			text:       t,
			normalized: strings.Join(tokens, " "),
			tokens:     tokens,
			codes:      codesForTokens(tokens),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// MaxWords returns the word count of the longest term, 0 when empty.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Match returns the vocabulary term that best matches word. When matched is
// false corrected equals word and confidence is 0.
func (m *Matcher) Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool) {
	return m.MatchPrepared(word, Prepare(vocabulary))
}

// MatchPrepared is [Matcher.Match] over a prepared vocabulary.
func (m *Matcher) MatchPrepared(word string, v *Vocabulary) (corrected string, confidence float64, matched bool) {
	tokens := normalizedTokens(word)
	if v == nil || len(v.terms) == 0 || len(tokens) == 0 {
		return word, 0, false
	}
	full := strings.Join(tokens, " ")
	codes := codesForTokens(tokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range v.terms {
		score := bestJWScore(tokens, t.tokens, full, t.normalized)
		if codesOverlap(codes, t.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t.text, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t.text, score
		}
	}
	if best == "" {
		return word, 0, false
	}
	return best, bestScore, true
}

func normalizedTokens(s string) []string {
	ws := words.Extract(s)
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Normalized
	}
	return out
}

// codesForTokens returns the union of the non-empty Double Metaphone codes of
// tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the Jaro-Winkler similarity of the full strings or, when
// either side is a phrase, of the strings with spaces removed, whichever is
// higher. "never mind" and "nevermind" thus score 1.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		joined := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(termTokens, ""), false)
		score = max(score, joined)
	}
	return score
}
