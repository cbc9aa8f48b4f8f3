// Package words splits raw utterances into words and computes the
// diacritics- and case-insensitive form used by the sentence matcher.
//
// A word is a maximal run of letters, digits and combining marks. Everything
// else (whitespace, punctuation, symbols) separates words and is never part of
// a [Word]. Offsets are byte offsets into the original string, so
// input[w.Start:w.End] always equals w.Original.
//
// All functions are pure and safe for concurrent use.
package words

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Word is a single token of an utterance.
type Word struct {
	// Original is the surface form exactly as it appears in the input.
	Original string

	// Normalized is Original after NFKD decomposition, removal of nonspacing
	// marks and Unicode case folding ("Café" → "cafe").
	Normalized string

	// Start is the byte offset of the first byte of the word.
	Start int

	// End is the byte offset just past the last byte of the word.
	End int
}

// IsWordRune reports whether r can be part of a word.
func IsWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// Extract tokenises input into its words, in order of appearance.
// An input without any word rune yields a nil slice.
func Extract(input string) []Word {
	var out []Word
	start := -1
	for i, r := range input {
		if IsWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, newWord(input, start, i))
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, newWord(input, start, len(input)))
	}
	return out
}

func newWord(input string, start, end int) Word {
	original := input[start:end]
	return Word{
		Original:   original,
		Normalized: Normalize(original),
		Start:      start,
		End:        end,
	}
}

// Normalize returns the diacritics-free, case-folded form of s.
//
// A transformer chain is built per call because [transform.Transformer]
// values carry state and must not be shared between goroutines.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), cases.Fold(), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// RuneWeights returns, for every byte position p of input plus the final
// position len(input), the cumulative matching weight of input[:p]. Every
// rune belonging to a word weighs 1; separators weigh nothing. Positions in
// the middle of a multi-byte rune carry the same cumulative value as the
// rune start.
func RuneWeights(input string, ws []Word) []float64 {
	cumulative := make([]float64, len(input)+1)
	wi := 0
	for p := 0; p < len(input); {
		_, size := utf8.DecodeRuneInString(input[p:])
		for wi < len(ws) && ws[wi].End <= p {
			wi++
		}
		weight := 0.0
		if wi < len(ws) && ws[wi].Start <= p {
			weight = 1
		}
		for k := 1; k <= size; k++ {
			cumulative[p+k] = cumulative[p]
		}
		cumulative[p+size] += weight
		p += size
	}
	return cumulative
}
