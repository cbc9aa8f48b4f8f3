// Package standard implements the standard sentence recognizer: a closed
// algebra of pattern constructs, the weighted [Score] of an alignment, and
// the dynamic-programming [Match] that finds the best alignment of a pattern
// with a tokenised utterance.
//
// Alignment positions are byte offsets into the utterance. Every rune inside
// a word weighs 1 and separators weigh nothing, so the user side of a score
// counts word runes. Input the pattern skips before or between matched words
// is charged to the user weight; input after the last matched word is free.
//
// A [Skill] bundles one or more compiled patterns with a handler and
// satisfies [skill.Skill].
package standard
