// Package transcript corrects speech-to-text output against the vocabulary
// of the active skills.
//
// Speech recognizers often mishear short command words ("tyme" for "time").
// The [Pipeline] rewrites such words to the closest vocabulary term with a
// [PhoneticMatcher]. Each [Correction] records what was replaced and how
// confident the match was, so callers can audit or ignore it.
//
// Implementations of both interfaces must be safe for concurrent use.
package transcript

import "context"

// Correction is a single substitution made by the pipeline.
type Correction struct {
	// Original is the text as heard.
	Original string

	// Corrected is the vocabulary term that replaced Original.
	Corrected string

	// Confidence is the similarity of the match in [0, 1].
	Confidence float64

	// Method names the stage that produced the substitution ("phonetic").
	Method string
}

// CorrectedTranscript is the output of [Pipeline.Correct].
type CorrectedTranscript struct {
	// Original is the utterance as received.
	Original string

	// Corrected is the utterance with every substitution applied. It equals
	// Original when nothing was corrected.
	Corrected string

	// Corrections lists the substitutions in order. Never nil.
	Corrections []Correction
}

// Changed reports whether any substitution was made.
func (c *CorrectedTranscript) Changed() bool { return len(c.Corrections) > 0 }

// Pipeline corrects an utterance against a vocabulary.
type Pipeline interface {
	// Correct returns a non-nil *CorrectedTranscript on success.
	Correct(ctx context.Context, text string, vocabulary []string) (*CorrectedTranscript, error)
}

// PhoneticMatcher resolves a word or short phrase to a vocabulary term based
// on pronunciation similarity. It must not block.
type PhoneticMatcher interface {
	// Match returns the closest term. When matched is false, corrected must
	// equal word and confidence must be 0.
	Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool)
}
