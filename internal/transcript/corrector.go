package transcript

import (
	"context"
	"fmt"
	"strings"

	"github.com/intensifier/dicio/internal/transcript/phonetic"
	"github.com/intensifier/dicio/pkg/skill/words"
)

// PipelineOption is a functional option for configuring a [CorrectionPipeline].
type PipelineOption func(*CorrectionPipeline)

// WithPhoneticMatcher attaches the phonetic stage. Without it the pipeline
// returns every utterance unchanged.
func WithPhoneticMatcher(m PhoneticMatcher) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.phonetic = m
	}
}

// CorrectionPipeline is the [Pipeline] implementation. It is safe for
// concurrent use.
type CorrectionPipeline struct {
	phonetic PhoneticMatcher
}

var _ Pipeline = (*CorrectionPipeline)(nil)

// NewPipeline constructs a [CorrectionPipeline] with the supplied options.
func NewPipeline(opts ...PipelineOption) *CorrectionPipeline {
	p := &CorrectionPipeline{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Correct tokenises text and, at each word, tries word windows from the
// longest vocabulary term length down to one. The longest window that
// matches a term with at least as many words is replaced by it. Windows
// that already equal a term after normalization are kept as heard and not
// reported.
func (p *CorrectionPipeline) Correct(ctx context.Context, text string, vocabulary []string) (*CorrectedTranscript, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("transcript: correct: %w", err)
	}
	result := &CorrectedTranscript{
		Original:    text,
		Corrected:   text,
		Corrections: []Correction{},
	}
	if p.phonetic == nil || len(vocabulary) == 0 {
		return result, nil
	}

	ws := words.Extract(text)
	if len(ws) == 0 {
		return result, nil
	}

	var matchFn func(string) (string, float64, bool)
	var maxWords int
	if pm, ok := p.phonetic.(*phonetic.Matcher); ok {
		v := phonetic.Prepare(vocabulary)
		maxWords = v.MaxWords()
		matchFn = func(window string) (string, float64, bool) {
			return pm.MatchPrepared(window, v)
		}
	} else {
		maxWords = maxWordCount(vocabulary)
		matchFn = func(window string) (string, float64, bool) {
			return p.phonetic.Match(window, vocabulary)
		}
	}
	if maxWords == 0 {
		return result, nil
	}

	// Rebuild the text keeping every separator that is not inside a
	// replaced window.
	var b strings.Builder
	last := 0
	for i := 0; i < len(ws); {
		n := min(maxWords, len(ws)-i)
		consumed := 1
		for ; n >= 1; n-- {
			start, end := ws[i].Start, ws[i+n-1].End
			window := text[start:end]
			term, conf, ok := matchFn(window)
			if !ok || (n > 1 && len(words.Extract(term)) < n) {
				continue
			}
			consumed = n
			if normalizedEqual(window, term) {
				break
			}
			b.WriteString(text[last:start])
			b.WriteString(term)
			last = end
			result.Corrections = append(result.Corrections, Correction{
				Original:   window,
				Corrected:  term,
				Confidence: conf,
				Method:     "phonetic",
			})
			break
		}
		i += consumed
	}
	b.WriteString(text[last:])
	result.Corrected = b.String()
	return result, nil
}

func normalizedEqual(a, b string) bool {
	return joinNormalized(a) == joinNormalized(b)
}

func joinNormalized(s string) string {
	ws := words.Extract(s)
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = w.Normalized
	}
	return strings.Join(parts, " ")
}

// maxWordCount returns the word count of the longest term.
func maxWordCount(vocabulary []string) int {
	n := 0
	for _, t := range vocabulary {
		n = max(n, len(words.Extract(t)))
	}
	return n
}
