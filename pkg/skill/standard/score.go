package standard

import "github.com/intensifier/dicio/pkg/skill"

// Weights of the four partial-credit quantities in [Score.Value]. Matching
// contributes net positive, while weight that was only considered costs.
const (
	UM = 2.0
	UW = -1.1
	RM = 2.0
	RW = -1.1
)

// Compile-time check that Score satisfies [skill.Score].
var _ skill.Score = Score{}

// Score is the weighted, combinable result of aligning a pattern with an
// utterance. The zero value is the empty score: nothing matched, nothing
// considered, no captures.
type Score struct {
	// UserMatched is the input weight consumed by matched words.
	UserMatched float64
	// UserWeight is the input weight considered, matched or skipped.
	UserWeight float64
	// RefMatched is the pattern weight that found a matching word.
	RefMatched float64
	// RefWeight is the pattern weight considered, matched or skipped.
	RefWeight float64

	// Captures holds the capturing groups of the alignment.
	Captures Captures

	// lead is 1 + the input position of the leftmost word consumed by this
	// alignment, 0 when nothing has been consumed. It anchors capture spans.
	lead int
}

// Value is the linear score used to rank alignments of the same kind.
func (s Score) Value() float64 {
	return UM*s.UserMatched + UW*s.UserWeight + RM*s.RefMatched + RW*s.RefWeight
}

// ScoreIn01Range implements [skill.Score]. It is the harmonic mean of the
// matched ratios on the user and reference sides, and 0 whenever any of the
// four quantities is not positive.
//
// It throws away magnitude; never use it to rank two standard scores.
func (s Score) ScoreIn01Range() float64 {
	if s.UserMatched <= 0 || s.UserWeight <= 0 || s.RefMatched <= 0 || s.RefWeight <= 0 {
		return 0
	}
	return 2 / (s.UserWeight/s.UserMatched + s.RefWeight/s.RefMatched)
}

// IsBetterThan implements [skill.Score].
func (s Score) IsBetterThan(other skill.Score) bool {
	if o, ok := other.(Score); ok {
		return s.Value() > o.Value()
	}
	return s.ScoreIn01Range() > other.ScoreIn01Range()
}

// Plus combines two scores: numeric fields are summed and the capture trees
// become the pair (s, other). The shape of the tree depends on the order of
// combination, the numbers do not.
func (s Score) Plus(other Score) Score {
	lead := s.lead
	if lead == 0 {
		lead = other.lead
	}
	return Score{
		UserMatched: s.UserMatched + other.UserMatched,
		UserWeight:  s.UserWeight + other.UserWeight,
		RefMatched:  s.RefMatched + other.RefMatched,
		RefWeight:   s.RefWeight + other.RefWeight,
		Captures:    joinCaptures(s.Captures, other.Captures),
		lead:        lead,
	}
}

// add sums the given quantities into a copy of s, keeping its captures.
func (s Score) add(userMatched, userWeight, refMatched, refWeight float64) Score {
	s.UserMatched += userMatched
	s.UserWeight += userWeight
	s.RefMatched += refMatched
	s.RefWeight += refWeight
	return s
}

// KeepBest returns candidate when current is nil or candidate scores
// strictly higher, and *current otherwise. Ties keep current.
func KeepBest(current *Score, candidate Score) Score {
	if current == nil || candidate.Value() > current.Value() {
		return candidate
	}
	return *current
}
