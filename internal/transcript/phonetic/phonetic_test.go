package phonetic_test

import (
	"testing"

	"github.com/intensifier/dicio/internal/transcript/phonetic"
)

var vocabulary = []string{"what", "time", "is", "it", "weather", "never mind"}

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	tests := []struct {
		name    string
		word    string
		want    string
		matched bool
		minConf float64
	}{
		{"exact", "time", "time", true, 1},
		{"case and accents", "TÍME", "time", true, 1},
		{"sounds alike", "tyme", "time", true, 0.7},
		{"phrase without space", "nevermind", "never mind", true, 0.85},
		{"unrelated", "hello", "hello", false, 0},
		{"empty", "", "", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			corrected, conf, matched := m.Match(tt.word, vocabulary)
			if matched != tt.matched {
				t.Fatalf("Match(%q): matched=%v, want %v", tt.word, matched, tt.matched)
			}
			if corrected != tt.want {
				t.Errorf("Match(%q): corrected=%q, want %q", tt.word, corrected, tt.want)
			}
			if !matched && conf != 0 {
				t.Errorf("Match(%q): confidence=%f, want 0 when unmatched", tt.word, conf)
			}
			if conf < tt.minConf {
				t.Errorf("Match(%q): confidence=%f, want >= %f", tt.word, conf, tt.minConf)
			}
		})
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	if _, _, matched := m.Match("tyme", vocabulary); matched {
		t.Fatal("Match with threshold=0.99 should reject near-matches, got matched=true")
	}
}

func TestMatcher_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, conf, matched := m.Match("time", nil)
	if matched || corrected != "time" || conf != 0 {
		t.Errorf("Match with nil vocabulary = %q, %f, %v; want original, 0, false", corrected, conf, matched)
	}
	if _, _, matched := m.MatchPrepared("time", nil); matched {
		t.Error("MatchPrepared with nil vocabulary: matched=true")
	}
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	v := phonetic.Prepare([]string{"what", "", "  ", "never mind", "turn the lights on"})
	if v.Len() != 3 {
		t.Errorf("Len() = %d, want 3", v.Len())
	}
	if v.MaxWords() != 4 {
		t.Errorf("MaxWords() = %d, want 4", v.MaxWords())
	}
	if phonetic.Prepare(nil).MaxWords() != 0 {
		t.Error("empty vocabulary MaxWords() != 0")
	}
}
