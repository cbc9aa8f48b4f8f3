package standard_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/intensifier/dicio/pkg/skill"
	"github.com/intensifier/dicio/pkg/skill/standard"
)

func echoName(_ context.Context, _ skill.Context, res standard.Result) (skill.Output, error) {
	name, ok := res.Text("name")
	if !ok {
		return nil, errors.New("no name")
	}
	return skill.TextOutput{Speech: "hello " + name}, nil
}

func TestNewSkill_Errors(t *testing.T) {
	t.Parallel()

	info := skill.Info{ID: "bad"}
	dupCaptures := standard.NewSequence(
		standard.NewCapture("x", lit("a")),
		standard.NewCapture("x", lit("b")),
	)

	tests := []struct {
		name      string
		sentences []standard.Construct
		handle    standard.HandlerFunc
	}{
		{"no sentences", nil, echoName},
		{"nil handler", []standard.Construct{lit("a")}, nil},
		{"nil sentence", []standard.Construct{nil}, echoName},
		{"duplicate capture", []standard.Construct{dupCaptures}, echoName},
		{"negative weight", []standard.Construct{standard.NewLiteral("a", false, -1)}, echoName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := standard.NewSkill(info, tt.sentences, tt.handle); err == nil {
				t.Error("NewSkill: want error, got nil")
			}
		})
	}
}

func TestSkill_ScoreKeepsBestSentence(t *testing.T) {
	t.Parallel()

	s, err := standard.NewSkill(skill.Info{ID: "time"}, []standard.Construct{
		seq("what", "time", "is", "it"),
		seq("tell", "me", "the", "time"),
	}, echoName)
	if err != nil {
		t.Fatalf("NewSkill: %v", err)
	}

	in := skill.NewInput("tell me the time")
	got := s.Score(skill.Context{}, in)
	want := standard.Match(seq("tell", "me", "the", "time"), in)
	if got.ScoreIn01Range() != want.ScoreIn01Range() || got.ScoreIn01Range() != 1 {
		t.Errorf("Score = %v, want %v", got.ScoreIn01Range(), want.ScoreIn01Range())
	}
}

func TestSkill_GenerateOutput(t *testing.T) {
	t.Parallel()

	s, err := standard.NewSkill(skill.Info{ID: "greet"}, []standard.Construct{
		standard.NewSequence(lit("i"), lit("am"), standard.NewCapture("name", standard.MustRegex(`\p{L}+`, false, 1))),
	}, echoName)
	if err != nil {
		t.Fatalf("NewSkill: %v", err)
	}

	sctx := skill.Context{}
	in := skill.NewInput("I am Ada")
	out, err := s.GenerateOutput(context.Background(), sctx, in, s.Score(sctx, in))
	if err != nil {
		t.Fatalf("GenerateOutput: %v", err)
	}
	if got := out.SpeechOutput(sctx); got != "hello Ada" {
		t.Errorf("SpeechOutput = %q, want %q", got, "hello Ada")
	}

	if _, err := s.GenerateOutput(context.Background(), sctx, in, otherScore(1)); err == nil {
		t.Error("GenerateOutput with a foreign score: want error, got nil")
	}
}

func TestSkill_Vocabulary(t *testing.T) {
	t.Parallel()

	s, err := standard.NewSkill(skill.Info{ID: "v"}, []standard.Construct{
		seq("what", "time", "is", "it"),
		standard.NewSequence(lit("time"), standard.NewOptional(lit("Please")), standard.MustRegex(`x+`, false, 1)),
	}, echoName)
	if err != nil {
		t.Fatalf("NewSkill: %v", err)
	}

	want := []string{"what", "time", "is", "it", "please"}
	if diff := cmp.Diff(want, s.Vocabulary()); diff != "" {
		t.Errorf("Vocabulary() mismatch (-want +got):\n%s", diff)
	}
}
