package skills

import (
	"context"
	"fmt"

	"github.com/intensifier/dicio/pkg/skill"
	"github.com/intensifier/dicio/pkg/skill/fuzzy"
	"github.com/intensifier/dicio/pkg/skill/standard"
)

// ─── current_time ────────────────────────────────────────────────────────────

// NewCurrentTime builds the skill that speaks the current time, e.g. "It is
// 3:04 PM". The layout follows the context's locale.
func NewCurrentTime(deps Deps) (skill.Skill, error) {
	return newStandard(deps, CurrentTimeID, "Current time",
		func(_ context.Context, sctx skill.Context, _ standard.Result) (skill.Output, error) {
			m := messagesFor(sctx.Locale)
			return skill.TextOutput{
				Speech: fmt.Sprintf(m.timeIs, formatTime(sctx.Locale, sctx.Time())),
			}, nil
		})
}

// ─── greeting ────────────────────────────────────────────────────────────────

// NewGreeting builds the greeting conversation: it greets the user, asks
// for their name and pushes the greeting_name skill to hear the answer.
func NewGreeting(deps Deps) (skill.Skill, error) {
	name, err := newStandard(deps, GreetingNameID, "Greeting name",
		func(_ context.Context, sctx skill.Context, res standard.Result) (skill.Output, error) {
			m := messagesFor(sctx.Locale)
			if n, ok := res.Text("name"); ok && n != "" {
				return skill.TextOutput{Speech: fmt.Sprintf(m.niceToMeet, n)}, nil
			}
			return skill.TextOutput{Speech: m.niceToMeetNo}, nil
		})
	if err != nil {
		return nil, err
	}

	return newStandard(deps, GreetingID, "Greeting",
		func(_ context.Context, sctx skill.Context, _ standard.Result) (skill.Output, error) {
			return skill.TextOutput{
				Speech: messagesFor(sctx.Locale).greeting,
				Next:   []skill.Skill{name},
			}, nil
		})
}

// ─── stop ────────────────────────────────────────────────────────────────────

// stopPhrases are the example phrases of the stop skill.
var stopPhrases = []string{"stop", "cancel", "never mind", "nothing", "forget it"}

// NewStop builds the skill that ends any conversation. It recognizes its
// phrases fuzzily, so it needs no sentences.
func NewStop(Deps) (skill.Skill, error) {
	s, err := fuzzy.NewSkill(skill.Info{ID: StopID, Name: "Stop"}, fuzzy.NewRecognizer(stopPhrases...),
		func(_ context.Context, sctx skill.Context, _ skill.Input, _ fuzzy.Score) (skill.Output, error) {
			return skill.TextOutput{Speech: messagesFor(sctx.Locale).stopped}, nil
		})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ─── fallback ────────────────────────────────────────────────────────────────

// NewFallback builds the skill answering utterances no other skill
// recognized. Its sentences are optional: without any it uses the empty
// pattern, which accepts everything.
func NewFallback(deps Deps) (skill.Skill, error) {
	patterns := []standard.Construct{standard.NewSequence()}
	if deps.Sentences != nil {
		if p, err := deps.Sentences.Sentences(FallbackID); err == nil {
			patterns = p
		}
	}
	s, err := standard.NewSkill(skill.Info{ID: FallbackID, Name: "Fallback"}, patterns,
		func(_ context.Context, sctx skill.Context, _ standard.Result) (skill.Output, error) {
			return skill.TextOutput{Speech: messagesFor(sctx.Locale).notUnderstood}, nil
		})
	if err != nil {
		return nil, fmt.Errorf("skills: fallback: %w", err)
	}
	return s, nil
}

// newStandard builds a standard skill from the sentences of id.
func newStandard(deps Deps, id, name string, handle standard.HandlerFunc) (skill.Skill, error) {
	if deps.Sentences == nil {
		return nil, fmt.Errorf("skills: %q: no sentences loaded", id)
	}
	patterns, err := deps.Sentences.Sentences(id)
	if err != nil {
		return nil, fmt.Errorf("skills: %w", err)
	}
	s, err := standard.NewSkill(skill.Info{ID: id, Name: name}, patterns, handle)
	if err != nil {
		return nil, err
	}
	return s, nil
}
