// Package skill defines the contracts shared by every recognizer, the skill
// ranker and the evaluation pipeline.
//
// A [Skill] couples a recognizer (which turns an [Input] into a [Score]) with
// the handler that produces an [Output] once the skill has been chosen. Scores
// of different recognizer kinds are comparable through
// [Score.ScoreIn01Range]; scores of the same kind compare through their own,
// richer ordering in [Score.IsBetterThan].
package skill

import (
	"context"
	"time"

	"golang.org/x/text/language"

	"github.com/intensifier/dicio/pkg/skill/words"
)

// Score is the result of recognizing an [Input] with one skill.
//
// Implementations must be immutable values.
type Score interface {
	// ScoreIn01Range maps the score into [0, 1]. It is only meant for
	// comparisons across different score kinds and for confidence floors.
	ScoreIn01Range() float64

	// IsBetterThan reports whether the receiver is strictly better than
	// other. Scores of the same kind use their native ordering, other
	// kinds fall back to ScoreIn01Range.
	IsBetterThan(other Score) bool
}

// Input is one utterance together with its words.
type Input struct {
	// Text is the raw utterance. Word offsets index into Text.
	Text string

	// Words holds the tokenised form of Text.
	Words []words.Word
}

// NewInput tokenises text into an [Input].
func NewInput(text string) Input {
	return Input{Text: text, Words: words.Extract(text)}
}

// Info identifies a skill.
type Info struct {
	// ID is the stable identifier used in sentence files and configuration
	// (e.g. "current_time").
	ID string `json:"id"`

	// Name is a human-readable label.
	Name string `json:"name"`
}

// SpeechOutputDevice speaks text to the user. The text-to-speech engine
// behind it is outside this module.
type SpeechOutputDevice interface {
	Speak(ctx context.Context, text string) error
}

// Context carries the environment skills run in.
type Context struct {
	// Locale is the user's language.
	Locale language.Tag

	// Speech receives the speech output of every answer. May be nil.
	Speech SpeechOutputDevice

	// Now returns the current time. Nil means [time.Now].
	Now func() time.Time
}

// Time returns the current time according to c.Now.
func (c Context) Time() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Output is what a skill produces once it has been chosen.
type Output interface {
	// SpeechOutput returns the text to speak. Blank means silent.
	SpeechOutput(sctx Context) string

	// NextSkills returns the skills able to continue the conversation. An
	// empty result ends the conversation.
	NextSkills(sctx Context) []Skill
}

// Skill recognizes utterances and answers them.
//
// Score must be a pure function of its arguments: the ranker calls it
// concurrently for all skills of a batch.
type Skill interface {
	Info() Info
	Score(sctx Context, in Input) Score
	GenerateOutput(ctx context.Context, sctx Context, in Input, score Score) (Output, error)
}

// TextOutput is the plain [Output]: a fixed speech text and an optional list
// of follow-up skills.
type TextOutput struct {
	Speech string
	Next   []Skill
}

// SpeechOutput implements [Output].
func (o TextOutput) SpeechOutput(Context) string { return o.Speech }

// NextSkills implements [Output].
func (o TextOutput) NextSkills(Context) []Skill { return o.Next }
