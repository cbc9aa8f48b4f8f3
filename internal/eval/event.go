package eval

import (
	"encoding/json"

	"github.com/intensifier/dicio/pkg/skill"
)

// InputEvent is something the speech-to-text frontend reports about the
// user's utterance. It is one of [PartialEvent], [FinalEvent], [ErrorEvent]
// or [NoneEvent].
type InputEvent interface {
	inputEvent()
}

// PartialEvent carries the recognizer's current guess while the user is
// still speaking.
type PartialEvent struct {
	Utterance string
}

// FinalEvent carries the final alternatives of an utterance, most likely
// first.
type FinalEvent struct {
	Utterances []string
}

// ErrorEvent reports that listening failed.
type ErrorEvent struct {
	Err error
}

// NoneEvent reports that the user said nothing.
type NoneEvent struct{}

func (PartialEvent) inputEvent() {}
func (FinalEvent) inputEvent()   {}
func (ErrorEvent) inputEvent()   {}
func (NoneEvent) inputEvent()    {}

// ─── Interaction log ─────────────────────────────────────────────────────────

// QuestionAnswer is one exchange between the user and a skill. Err is set
// instead of Answer when listening or the skill failed.
type QuestionAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
	Err      error  `json:"-"`
}

// MarshalJSON encodes Err as its message under "error".
func (qa QuestionAnswer) MarshalJSON() ([]byte, error) {
	out := struct {
		Question string `json:"question"`
		Answer   string `json:"answer,omitempty"`
		Error    string `json:"error,omitempty"`
	}{Question: qa.Question, Answer: qa.Answer}
	if qa.Err != nil {
		out.Error = qa.Err.Error()
	}
	return json.Marshal(out)
}

// Interaction groups the exchanges of one conversation with one skill
// (and the skills it handed over to).
type Interaction struct {
	Skill            *skill.Info      `json:"skill,omitempty"`
	QuestionsAnswers []QuestionAnswer `json:"questions_answers"`
}

// PendingQuestion is the utterance currently being listened to or
// evaluated.
type PendingQuestion struct {
	UserInput string `json:"user_input"`

	// ContinuesLastInteraction is true when the answer will be appended to
	// the last interaction instead of starting a new one.
	ContinuesLastInteraction bool `json:"continues_last_interaction"`

	// SkillBeingEvaluated is nil until a skill has been chosen.
	SkillBeingEvaluated *skill.Info `json:"skill_being_evaluated,omitempty"`
}

// InteractionLog is the conversation history shown to the user.
type InteractionLog struct {
	Interactions []Interaction    `json:"interactions"`
	Pending      *PendingQuestion `json:"pending,omitempty"`
}

// clone returns a copy of l that shares no mutable state with it.
func (l InteractionLog) clone() InteractionLog {
	out := InteractionLog{Interactions: make([]Interaction, len(l.Interactions))}
	for i, in := range l.Interactions {
		out.Interactions[i] = Interaction{
			Skill:            cloneInfo(in.Skill),
			QuestionsAnswers: append([]QuestionAnswer(nil), in.QuestionsAnswers...),
		}
	}
	if l.Pending != nil {
		p := *l.Pending
		p.SkillBeingEvaluated = cloneInfo(p.SkillBeingEvaluated)
		out.Pending = &p
	}
	return out
}

func cloneInfo(info *skill.Info) *skill.Info {
	if info == nil {
		return nil
	}
	c := *info
	return &c
}

// Outcome describes how [Evaluator.Evaluate] answered one utterance.
type Outcome struct {
	// Question is the utterance alternative that was answered.
	Question string

	// Answer is the spoken text, possibly empty.
	Answer string

	// Err is the handler error, if any.
	Err error

	// Skill is the skill that answered. Zero when nothing matched.
	Skill skill.Info

	// Fallback is true when the fallback skill answered.
	Fallback bool

	// Confidence is the winning score mapped into [0, 1].
	Confidence float64

	// Continues reports whether this utterance continued the previous
	// interaction, that is whether a pushed batch was waiting for it.
	Continues bool
}
