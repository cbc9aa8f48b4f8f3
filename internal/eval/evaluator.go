package eval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/text/language"

	"github.com/intensifier/dicio/internal/history"
	"github.com/intensifier/dicio/internal/observe"
	"github.com/intensifier/dicio/internal/transcript"
	"github.com/intensifier/dicio/pkg/skill"
)

// ErrNoUtterance is returned by [Evaluator.Evaluate] when every alternative
// is blank.
var ErrNoUtterance = errors.New("eval: no utterance")

// defaultMaxInteractions bounds the in-memory interaction log.
const defaultMaxInteractions = 100

// Option configures an [Evaluator].
type Option func(*Evaluator)

// WithCorrector enables phonetic correction of utterances against the
// vocabulary of the active skills. Corrected variants are tried after the
// original alternatives.
func WithCorrector(p transcript.Pipeline) Option {
	return func(e *Evaluator) {
		e.corrector = p
	}
}

// WithHistory persists every answered utterance to s.
func WithHistory(s history.Store) Option {
	return func(e *Evaluator) {
		e.history = s
	}
}

// WithMetrics overrides the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

// WithMaxInteractions bounds how many interactions the in-memory log keeps.
// Older interactions are dropped first.
func WithMaxInteractions(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxInteractions = n
		}
	}
}

// Evaluator turns input events into skill invocations and keeps the
// interaction log. Evaluations are serialized: a second utterance waits
// until the first has been answered and the batch stack updated.
type Evaluator struct {
	ranker    *Ranker
	sctx      skill.Context
	corrector transcript.Pipeline
	history   history.Store
	metrics   *observe.Metrics

	maxInteractions int

	// evalMu serializes Evaluate so that ranking and the stack update that
	// follows the skill's output happen atomically.
	evalMu sync.Mutex

	// mu guards log.
	mu  sync.Mutex
	log InteractionLog
}

// New creates an Evaluator that ranks with r and runs skills in sctx.
func New(r *Ranker, sctx skill.Context, opts ...Option) *Evaluator {
	e := &Evaluator{
		ranker:          r,
		sctx:            sctx,
		maxInteractions: defaultMaxInteractions,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Ranker returns the ranker the evaluator uses.
func (e *Evaluator) Ranker() *Ranker { return e.ranker }

// SetLocale changes the language skills answer in. It takes effect from the
// next evaluation.
func (e *Evaluator) SetLocale(tag language.Tag) {
	e.evalMu.Lock()
	e.sctx.Locale = tag
	e.evalMu.Unlock()
}

// SetCorrector replaces the transcript corrector. A nil p disables
// correction.
func (e *Evaluator) SetCorrector(p transcript.Pipeline) {
	e.evalMu.Lock()
	e.corrector = p
	e.evalMu.Unlock()
}

// State returns a snapshot of the interaction log.
func (e *Evaluator) State() InteractionLog {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.clone()
}

// Process handles one event from the speech-to-text frontend. Only
// [FinalEvent] triggers an evaluation; its error is that of [Evaluator.Evaluate].
func (e *Evaluator) Process(ctx context.Context, event InputEvent) error {
	switch ev := event.(type) {
	case PartialEvent:
		e.mu.Lock()
		e.log.Pending = &PendingQuestion{
			UserInput:                ev.Utterance,
			ContinuesLastInteraction: e.ranker.HasAnyBatches(),
		}
		e.mu.Unlock()
		return nil

	case FinalEvent:
		_, err := e.Evaluate(ctx, ev.Utterances)
		return err

	case ErrorEvent:
		observe.Logger(ctx).Warn("eval: listening failed", "err", ev.Err)
		e.mu.Lock()
		e.addInteractionFromPendingLocked(QuestionAnswer{Err: ev.Err})
		e.mu.Unlock()
		return nil

	case NoneEvent:
		e.mu.Lock()
		e.log.Pending = nil
		e.mu.Unlock()
		return nil

	default:
		return fmt.Errorf("eval: process: unknown event %T", event)
	}
}

// Evaluate answers the utterance whose recognized alternatives are
// utterances, most likely first.
//
// Each alternative is ranked in turn and the first one a skill recognizes
// wins; when none is recognized the fallback skill answers the first
// alternative. The chosen skill's speech output is spoken, and its next
// skills are pushed onto the stack (or the stack is reset when it has
// none). A failing handler is recorded as an error answer in the log and
// reported through [Outcome.Err]; the returned error is reserved for
// cancellation and blank input.
func (e *Evaluator) Evaluate(ctx context.Context, utterances []string) (Outcome, error) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, observe.SpanEvaluate)
	defer span.End()

	alternatives := nonBlank(utterances)
	if len(alternatives) == 0 {
		e.mu.Lock()
		e.log.Pending = nil
		e.mu.Unlock()
		e.metrics.RecordEvaluation(ctx, "", observe.OutcomeNoMatch, time.Since(start))
		observe.Logger(ctx).Debug("eval: blank utterance ignored")
		return Outcome{}, ErrNoUtterance
	}

	e.mu.Lock()
	e.log.Pending = &PendingQuestion{
		UserInput:                alternatives[0],
		ContinuesLastInteraction: e.ranker.HasAnyBatches(),
	}
	e.mu.Unlock()

	match, err := e.rank(ctx, e.candidates(ctx, alternatives))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.mu.Lock()
		e.log.Pending = nil
		e.mu.Unlock()
		return Outcome{}, err
	}

	info := match.Skill.Info()
	out := Outcome{
		Question:   match.Input.Text,
		Skill:      info,
		Fallback:   match.Fallback,
		Confidence: match.Score.ScoreIn01Range(),
	}
	span.SetAttributes(observe.EvaluationAttributes(info.ID, match.Fallback, out.Confidence, len(alternatives))...)

	e.mu.Lock()
	e.log.Pending = &PendingQuestion{
		UserInput:                match.Input.Text,
		ContinuesLastInteraction: e.ranker.HasAnyBatches(),
		SkillBeingEvaluated:      &info,
	}
	out.Continues = e.log.Pending.ContinuesLastInteraction
	e.mu.Unlock()

	output, err := match.GenerateOutput(ctx, e.sctx)
	if err != nil {
		out.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordSkillError(ctx, info.ID)
		e.metrics.RecordEvaluation(ctx, info.ID, observe.OutcomeError, time.Since(start))
		observe.Logger(ctx).Error("eval: skill failed", "skill", info.ID, "question", out.Question, "err", err)

		e.mu.Lock()
		e.addInteractionFromPendingLocked(QuestionAnswer{Question: out.Question, Err: err})
		e.mu.Unlock()
		e.persist(ctx, out)
		return out, nil
	}

	out.Answer = output.SpeechOutput(e.sctx)
	e.mu.Lock()
	e.addInteractionFromPendingLocked(QuestionAnswer{Question: out.Question, Answer: out.Answer})
	e.mu.Unlock()

	if strings.TrimSpace(out.Answer) != "" && e.sctx.Speech != nil {
		if err := e.sctx.Speech.Speak(ctx, out.Answer); err != nil {
			observe.Logger(ctx).Warn("eval: speak failed", "skill", info.ID, "err", err)
		}
	}

	// The fallback never ends a conversation: the user may retry the
	// question the pushed batch was waiting for.
	if next := output.NextSkills(e.sctx); len(next) == 0 {
		if !match.Fallback {
			e.ranker.RemoveAllBatches()
		}
	} else {
		e.ranker.AddBatchToTop(next)
	}
	depth := e.ranker.Depth()

	outcome := observe.OutcomeMatched
	if match.Fallback {
		outcome = observe.OutcomeFallback
	}
	e.metrics.RecordEvaluation(ctx, info.ID, outcome, time.Since(start))
	e.metrics.RecordBatchDepth(ctx, depth)
	e.persist(ctx, out)

	observe.Logger(ctx).Info("eval: answered",
		"skill", info.ID,
		"fallback", match.Fallback,
		"confidence", out.Confidence,
		"batch_depth", depth,
		"duration", time.Since(start),
	)
	return out, nil
}

// candidates returns the inputs to rank: the alternatives as recognized,
// then their phonetically corrected variants that differ from every
// alternative.
func (e *Evaluator) candidates(ctx context.Context, alternatives []string) []skill.Input {
	inputs := make([]skill.Input, 0, len(alternatives))
	seen := make(map[string]struct{}, len(alternatives))
	for _, a := range alternatives {
		seen[a] = struct{}{}
		inputs = append(inputs, skill.NewInput(a))
	}
	if e.corrector == nil {
		return inputs
	}

	vocabulary := e.ranker.Vocabulary()
	corrections := 0
	for _, a := range alternatives {
		ct, err := e.corrector.Correct(ctx, a, vocabulary)
		if err != nil {
			observe.Logger(ctx).Warn("eval: transcript correction failed", "err", err)
			continue
		}
		if !ct.Changed() {
			continue
		}
		if _, dup := seen[ct.Corrected]; dup {
			continue
		}
		seen[ct.Corrected] = struct{}{}
		corrections += len(ct.Corrections)
		inputs = append(inputs, skill.NewInput(ct.Corrected))
		observe.Logger(ctx).Debug("eval: corrected utterance", "original", a, "corrected", ct.Corrected)
	}
	e.metrics.RecordCorrections(ctx, corrections)
	return inputs
}

// rank returns the first candidate's non-fallback match, or the fallback's
// answer to the first candidate.
func (e *Evaluator) rank(ctx context.Context, inputs []skill.Input) (*Match, error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanRank)
	defer span.End()

	start := time.Now()
	defer func() { e.metrics.RecordMatch(ctx, time.Since(start)) }()

	for _, in := range inputs {
		m, err := e.ranker.Best(ctx, e.sctx, in)
		if err != nil {
			return nil, err
		}
		if m != nil && !m.Fallback {
			return m, nil
		}
	}
	observe.Logger(ctx).Debug("eval: no skill matched, using fallback", "utterance", inputs[0].Text)
	return e.ranker.Fallback(e.sctx, inputs[0]), nil
}

// addInteractionFromPendingLocked appends qa to the log, continuing the last
// interaction when the pending question said so. e.mu must be held.
func (e *Evaluator) addInteractionFromPendingLocked(qa QuestionAnswer) {
	pending := e.log.Pending
	e.log.Pending = nil

	continues := e.ranker.HasAnyBatches()
	var info *skill.Info
	if pending != nil {
		continues = pending.ContinuesLastInteraction
		info = cloneInfo(pending.SkillBeingEvaluated)
		if qa.Question == "" {
			qa.Question = pending.UserInput
		}
	}

	if n := len(e.log.Interactions); continues && n > 0 {
		last := &e.log.Interactions[n-1]
		last.QuestionsAnswers = append(last.QuestionsAnswers, qa)
		return
	}
	e.log.Interactions = append(e.log.Interactions, Interaction{
		Skill:            info,
		QuestionsAnswers: []QuestionAnswer{qa},
	})
	if over := len(e.log.Interactions) - e.maxInteractions; over > 0 {
		e.log.Interactions = append([]Interaction(nil), e.log.Interactions[over:]...)
	}
}

// persist writes out to the history store, if any. Failures are only
// logged.
func (e *Evaluator) persist(ctx context.Context, out Outcome) {
	if e.history == nil {
		return
	}
	r := history.NewRecord()
	r.SkillID = out.Skill.ID
	r.Question = out.Question
	r.Answer = out.Answer
	r.Continues = out.Continues
	r.Fallback = out.Fallback
	r.Confidence = out.Confidence
	if out.Err != nil {
		r.Error = out.Err.Error()
	}
	if err := e.history.Append(ctx, r); err != nil {
		observe.Logger(ctx).Warn("eval: persist history failed", "err", err)
	}
}

// nonBlank returns the trimmed, non-empty alternatives in order.
func nonBlank(utterances []string) []string {
	out := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}
