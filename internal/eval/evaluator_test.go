package eval_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/intensifier/dicio/internal/eval"
	"github.com/intensifier/dicio/internal/observe"
	"github.com/intensifier/dicio/internal/transcript"
	"github.com/intensifier/dicio/pkg/skill"
)

// conversation wires a greeting skill that asks for a name and pushes a
// name skill answering it.
type conversation struct {
	greeting *fakeSkill
	name     *fakeSkill
	clock    *fakeSkill
	fallback *alwaysSkill
	speech   *recordingSpeech
	history  *memoryHistory
	ranker   *eval.Ranker
	eval     *eval.Evaluator
}

func newConversation(t *testing.T, opts ...eval.Option) *conversation {
	t.Helper()
	c := &conversation{
		name: &fakeSkill{
			id:     "greeting_name",
			scores: map[string]float64{"my name is ada": 0.9},
			speech: "nice to meet you",
		},
		clock: &fakeSkill{
			id:     "current_time",
			scores: map[string]float64{"what time is it": 0.95},
			speech: "it is noon",
			vocab:  []string{"what", "time", "is", "it"},
		},
		fallback: always("fallback", 0),
		speech:   &recordingSpeech{},
		history:  &memoryHistory{},
	}
	c.greeting = &fakeSkill{
		id:     "greeting",
		scores: map[string]float64{"hello": 1},
		speech: "hello, what is your name?",
		next:   []skill.Skill{c.name},
	}
	c.fallback.speech = "sorry, I did not understand"
	c.ranker = newRanker(t, []skill.Skill{c.greeting, c.clock}, c.fallback)
	opts = append([]eval.Option{eval.WithHistory(c.history), eval.WithMetrics(testMetrics(t))}, opts...)
	c.eval = eval.New(c.ranker, skill.Context{Speech: c.speech}, opts...)
	return c
}

func (c *conversation) say(t *testing.T, utterances ...string) eval.Outcome {
	t.Helper()
	out, err := c.eval.Evaluate(context.Background(), utterances)
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", utterances, err)
	}
	return out
}

func TestEvaluate_Conversation(t *testing.T) {
	t.Parallel()
	c := newConversation(t)

	out := c.say(t, "hello")
	if out.Skill.ID != "greeting" || out.Answer != "hello, what is your name?" || out.Fallback || out.Continues {
		t.Errorf("first outcome = %+v", out)
	}
	if c.ranker.Depth() != 1 {
		t.Fatalf("Depth after greeting = %d, want 1", c.ranker.Depth())
	}

	out = c.say(t, "my name is ada")
	if out.Skill.ID != "greeting_name" || !out.Continues {
		t.Errorf("second outcome = %+v", out)
	}
	if c.ranker.Depth() != 0 {
		t.Errorf("Depth after answer = %d, want 0", c.ranker.Depth())
	}

	state := c.eval.State()
	if state.Pending != nil {
		t.Errorf("Pending = %+v, want nil", state.Pending)
	}
	if len(state.Interactions) != 1 {
		t.Fatalf("Interactions = %+v, want one continued interaction", state.Interactions)
	}
	want := []eval.QuestionAnswer{
		{Question: "hello", Answer: "hello, what is your name?"},
		{Question: "my name is ada", Answer: "nice to meet you"},
	}
	if diff := cmp.Diff(want, state.Interactions[0].QuestionsAnswers); diff != "" {
		t.Errorf("QuestionsAnswers mismatch (-want +got):\n%s", diff)
	}
	if s := state.Interactions[0].Skill; s == nil || s.ID != "greeting" {
		t.Errorf("interaction skill = %+v, want greeting", s)
	}

	if diff := cmp.Diff([]string{"hello, what is your name?", "nice to meet you"}, c.speech.texts()); diff != "" {
		t.Errorf("spoken mismatch (-want +got):\n%s", diff)
	}

	recent, _ := c.history.Recent(context.Background(), 0)
	if len(recent) != 2 || recent[0].SkillID != "greeting_name" || !recent[0].Continues || recent[1].SkillID != "greeting" {
		t.Errorf("history = %+v", recent)
	}
}

func TestEvaluate_AbandonedConversation(t *testing.T) {
	t.Parallel()
	c := newConversation(t)

	c.say(t, "hello")
	out := c.say(t, "what time is it")
	if out.Skill.ID != "current_time" {
		t.Errorf("outcome = %+v, want current_time", out)
	}
	if c.ranker.Depth() != 0 {
		t.Errorf("Depth = %d, want 0", c.ranker.Depth())
	}
}

func TestEvaluate_FallbackKeepsStack(t *testing.T) {
	t.Parallel()
	c := newConversation(t)

	c.say(t, "hello")
	out := c.say(t, "blah blah")
	if !out.Fallback || out.Skill.ID != "fallback" || out.Answer != "sorry, I did not understand" {
		t.Errorf("outcome = %+v, want fallback", out)
	}
	if c.ranker.Depth() != 1 {
		t.Errorf("Depth after fallback = %d, want 1", c.ranker.Depth())
	}

	// The pushed batch still answers.
	if out := c.say(t, "my name is ada"); out.Skill.ID != "greeting_name" {
		t.Errorf("outcome = %+v, want greeting_name", out)
	}
}

func TestEvaluate_FallbackAnswersFirstAlternative(t *testing.T) {
	t.Parallel()
	c := newConversation(t)

	out := c.say(t, "  ", "foo", "bar")
	if !out.Fallback || out.Question != "foo" {
		t.Errorf("outcome = %+v, want fallback on foo", out)
	}
	if got := c.fallback.invocations(); len(got) != 1 || got[0] != "foo" {
		t.Errorf("fallback invoked with %q", got)
	}
}

func TestEvaluate_LaterAlternativeWins(t *testing.T) {
	t.Parallel()
	c := newConversation(t)

	out := c.say(t, "what thyme is it", "what time is it")
	if out.Skill.ID != "current_time" || out.Question != "what time is it" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestEvaluate_HandlerError(t *testing.T) {
	t.Parallel()
	c := newConversation(t)
	boom := errors.New("boom")
	c.clock.err = boom

	c.say(t, "hello")
	out := c.say(t, "what time is it")
	if !errors.Is(out.Err, boom) || out.Answer != "" {
		t.Errorf("outcome = %+v, want handler error", out)
	}
	state := c.eval.State()
	last := state.Interactions[len(state.Interactions)-1]
	qa := last.QuestionsAnswers[len(last.QuestionsAnswers)-1]
	if !errors.Is(qa.Err, boom) || qa.Question != "what time is it" {
		t.Errorf("last answer = %+v, want error", qa)
	}
	data, err := json.Marshal(qa)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got, want := string(data), `{"question":"what time is it","error":"boom"}`; got != want {
		t.Errorf("JSON = %s, want %s", got, want)
	}

	recent, _ := c.history.Recent(context.Background(), 1)
	if len(recent) != 1 || recent[0].Error != "boom" {
		t.Errorf("history = %+v", recent)
	}
	if got := c.speech.texts(); len(got) != 1 {
		t.Errorf("spoken = %q, want only the greeting", got)
	}
}

// Not parallel: it replaces the global tracer provider.
func TestEvaluate_Span(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})

	c := newConversation(t)
	out := c.say(t, "what dime is it", "what time is it")

	var evalSpan *tracetest.SpanStub
	for _, s := range exp.GetSpans() {
		if s.Name == observe.SpanEvaluate {
			evalSpan = &s
		}
	}
	if evalSpan == nil {
		t.Fatalf("no %s span among %d spans", observe.SpanEvaluate, len(exp.GetSpans()))
	}
	got := map[attribute.Key]string{}
	for _, kv := range evalSpan.Attributes {
		got[kv.Key] = kv.Value.Emit()
	}
	want := map[attribute.Key]string{
		observe.AttrSkill:        "current_time",
		observe.AttrFallback:     "false",
		observe.AttrConfidence:   attribute.Float64Value(out.Confidence).Emit(),
		observe.AttrAlternatives: "2",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("span attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_SilentOutputNotSpoken(t *testing.T) {
	t.Parallel()
	c := newConversation(t)
	c.clock.speech = "   "

	c.say(t, "what time is it")
	if got := c.speech.texts(); len(got) != 0 {
		t.Errorf("spoken = %q, want nothing", got)
	}
}

func TestEvaluate_NoUtterance(t *testing.T) {
	t.Parallel()
	c := newConversation(t)

	for _, in := range [][]string{nil, {""}, {" ", "\t"}} {
		if _, err := c.eval.Evaluate(context.Background(), in); !errors.Is(err, eval.ErrNoUtterance) {
			t.Errorf("Evaluate(%q) error = %v, want ErrNoUtterance", in, err)
		}
	}
	if n := len(c.eval.State().Interactions); n != 0 {
		t.Errorf("Interactions = %d, want 0", n)
	}
}

func TestEvaluate_CancelledContext(t *testing.T) {
	t.Parallel()
	c := newConversation(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.eval.Evaluate(ctx, []string{"hello"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Evaluate error = %v, want context.Canceled", err)
	}
	if st := c.eval.State(); st.Pending != nil || len(st.Interactions) != 0 {
		t.Errorf("state after cancel = %+v", st)
	}
}

// fixedCorrector rewrites whole utterances through a table.
type fixedCorrector map[string]string

func (f fixedCorrector) Correct(_ context.Context, text string, _ []string) (*transcript.CorrectedTranscript, error) {
	ct := &transcript.CorrectedTranscript{Original: text, Corrected: text, Corrections: []transcript.Correction{}}
	if c, ok := f[text]; ok {
		ct.Corrected = c
		ct.Corrections = append(ct.Corrections, transcript.Correction{Original: text, Corrected: c, Confidence: 0.9, Method: "phonetic"})
	}
	return ct, nil
}

func TestEvaluate_CorrectedVariant(t *testing.T) {
	t.Parallel()
	c := newConversation(t, eval.WithCorrector(fixedCorrector{"what tyme is it": "what time is it"}))

	out := c.say(t, "what tyme is it")
	if out.Skill.ID != "current_time" || out.Question != "what time is it" {
		t.Errorf("outcome = %+v, want current_time on the corrected text", out)
	}
}

func TestEvaluate_OriginalBeatsCorrection(t *testing.T) {
	t.Parallel()
	c := newConversation(t, eval.WithCorrector(fixedCorrector{"hello": "what time is it"}))

	if out := c.say(t, "hello"); out.Skill.ID != "greeting" {
		t.Errorf("outcome = %+v, want greeting", out)
	}
}

func TestEvaluator_SetCorrector(t *testing.T) {
	t.Parallel()
	c := newConversation(t)

	if out := c.say(t, "what tyme is it"); !out.Fallback {
		t.Fatalf("outcome without corrector = %+v, want fallback", out)
	}
	c.eval.SetCorrector(fixedCorrector{"what tyme is it": "what time is it"})
	if out := c.say(t, "what tyme is it"); out.Skill.ID != "current_time" {
		t.Errorf("outcome with corrector = %+v, want current_time", out)
	}
	c.eval.SetCorrector(nil)
	if out := c.say(t, "what tyme is it"); !out.Fallback {
		t.Errorf("outcome after removing corrector = %+v, want fallback", out)
	}
}

func TestEvaluate_MaxInteractions(t *testing.T) {
	t.Parallel()
	c := newConversation(t, eval.WithMaxInteractions(2))

	for _, q := range []string{"what time is it", "x", "what time is it"} {
		c.say(t, q)
	}
	state := c.eval.State()
	if len(state.Interactions) != 2 {
		t.Fatalf("Interactions = %d, want 2", len(state.Interactions))
	}
	if q := state.Interactions[0].QuestionsAnswers[0].Question; q != "x" {
		t.Errorf("oldest kept question = %q, want x", q)
	}
}

func TestProcess_Events(t *testing.T) {
	t.Parallel()
	c := newConversation(t)
	ctx := context.Background()

	if err := c.eval.Process(ctx, eval.PartialEvent{Utterance: "hel"}); err != nil {
		t.Fatalf("Process(partial): %v", err)
	}
	if p := c.eval.State().Pending; p == nil || p.UserInput != "hel" || p.ContinuesLastInteraction {
		t.Errorf("Pending = %+v", p)
	}

	if err := c.eval.Process(ctx, eval.NoneEvent{}); err != nil {
		t.Fatalf("Process(none): %v", err)
	}
	if p := c.eval.State().Pending; p != nil {
		t.Errorf("Pending after none = %+v", p)
	}

	if err := c.eval.Process(ctx, eval.FinalEvent{Utterances: []string{"hello"}}); err != nil {
		t.Fatalf("Process(final): %v", err)
	}

	if err := c.eval.Process(ctx, eval.PartialEvent{Utterance: "my na"}); err != nil {
		t.Fatalf("Process(partial): %v", err)
	}
	if p := c.eval.State().Pending; p == nil || !p.ContinuesLastInteraction {
		t.Errorf("Pending during conversation = %+v, want continuing", p)
	}

	listenErr := errors.New("microphone unplugged")
	if err := c.eval.Process(ctx, eval.ErrorEvent{Err: listenErr}); err != nil {
		t.Fatalf("Process(error): %v", err)
	}
	state := c.eval.State()
	if len(state.Interactions) != 1 {
		t.Fatalf("Interactions = %+v, want the error appended to the greeting", state.Interactions)
	}
	qas := state.Interactions[0].QuestionsAnswers
	last := qas[len(qas)-1]
	if !errors.Is(last.Err, listenErr) || last.Question != "my na" {
		t.Errorf("last answer = %+v", last)
	}
	if state.Pending != nil {
		t.Errorf("Pending after error = %+v", state.Pending)
	}
}

func TestState_ReturnsCopy(t *testing.T) {
	t.Parallel()
	c := newConversation(t)
	c.say(t, "hello")

	snap := c.eval.State()
	snap.Interactions[0].QuestionsAnswers[0].Answer = "changed"
	snap.Interactions[0].Skill.ID = "changed"

	again := c.eval.State()
	if again.Interactions[0].QuestionsAnswers[0].Answer == "changed" || again.Interactions[0].Skill.ID == "changed" {
		t.Error("State shares memory with the evaluator")
	}
}
