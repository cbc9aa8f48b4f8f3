package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/text/language"

	"github.com/intensifier/dicio/internal/eval"
	"github.com/intensifier/dicio/internal/health"
	"github.com/intensifier/dicio/internal/history"
	"github.com/intensifier/dicio/internal/observe"
	"github.com/intensifier/dicio/internal/sentences"
	"github.com/intensifier/dicio/internal/server"
	"github.com/intensifier/dicio/internal/skills"
	"github.com/intensifier/dicio/pkg/skill"
)

type fixture struct {
	eval    *eval.Evaluator
	history *history.FileStore
	handler http.Handler
}

// newFixture wires the built-in skills with the shipped sentences behind a
// server. The clock is fixed at 15:04 UTC.
func newFixture(t *testing.T, opts ...server.Option) *fixture {
	t.Helper()

	_, file, _, _ := runtime.Caller(0)
	set, err := sentences.Load(filepath.Join(filepath.Dir(file), "..", "..", "configs", "sentences.yaml"))
	if err != nil {
		t.Fatalf("load sentences: %v", err)
	}
	deps := skills.Deps{Sentences: set, Locale: language.English}
	batch, err := skills.Builtin().Batch(nil, deps)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	fallback, err := skills.NewFallback(deps)
	if err != nil {
		t.Fatalf("NewFallback: %v", err)
	}
	r, err := eval.NewRanker(batch, fallback)
	if err != nil {
		t.Fatalf("NewRanker: %v", err)
	}

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	store := history.NewFileStore(filepath.Join(t.TempDir(), "history.jsonl"))
	sctx := skill.Context{
		Locale: language.English,
		Now:    func() time.Time { return time.Date(2026, 3, 1, 15, 4, 0, 0, time.UTC) },
	}
	ev := eval.New(r, sctx, eval.WithHistory(store), eval.WithMetrics(metrics))

	opts = append([]server.Option{
		server.WithHistory(store),
		server.WithMetrics(metrics),
		server.WithScrapeHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		})),
	}, opts...)
	return &fixture{eval: ev, history: store, handler: server.New(ev, opts...).Handler()}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// outcome mirrors the JSON answer of POST /v1/utterances.
type outcome struct {
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	Error      string     `json:"error"`
	Skill      skill.Info `json:"skill"`
	Fallback   bool       `json:"fallback"`
	Confidence float64    `json:"confidence"`
	Continues  bool       `json:"continues"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestUtterance_Conversation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	steps := []struct {
		body      string
		wantSkill string
		want      string
		continues bool
	}{
		{`{"text": "what time is it"}`, skills.CurrentTimeID, "It is 3:04 PM", false},
		{`{"text": "hello"}`, skills.GreetingID, "Hello! What is your name?", false},
		{`{"text": "my name is Ada"}`, skills.GreetingNameID, "Nice to meet you, Ada!", true},
	}
	for _, step := range steps {
		rec := f.do(t, http.MethodPost, "/v1/utterances", step.body)
		if rec.Code != http.StatusOK {
			t.Fatalf("POST %s: status %d, body %s", step.body, rec.Code, rec.Body)
		}
		got := decode[outcome](t, rec)
		if got.Skill.ID != step.wantSkill || got.Answer != step.want || got.Continues != step.continues {
			t.Errorf("POST %s = %+v, want skill %q answer %q continues %v",
				step.body, got, step.wantSkill, step.want, step.continues)
		}
	}

	if d := f.eval.Ranker().Depth(); d != 0 {
		t.Errorf("stack depth after the conversation = %d, want 0", d)
	}
}

func TestUtterance_Alternatives(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/utterances", `{"alternatives": ["zzz qqq", "current time"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body)
	}
	got := decode[outcome](t, rec)
	if got.Skill.ID != skills.CurrentTimeID || got.Question != "current time" {
		t.Errorf("outcome = %+v, want current_time answering the second alternative", got)
	}
}

func TestUtterance_Fallback(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/utterances", `{"text": "order a pizza with pineapple"}`)
	got := decode[outcome](t, rec)
	if !got.Fallback || got.Answer != "Sorry, I did not understand" {
		t.Errorf("outcome = %+v, want the fallback answer", got)
	}
}

func TestUtterance_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"blank text", `{"text": "   "}`},
		{"empty body", ``},
		{"malformed json", `{"text": `},
		{"unknown field", `{"utterance": "hello"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, "/v1/utterances", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body)
			}
			if got := decode[map[string]string](t, rec); got["error"] == "" {
				t.Error("response has no error message")
			}
		})
	}
}

func TestUtterance_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if rec := f.do(t, http.MethodGet, "/v1/utterances", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /v1/utterances status = %d, want 405", rec.Code)
	}
}

func TestInteractions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.do(t, http.MethodPost, "/v1/utterances", `{"text": "hello"}`)
	f.do(t, http.MethodPost, "/v1/utterances", `{"text": "i am Grace"}`)

	rec := f.do(t, http.MethodGet, "/v1/interactions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	got := decode[eval.InteractionLog](t, rec)
	if len(got.Interactions) != 1 {
		t.Fatalf("interactions = %+v, want one continued interaction", got.Interactions)
	}
	var questions []string
	for _, qa := range got.Interactions[0].QuestionsAnswers {
		questions = append(questions, qa.Question)
	}
	if diff := cmp.Diff([]string{"hello", "i am Grace"}, questions); diff != "" {
		t.Errorf("questions mismatch (-want +got):\n%s", diff)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.do(t, http.MethodPost, "/v1/utterances", `{"text": "hello"}`)
	f.do(t, http.MethodPost, "/v1/utterances", `{"text": "current time"}`)

	rec := f.do(t, http.MethodGet, "/v1/history?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body)
	}
	got := decode[[]history.Record](t, rec)
	if len(got) != 1 || got[0].SkillID != skills.CurrentTimeID {
		t.Errorf("history = %+v, want only the newest current_time record", got)
	}

	if rec := f.do(t, http.MethodGet, "/v1/history?limit=-3", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", rec.Code)
	}
}

func TestHistory_Disabled(t *testing.T) {
	t.Parallel()

	r, err := eval.NewRanker(nil, noopFallback{})
	if err != nil {
		t.Fatalf("NewRanker: %v", err)
	}
	h := server.New(eval.New(r, skill.Context{})).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	hh := health.New(health.Checker{Name: "always", Check: func(context.Context) error { return nil }})
	f := newFixture(t, server.WithHealth(hh))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if rec := f.do(t, http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}

	hh.SetDraining()
	if rec := f.do(t, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /readyz while draining status = %d, want 503", rec.Code)
	}
}

// noopFallback accepts nothing and says nothing.
type noopFallback struct{}

type zeroScore struct{}

func (zeroScore) ScoreIn01Range() float64                         { return 0 }
func (zeroScore) IsBetterThan(skill.Score) bool                   { return false }
func (noopFallback) Info() skill.Info                             { return skill.Info{ID: "fallback"} }
func (noopFallback) Score(skill.Context, skill.Input) skill.Score { return zeroScore{} }
func (noopFallback) GenerateOutput(context.Context, skill.Context, skill.Input, skill.Score) (skill.Output, error) {
	return skill.TextOutput{}, nil
}
