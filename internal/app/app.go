// Package app wires the dicio subsystems into a running assistant.
//
// The App struct owns the full lifecycle: New loads the sentences, builds the
// skills and connects the history store, Run serves the HTTP API until its
// context is done, and Shutdown tears everything down in order. ApplyConfig
// is the hot reload entry point for a [config.Watcher].
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithSpeech, WithClock, ...). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/intensifier/dicio/internal/config"
	"github.com/intensifier/dicio/internal/eval"
	"github.com/intensifier/dicio/internal/health"
	"github.com/intensifier/dicio/internal/history"
	"github.com/intensifier/dicio/internal/history/postgres"
	"github.com/intensifier/dicio/internal/observe"
	"github.com/intensifier/dicio/internal/resilience"
	"github.com/intensifier/dicio/internal/sentences"
	"github.com/intensifier/dicio/internal/server"
	"github.com/intensifier/dicio/internal/skills"
	"github.com/intensifier/dicio/internal/transcript"
	"github.com/intensifier/dicio/internal/transcript/phonetic"
	"github.com/intensifier/dicio/pkg/skill"
)

// App owns all subsystem lifetimes of the assistant.
type App struct {
	// mu guards cfg.
	mu  sync.Mutex
	cfg *config.Config

	registry *skills.Registry
	speech   skill.SpeechOutputDevice
	now      func() time.Time
	levelVar *slog.LevelVar
	metrics  *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	ranker    *eval.Ranker
	evaluator *eval.Evaluator
	history   history.Store
	health    *health.Handler
	server    *server.Server
	console   *Console

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from
// config. The App does not close an injected store.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithSpeech sets the device answers are spoken on. Default: every answer is
// logged at info level.
func WithSpeech(d skill.SpeechOutputDevice) Option {
	return func(a *App) { a.speech = d }
}

// WithClock sets the clock skills read the time from.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithLevelVar lets ApplyConfig change the level of the logger that owns v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithRegistry replaces the built-in skill registry.
func WithRegistry(r *skills.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must have been
// validated, as [config.Load] does.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = skills.Builtin()
	}
	if a.speech == nil {
		a.speech = logSpeech{}
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Skills ────────────────────────────────────────────────────────
	locale, err := language.Parse(cfg.Locale)
	if err != nil {
		return nil, fmt.Errorf("app: parse locale: %w", err)
	}
	batch, fallback, err := a.buildSkills(cfg, locale)
	if err != nil {
		return nil, fmt.Errorf("app: build skills: %w", err)
	}

	// ── 2. Ranker ────────────────────────────────────────────────────────
	a.ranker, err = eval.NewRanker(batch, fallback,
		eval.WithMinScore(cfg.Ranker.MinScoreOrDefault()),
		eval.WithParallelism(cfg.Ranker.Parallelism),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 3. History ───────────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 4. Evaluator ─────────────────────────────────────────────────────
	evalOpts := []eval.Option{eval.WithMetrics(a.metrics)}
	if c := newCorrector(cfg.Transcript); c != nil {
		evalOpts = append(evalOpts, eval.WithCorrector(c))
	}
	if a.history != nil {
		evalOpts = append(evalOpts, eval.WithHistory(a.history))
	}
	sctx := skill.Context{Locale: locale, Speech: a.speech, Now: a.now}
	a.evaluator = eval.New(a.ranker, sctx, evalOpts...)

	// ── 5. HTTP API ──────────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)
	srvOpts := []server.Option{server.WithHealth(a.health), server.WithMetrics(a.metrics)}
	if a.history != nil {
		srvOpts = append(srvOpts, server.WithHistory(a.history))
	}
	a.server = server.New(a.evaluator, srvOpts...)

	a.console = NewConsole(a.evaluator)

	slog.Info("app: initialised",
		"skills", len(batch),
		"locale", locale,
		"min_score", cfg.Ranker.MinScoreOrDefault(),
		"phonetic", cfg.Transcript.Phonetic,
		"history", historyBackendName(cfg.History.Backend),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// buildSkills loads the sentence files and creates the default batch and
// the fallback skill.
func (a *App) buildSkills(cfg *config.Config, locale language.Tag) ([]skill.Skill, skill.Skill, error) {
	set, err := sentences.LoadFiles(cfg.Sentences.Files...)
	if err != nil {
		return nil, nil, err
	}
	deps := skills.Deps{Sentences: set, Locale: locale}

	batch, err := a.registry.Batch(cfg.Skills.Enabled, deps)
	if err != nil {
		return nil, nil, err
	}
	fallback, err := skills.NewFallback(deps)
	if err != nil {
		return nil, nil, err
	}
	return batch, fallback, nil
}

// initHistory opens the configured history backend unless one was injected.
func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}

	switch a.cfg.History.Backend {
	case config.HistoryFile:
		a.history = history.NewFileStore(a.cfg.History.Path)

	case config.HistoryPostgres:
		if path := a.cfg.History.FallbackPath; path != "" {
			// With a spill file the database may be down at startup; the
			// store connects and migrates once it is reachable.
			store, err := postgres.Open(a.cfg.History.PostgresDSN)
			if err != nil {
				return err
			}
			if err := store.Ping(ctx); err != nil {
				slog.Warn("app: history database unreachable, spilling to file", "fallback_path", path, "err", err)
			}
			fo := history.NewFailoverStore("postgres", store, resilience.BreakerConfig{})
			fo.Add("file", history.NewFileStore(path))
			a.history = fo
			a.closers = append(a.closers, fo.Close)
			return nil
		}
		store, err := postgres.NewStore(ctx, a.cfg.History.PostgresDSN)
		if err != nil {
			return err
		}
		a.history = store
		a.closers = append(a.closers, store.Close)

	default:
		slog.Debug("app: history persistence disabled")
	}
	return nil
}

// pinger is implemented by history stores that can report their health.
type pinger interface {
	Ping(ctx context.Context) error
}

// checkers returns the readiness checks of the App's dependencies.
func (a *App) checkers() []health.Checker {
	var checks []health.Checker
	if p, ok := a.history.(pinger); ok {
		checks = append(checks, health.Checker{Name: "history", Check: p.Ping})
	}
	return checks
}

// newCorrector returns the transcript pipeline of tc, or nil when phonetic
// correction is disabled.
func newCorrector(tc config.TranscriptConfig) transcript.Pipeline {
	if !tc.Phonetic {
		return nil
	}
	var opts []phonetic.Option
	if tc.PhoneticThreshold > 0 {
		opts = append(opts, phonetic.WithPhoneticThreshold(tc.PhoneticThreshold))
	}
	if tc.FuzzyThreshold > 0 {
		opts = append(opts, phonetic.WithFuzzyThreshold(tc.FuzzyThreshold))
	}
	return transcript.NewPipeline(transcript.WithPhoneticMatcher(phonetic.New(opts...)))
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Evaluator returns the evaluator answering utterances.
func (a *App) Evaluator() *eval.Evaluator { return a.evaluator }

// Console returns the console session manager.
func (a *App) Console() *Console { return a.console }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Config returns the config currently applied.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies a reloaded config. It has the signature of a
// [config.Watcher] callback.
//
// Skills are always rebuilt because the watcher also reports changes to the
// sentence files' contents. Pushed conversation batches are kept. If the
// new skills cannot be built the old ones stay active while the other
// settings still apply. Settings that need a restart are only logged.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.SlogLevel())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.RankerChanged {
		a.ranker.SetMinScore(d.NewMinScore)
		slog.Info("app: min score changed", "min_score", d.NewMinScore)
	}
	if d.TranscriptChanged {
		a.evaluator.SetCorrector(newCorrector(new.Transcript))
		slog.Info("app: transcript correction changed", "phonetic", new.Transcript.Phonetic)
	}

	locale, err := language.Parse(new.Locale)
	if err != nil {
		slog.Error("app: reload: invalid locale", "locale", new.Locale, "err", err)
		return
	}
	if d.LocaleChanged {
		a.evaluator.SetLocale(locale)
		slog.Info("app: locale changed", "locale", locale)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: changed settings apply after a restart", "settings", d.RestartRequired)
	}

	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()

	batch, fallback, err := a.buildSkills(new, locale)
	if err != nil {
		slog.Error("app: reload: failed to rebuild skills, keeping the old ones", "err", err)
		return
	}
	a.ranker.SetDefaultBatch(batch)
	a.ranker.SetFallback(fallback)
	slog.Info("app: skills reloaded", "skills", len(batch))
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API on the configured listen address and blocks until
// ctx is done. It then marks the App as draining and shuts the server down
// within the configured shutdown timeout. Run returns nil after a clean
// shutdown.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run but accepts connections on ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	cfg := a.Config()
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("app: serving HTTP API", "addr", ln.Addr().String(), "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.health.SetDraining()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the console session and closes all subsystems in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))
		a.health.SetDraining()

		if a.console.IsActive() {
			if err := a.console.Stop(); err != nil {
				slog.Warn("app: console stop error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func historyBackendName(b config.HistoryBackend) string {
	if b == config.HistoryNone {
		return "none"
	}
	return string(b)
}

// logSpeech speaks by logging the text.
type logSpeech struct{}

func (logSpeech) Speak(ctx context.Context, text string) error {
	observe.Logger(ctx).Info("app: speak", "text", text)
	return nil
}
