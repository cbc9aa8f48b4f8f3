// Command dicio is the main entry point of the dicio assistant server.
//
// It serves the HTTP API and, with -repl, also answers lines typed on
// standard input. The configuration file and the sentence files it lists
// are watched and hot reloaded.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/intensifier/dicio/internal/app"
	"github.com/intensifier/dicio/internal/config"
	"github.com/intensifier/dicio/internal/observe"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	repl := flag.Bool("repl", false, "answer utterances typed on standard input; alternatives are separated by |")
	reloadInterval := flag.Duration("reload-interval", 5*time.Second, "how often the configuration files are checked for changes")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	level := &slog.LevelVar{}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Load configuration and watch it ───────────────────────────────────────
	// The watcher starts before the application exists; reloads seen in
	// between are dropped.
	var current atomic.Pointer[app.App]
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if a := current.Load(); a != nil {
			a.ApplyConfig(old, new)
		}
	}, config.WithInterval(*reloadInterval))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dicio: %v (copy configs/example.yaml to get started)\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "dicio: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	level.Set(cfg.Server.LogLevel.SlogLevel())

	slog.Info("dicio starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "dicio",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{app.WithLevelVar(level)}
	if *repl {
		opts = append(opts, app.WithSpeech(&app.WriterSpeech{W: os.Stdout}))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	current.Store(application)

	printStartupSummary(cfg, *repl)

	if *repl {
		if err := application.Console().Start(ctx, os.Stdin); err != nil {
			slog.Error("failed to start console", "err", err)
			return 1
		}
		go func() {
			application.Console().Wait()
			stop() // end of input shuts the server down too
		}()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	exitCode := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		exitCode = 1
	}
	stop()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exitCode = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exitCode
}

// printStartupSummary writes the effective configuration to standard error.
func printStartupSummary(cfg *config.Config, repl bool) {
	history := string(cfg.History.Backend)
	if history == "" {
		history = "(disabled)"
	}
	skills := "all"
	if n := len(cfg.Skills.Enabled); n > 0 {
		skills = fmt.Sprintf("%d enabled", n)
	}

	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║          dicio startup summary        ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Locale          : %-19s ║\n", cfg.Locale)
	fmt.Fprintf(w, "║  Sentence files  : %-19d ║\n", len(cfg.Sentences.Files))
	fmt.Fprintf(w, "║  Skills          : %-19s ║\n", skills)
	fmt.Fprintf(w, "║  Min score       : %-19.2f ║\n", cfg.Ranker.MinScoreOrDefault())
	fmt.Fprintf(w, "║  Phonetic        : %-19t ║\n", cfg.Transcript.Phonetic)
	fmt.Fprintf(w, "║  History         : %-19s ║\n", history)
	fmt.Fprintf(w, "║  Console         : %-19t ║\n", repl)
	fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}
