package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Relative file paths inside it are resolved against the
// directory of path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Relative paths are left as they are.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Locale
	if cfg.Locale != "" {
		if _, err := language.Parse(cfg.Locale); err != nil {
			errs = append(errs, fmt.Errorf("locale %q is invalid: %w", cfg.Locale, err))
		}
	}

	// Sentences
	if len(cfg.Sentences.Files) == 0 {
		errs = append(errs, errors.New("sentences.files must list at least one file"))
	}
	for i, f := range cfg.Sentences.Files {
		if f == "" {
			errs = append(errs, fmt.Errorf("sentences.files[%d] is empty", i))
		}
	}

	// Ranker
	if ms := cfg.Ranker.MinScoreOrDefault(); ms < 0 || ms > 1 {
		errs = append(errs, fmt.Errorf("ranker.min_score %.2f is out of range [0, 1]", ms))
	}
	if cfg.Ranker.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("ranker.parallelism %d must not be negative", cfg.Ranker.Parallelism))
	}

	// Skills
	seen := make(map[string]int, len(cfg.Skills.Enabled))
	for i, id := range cfg.Skills.Enabled {
		if id == "" {
			errs = append(errs, fmt.Errorf("skills.enabled[%d] is empty", i))
			continue
		}
		if prev, ok := seen[id]; ok {
			errs = append(errs, fmt.Errorf("skills.enabled[%d] %q is a duplicate of skills.enabled[%d]", i, id, prev))
		}
		seen[id] = i
	}

	// Transcript
	if v := cfg.Transcript.PhoneticThreshold; v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("transcript.phonetic_threshold %.2f is out of range [0, 1]", v))
	}
	if v := cfg.Transcript.FuzzyThreshold; v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("transcript.fuzzy_threshold %.2f is out of range [0, 1]", v))
	}
	if !cfg.Transcript.Phonetic && (cfg.Transcript.PhoneticThreshold != 0 || cfg.Transcript.FuzzyThreshold != 0) {
		slog.Warn("config: transcript thresholds are set but transcript.phonetic is disabled")
	}

	// History
	if !cfg.History.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: file, postgres", cfg.History.Backend))
	}
	if cfg.History.Backend == HistoryPostgres && cfg.History.PostgresDSN == "" {
		errs = append(errs, errors.New("history.postgres_dsn is required when history.backend is postgres"))
	}
	if cfg.History.Backend != HistoryPostgres && cfg.History.FallbackPath != "" {
		slog.Warn("config: history.fallback_path is only used by the postgres backend", "backend", cfg.History.Backend)
	}
	if cfg.History.Backend != HistoryPostgres && cfg.History.PostgresDSN != "" {
		slog.Warn("config: history.postgres_dsn is set but history.backend is not postgres", "backend", cfg.History.Backend)
	}

	return errors.Join(errs...)
}
