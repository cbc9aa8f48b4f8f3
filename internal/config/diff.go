package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; listen address,
// TLS and history changes need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SentencesChanged is true when the list of sentence files changed.
	// Changes to the files' contents are detected by the [Watcher].
	SentencesChanged bool

	// SkillsChanged is true when the enabled skills or their order changed.
	SkillsChanged bool

	// LocaleChanged is true when the answer language changed.
	LocaleChanged bool

	// RankerChanged is true when the confidence floor changed.
	RankerChanged bool
	NewMinScore   float64

	// TranscriptChanged is true when phonetic correction settings changed.
	TranscriptChanged bool

	// RestartRequired lists the changed settings that only apply after a
	// restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable setting changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SentencesChanged || d.SkillsChanged ||
		d.LocaleChanged || d.RankerChanged || d.TranscriptChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.SentencesChanged = !slices.Equal(old.Sentences.Files, new.Sentences.Files)
	d.SkillsChanged = !slices.Equal(old.Skills.Enabled, new.Skills.Enabled)
	d.LocaleChanged = old.Locale != new.Locale
	if o, n := old.Ranker.MinScoreOrDefault(), new.Ranker.MinScoreOrDefault(); o != n {
		d.RankerChanged = true
		d.NewMinScore = n
	}
	d.TranscriptChanged = old.Transcript != new.Transcript

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !equalTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Ranker.Parallelism != new.Ranker.Parallelism {
		d.RestartRequired = append(d.RestartRequired, "ranker.parallelism")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
