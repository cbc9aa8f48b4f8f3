// Package history persists every answered utterance so that interactions
// can be reviewed after the process restarts.
//
// Two backends exist: [FileStore] appends JSON lines to a local file, and
// the postgres subpackage stores records in PostgreSQL.
package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one answered utterance.
type Record struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SkillID   string    `json:"skill_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer,omitempty"`

	// Error is the handler or listening error message, if any.
	Error string `json:"error,omitempty"`

	// Continues is true when the answer continued the previous interaction.
	Continues bool `json:"continues"`

	// Fallback is true when no skill recognized the utterance.
	Fallback bool `json:"fallback"`

	// Confidence is the winning score mapped into [0, 1].
	Confidence float64 `json:"confidence"`
}

// NewRecord returns a record with a fresh random ID and the current UTC time.
func NewRecord() Record {
	return Record{ID: uuid.New(), Timestamp: time.Now().UTC()}
}

// Store persists records.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append persists r. A zero r.ID is replaced by a new random ID and a
	// zero r.Timestamp by the current time.
	Append(ctx context.Context, r Record) error

	// Recent returns up to limit records, newest first. A limit <= 0
	// returns every record.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Close releases the store's resources.
	Close() error
}

// fillDefaults assigns an ID and timestamp to r when they are unset.
func fillDefaults(r Record) Record {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	return r
}

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// FileStore persists records as JSON lines in a local file.
// Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that writes to the given path.
// The file is created on the first Append.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file the store writes to.
func (s *FileStore) Path() string { return s.path }

// Append adds r to the end of the file.
func (s *FileStore) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	data, err := json.Marshal(fillDefaults(r))
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	return nil
}

// Recent reads the whole file and returns its last limit records, newest
// first. A missing file holds no records. Lines that fail to decode are
// reported as an error naming the line.
func (s *FileStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: open file: %w", err)
	}
	defer f.Close()

	var all []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("history: %s:%d: %w", s.path, line, err)
		}
		all = append(all, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("history: read: %w", err)
	}

	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]Record, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Ping reports whether the file's directory is writable by opening the file
// for appending. Used as a readiness check.
func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: ping: %w", err)
	}
	return f.Close()
}

// Close is a no-op; the file is opened per operation.
func (s *FileStore) Close() error { return nil }
