package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intensifier/dicio/internal/eval"
	"github.com/intensifier/dicio/pkg/skill"
)

// alternativeSep separates recognition alternatives on one console line,
// most likely first: "what time is it | what dime is it".
const alternativeSep = "|"

// ConsoleInfo holds metadata about the active console session.
type ConsoleInfo struct {
	// SessionID is the unique identifier of this session.
	SessionID string

	// StartedAt is when the session was started.
	StartedAt time.Time

	// Utterances is the number of lines evaluated so far.
	Utterances int
}

// Console feeds lines of text to the evaluator as if a speech recognizer
// had heard them. Only one session can be active at a time. All exported
// methods are safe for concurrent use.
type Console struct {
	eval *eval.Evaluator

	mu     sync.Mutex
	active bool
	info   ConsoleInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsole creates a Console answering through ev.
func NewConsole(ev *eval.Evaluator) *Console {
	return &Console{eval: ev}
}

// Start begins a session reading lines from in. Each non-empty line is sent
// as a partial then a final event; a blank line resets the pending
// question. The session ends when in is exhausted, ctx is done or Stop is
// called.
//
// Returns an error if a session is already active.
func (c *Console) Start(ctx context.Context, in io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return fmt.Errorf("console: a session is already active (id=%s)", c.info.SessionID)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.active = true
	c.cancel = cancel
	c.done = done
	c.info = ConsoleInfo{
		SessionID: "console-" + uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	slog.Info("console: session started", "session_id", c.info.SessionID)

	lines := make(chan string)
	go readLines(sessionCtx, in, lines)
	go c.loop(sessionCtx, lines, done)
	return nil
}

// loop evaluates lines until the input ends or ctx is done.
func (c *Console) loop(ctx context.Context, lines <-chan string, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		sessionID := c.info.SessionID
		c.active = false
		c.cancel()
		c.cancel = nil
		c.info = ConsoleInfo{}
		c.mu.Unlock()
		close(done)
		slog.Info("console: session stopped", "session_id", sessionID)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			c.handle(ctx, line)
		}
	}
}

// handle sends one line to the evaluator.
func (c *Console) handle(ctx context.Context, line string) {
	alternatives := splitAlternatives(line)
	if len(alternatives) == 0 {
		if err := c.eval.Process(ctx, eval.NoneEvent{}); err != nil {
			slog.Warn("console: process error", "err", err)
		}
		return
	}

	if err := c.eval.Process(ctx, eval.PartialEvent{Utterance: alternatives[0]}); err != nil {
		slog.Warn("console: process error", "err", err)
	}
	err := c.eval.Process(ctx, eval.FinalEvent{Utterances: alternatives})
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		slog.Warn("console: evaluate error", "err", err)
		return
	}

	c.mu.Lock()
	c.info.Utterances++
	c.mu.Unlock()
}

// Stop ends the active session and waits for its last evaluation to finish.
//
// Returns an error if no session is active.
func (c *Console) Stop() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return errors.New("console: no active session to stop")
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Wait blocks until the active session ends. It returns immediately when no
// session is active.
func (c *Console) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// IsActive reports whether a session is currently running.
func (c *Console) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (c *Console) Info() ConsoleInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// readLines sends every line of in to out and closes out at the end of the
// input. It gives up when ctx is done; a read already blocked on in is only
// released by in itself.
func readLines(ctx context.Context, in io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("console: read error", "err", err)
	}
}

// splitAlternatives splits a console line into trimmed non-empty
// alternatives.
func splitAlternatives(line string) []string {
	var out []string
	for _, alt := range strings.Split(line, alternativeSep) {
		if alt = strings.TrimSpace(alt); alt != "" {
			out = append(out, alt)
		}
	}
	return out
}

var _ skill.SpeechOutputDevice = (*WriterSpeech)(nil)

// WriterSpeech speaks by writing every text as one line to W.
type WriterSpeech struct {
	mu sync.Mutex
	W  io.Writer
}

// Speak implements [skill.SpeechOutputDevice].
func (s *WriterSpeech) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.W, text)
	return err
}
