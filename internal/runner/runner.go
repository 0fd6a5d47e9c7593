// Package runner spawns child binaries and streams their merged
// stdout+stderr as line events. Timeouts belong to the caller via
// context; the runner itself never imposes one.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// ErrNotFound reports that the requested binary is not on PATH. This is
// a systemic failure: no amount of retrying other files will fix it.
var ErrNotFound = errors.New("executable not found on PATH")

// tailSize is how many trailing output lines a handle retains for
// failure reports.
const tailSize = 50

// lineBuffer is the channel capacity between the reader goroutines and
// the consumer.
const lineBuffer = 256

// maxLineBytes bounds a single output line. ab-av1 and mediainfo lines
// are short; ffmpeg can occasionally be chatty.
const maxLineBytes = 1024 * 1024

// Handle is a running child process.
type Handle interface {
	// Lines streams merged stdout+stderr, one line per receive. The
	// channel closes at EOF on both streams. A final segment without a
	// trailing newline is delivered as its own line.
	Lines() <-chan string
	// Wait blocks until the process exits and returns its exit code.
	// Killed processes report 128+signal. The error is non-nil only for
	// wait failures, never for non-zero exits.
	Wait() (int, error)
	// Cancel terminates the process. Safe to call more than once and
	// concurrently with Wait.
	Cancel()
	// OutputTail returns the last retained output lines.
	OutputTail() []string
	// PID returns the child's process id.
	PID() int
}

// Runner spawns child processes.
type Runner interface {
	Spawn(ctx context.Context, name string, args ...string) (Handle, error)
}

// execRunner is the production Runner backed by os/exec.
type execRunner struct {
	logger *slog.Logger
}

// New creates a Runner.
func New(logger *slog.Logger) Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &execRunner{logger: logger.With(slog.String("component", "runner"))}
}

// Spawn resolves the binary on PATH, starts it, and begins streaming
// its output. The context cancels the process when done.
func (r *execRunner) Spawn(ctx context.Context, name string, args ...string) (Handle, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", name, ErrNotFound)
	}

	cmd := exec.Command(path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %q: %w", name, err)
	}

	h := &handle{
		cmd:    cmd,
		lines:  make(chan string, lineBuffer),
		done:   make(chan struct{}),
		logger: r.logger,
	}

	h.readers.Add(2)
	go h.readLines(stdout)
	go h.readLines(stderr)
	go h.closeWhenDrained()

	// Tie process lifetime to the caller's context.
	go func() {
		select {
		case <-ctx.Done():
			h.Cancel()
		case <-h.done:
		}
	}()

	r.logger.Debug("spawned process",
		slog.String("binary", name),
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("args", len(args)),
	)
	return h, nil
}

type handle struct {
	cmd     *exec.Cmd
	lines   chan string
	done    chan struct{}
	readers sync.WaitGroup
	logger  *slog.Logger

	cancelOnce sync.Once
	waitOnce   sync.Once
	exitCode   int
	waitErr    error

	tailMu sync.Mutex
	tail   []string
}

func (h *handle) Lines() <-chan string { return h.lines }

func (h *handle) PID() int { return h.cmd.Process.Pid }

// readLines scans one stream into the shared channel, recording a
// rolling tail. Scanner buffering holds partial lines until newline or
// EOF.
func (h *handle) readLines(stream io.Reader) {
	defer h.readers.Done()
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		h.recordTail(line)
		h.lines <- line
	}
	if err := scanner.Err(); err != nil && !isClosedPipe(err) {
		h.logger.Debug("output stream ended", slog.String("error", err.Error()))
	}
}

func (h *handle) closeWhenDrained() {
	h.readers.Wait()
	close(h.lines)
}

func (h *handle) recordTail(line string) {
	h.tailMu.Lock()
	defer h.tailMu.Unlock()
	h.tail = append(h.tail, line)
	if len(h.tail) > tailSize {
		h.tail = h.tail[len(h.tail)-tailSize:]
	}
}

// OutputTail returns a copy of the retained trailing lines.
func (h *handle) OutputTail() []string {
	h.tailMu.Lock()
	defer h.tailMu.Unlock()
	out := make([]string, len(h.tail))
	copy(out, h.tail)
	return out
}

// Wait reaps the process after both streams drain. Idempotent.
func (h *handle) Wait() (int, error) {
	h.waitOnce.Do(func() {
		h.readers.Wait()
		err := h.cmd.Wait()
		defer close(h.done)

		if err == nil {
			h.exitCode = 0
			return
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				h.exitCode = 128 + int(status.Signal())
				return
			}
			h.exitCode = exitErr.ExitCode()
			return
		}
		h.exitCode = -1
		h.waitErr = fmt.Errorf("waiting for process: %w", err)
	})
	return h.exitCode, h.waitErr
}

// Cancel kills the process. Wait still reaps it; pipes close as the
// child dies, unblocking the readers.
func (h *handle) Cancel() {
	h.cancelOnce.Do(func() {
		if h.cmd.Process == nil {
			return
		}
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.logger.Debug("kill failed", slog.Int("pid", h.cmd.Process.Pid), slog.String("error", err.Error()))
		}
	})
}

func isClosedPipe(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) || errors.Is(err, syscall.EPIPE)
}
