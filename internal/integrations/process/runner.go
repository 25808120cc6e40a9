package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrOutputTooLarge is returned when a command prints more than the stdout cap.
var ErrOutputTooLarge = errors.New("process: output exceeds limit")

const (
	maxStdoutBytes = 16 << 20
	maxStderrBytes = 64 << 10
	// waitDelay bounds how long Run waits for pipes held open by grandchildren after a kill.
	waitDelay      = time.Second
)

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process: %s exited with status %d", e.Command, e.ExitCode)
}

// Runner executes external commands and returns their trimmed stdout.
type Runner struct {
	timeout   time.Duration
	logger    *slog.Logger
	maxStdout int
}

func NewRunner(timeout time.Duration, logger *slog.Logger) (*Runner, error) {
	if timeout <= 0 {
		return nil, errors.New("process: timeout must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{timeout: timeout, logger: logger, maxStdout: maxStdoutBytes}, nil
}

// Run executes argv with args appended. Stderr never decides the outcome;
// it is logged and attached to ExitError.
func (r *Runner) Run(ctx context.Context, argv []string, args ...string) (string, error) {
	if len(argv) == 0 || argv[0] == "" {
		return "", errors.New("process: empty command")
	}
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], append(argv[1:len(argv):len(argv)], args...)...)
	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: r.maxStdout}
	stderr := &limitedWriter{w: &stderrBuf, max: maxStderrBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	if stderrBuf.Len() > 0 {
		r.logger.DebugContext(ctx, "command stderr", "command", argv[0], "stderr", stderrBuf.String(), "truncated", stderr.truncated)
	}

	if err != nil {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return "", fmt.Errorf("process: %s timed out after %s", argv[0], r.timeout)
		case ctx.Err() != nil:
			return "", fmt.Errorf("process: %s: %w", argv[0], ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			r.logger.WarnContext(ctx, "command failed", "command", argv[0], "exit_code", exitErr.ExitCode(), "duration", time.Since(start))
			return "", &ExitError{Command: argv[0], ExitCode: exitErr.ExitCode(), Stderr: stderrBuf.String()}
		}
		return "", fmt.Errorf("process: Run %s: %w", argv[0], err)
	}
	if stdout.truncated {
		return "", fmt.Errorf("%w: %s printed more than %d bytes", ErrOutputTooLarge, argv[0], r.maxStdout)
	}
	return strings.TrimSpace(stdoutBuf.String()), nil
}

// limitedWriter keeps the first max bytes and discards the rest.
type limitedWriter struct {
	w         io.Writer
	max       int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	remaining := lw.max - lw.written
	if remaining <= 0 {
		lw.truncated = true
		return n, nil
	}
	if n > remaining {
		lw.truncated = true
		p = p[:remaining]
	}
	written, err := lw.w.Write(p)
	lw.written += written
	if err != nil {
		return written, err
	}
	return n, nil
}
