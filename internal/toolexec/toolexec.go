package toolexec

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DefaultTimeout = 5 * time.Minute

// Invocation describes one external management command.
type Invocation struct {
	Path string
	Args []string

	// BenignStderr lists substrings that downgrade a non-zero exit to
	// success when they appear on stderr (e.g. deleting a snapshot that is
	// already gone).
	BenignStderr []string
}

// Result carries the captured outcome of an invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Invoker runs external management commands with a bounded execution time.
type Invoker struct {
	timeout time.Duration
	log     *zap.Logger
}

func New(timeout time.Duration, log *zap.Logger) *Invoker {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Invoker{timeout: timeout, log: log}
}

// Run executes the invocation and waits for it to finish. A non-zero exit
// maps to *ToolError unless stderr matches a benign pattern; exceeding the
// timeout kills the process and maps to *TimeoutError.
func (e *Invoker) Run(ctx context.Context, inv Invocation) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()

	cmd := exec.CommandContext(runCtx, inv.Path, inv.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			result.ExitCode = -1
			e.log.Warn("tool invocation timed out",
				zap.String("path", inv.Path),
				zap.Strings("args", inv.Args),
				zap.Duration("timeout", e.timeout),
			)
			return result, &TimeoutError{Path: inv.Path, Timeout: e.timeout}
		}

		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			if matchesBenign(result.Stderr, inv.BenignStderr) {
				e.log.Debug("tool exit treated as success",
					zap.String("path", inv.Path),
					zap.Strings("args", inv.Args),
					zap.String("stderr", result.Stderr),
				)
				return result, nil
			}
		} else {
			result.ExitCode = -1
		}

		e.log.Warn("tool invocation failed",
			zap.String("path", inv.Path),
			zap.Strings("args", inv.Args),
			zap.Int("exit_code", result.ExitCode),
			zap.String("stderr", result.Stderr),
		)
		return result, &ToolError{
			Path:     inv.Path,
			Args:     inv.Args,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      err,
		}
	}

	result.ExitCode = 0
	return result, nil
}

func matchesBenign(stderr string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(stderr, p) {
			return true
		}
	}
	return false
}
