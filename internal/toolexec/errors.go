package toolexec

import (
	"fmt"
	"strings"
	"time"
)

// ToolError reports a command that exited non-zero or failed to run. The
// message carries the captured stderr so task failures stay diagnosable.
type ToolError struct {
	Path     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s %s: exit %d", e.Path, strings.Join(e.Args, " "), e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// TimeoutError reports an invocation that exceeded its bound and was killed.
type TimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: process killed due to timeout (%s)", e.Path, e.Timeout)
}
