// Package worker supervises isolated worker processes: one initiation
// message out, at most one result message back, bounded diagnostic capture,
// and identity-verified termination.
package worker

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
)

// Completer is the slice of the task a session drives to completion. Detail
// records facts observers need before completion, such as the worker's pid.
type Completer interface {
	Detail(key string, value any)
	Finish(result map[string]any)
	Fatal(msg, detail string)
}

// Config describes the worker to spawn and the initiation message it gets.
type Config struct {
	WorkerPath string
	WorkerArgs []string
	LoggerName string
	RequestID  string
	TargetUUID string
	Parameters json.RawMessage
	Logger     *zap.Logger
}

// Session owns one worker process. Exactly one of the result-received and
// process-exited paths completes the task, guarded by resultReceived.
type Session struct {
	log     *zap.Logger
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	capture *CaptureBuffer

	resultReceived atomic.Bool
}

// Start spawns the worker, sends the single initiation message, and begins
// watching for the result message and for process exit. The task is
// guaranteed to complete: either a result arrives or the exit handler fires.
func Start(cfg Config, t Completer) (*Session, error) {
	cmd := exec.Command(cfg.WorkerPath, cfg.WorkerArgs...)

	capture := &CaptureBuffer{}
	cmd.Stderr = capture

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("worker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("spawn worker %s: %w", cfg.WorkerPath, err)
	}

	s := &Session{
		log: cfg.Logger.With(
			zap.Int("worker_pid", cmd.Process.Pid),
			zap.String("request_id", cfg.RequestID),
		),
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		capture: capture,
	}

	init := InitMessage{
		LoggerName: cfg.LoggerName,
		Parameters: cfg.Parameters,
		RequestID:  cfg.RequestID,
		TargetUUID: cfg.TargetUUID,
	}
	if err := json.NewEncoder(stdin).Encode(init); err != nil {
		// The worker is gone or never read its end; the exit watcher
		// will fail the task with the captured diagnostics.
		s.log.Warn("failed to send init message", zap.Error(err))
	}

	s.log.Info("worker started", zap.Strings("args", cfg.WorkerArgs))

	// Record the worker's identity before either watcher can complete the
	// task: a caller needs this pair to address a kill request at the
	// worker while the transfer runs.
	t.Detail("pid", cmd.Process.Pid)
	t.Detail("ppid", os.Getpid())

	readerDone := make(chan struct{})
	go s.readResult(t, readerDone)
	go s.watchExit(t, readerDone)

	return s, nil
}

// Pid returns the worker's process id, for session records and later
// identity-verified termination.
func (s *Session) Pid() int {
	return s.cmd.Process.Pid
}

func (s *Session) readResult(t Completer, done chan struct{}) {
	defer close(done)

	dec := json.NewDecoder(s.stdout)
	var msg map[string]any
	if err := dec.Decode(&msg); err != nil {
		// No result ever arrived; the exit watcher owns the failure.
		return
	}

	if !s.resultReceived.CompareAndSwap(false, true) {
		return
	}

	// The channel is consumed at most once: close our end and, once the
	// task below is completed, drain any stragglers so the worker never
	// blocks on a full pipe. The drain finishes before done closes, and
	// the exit watcher calls Wait only after that, so Wait never races
	// the pipe reads.
	_ = s.stdin.Close()
	defer func() { _, _ = io.Copy(io.Discard, s.stdout) }()

	if errText, failed := resultError(msg); failed {
		s.log.Warn("worker reported error", zap.String("error", errText))
		t.Fatal(errText, s.capture.String())
		return
	}

	msg["ppid"] = os.Getpid()
	s.log.Info("worker result received")
	t.Finish(msg)
}

func (s *Session) watchExit(t Completer, readerDone chan struct{}) {
	<-readerDone
	err := s.cmd.Wait()

	if !s.resultReceived.CompareAndSwap(false, true) {
		// Already completed; the exit is informational.
		s.log.Debug("worker exited after result", zap.Error(err))
		return
	}

	msg := exitMessage(s.cmd.ProcessState, err)
	s.log.Error("worker exited without sending a result", zap.String("exit", msg))
	t.Fatal(msg, s.capture.String())
}

func exitMessage(state *os.ProcessState, err error) string {
	if state != nil {
		if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return fmt.Sprintf("worker process killed by signal %s", status.Signal())
		}
		return fmt.Sprintf("worker process exited with code %d before sending a result", state.ExitCode())
	}
	if err != nil {
		return fmt.Sprintf("worker process failed: %v", err)
	}
	return "worker process exited before sending a result"
}
