package worker

import (
	"os"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// WorkerProgram is the identifier a live worker must carry in its argument
// vector before a termination signal may be sent to its pid.
const WorkerProgram = "migrate-worker"

// GlobalContext is the execution context a worker must run in. A pid whose
// context is anything else is some other process that reused the id.
const GlobalContext = "global"

// ProcessInfo is what the identity checks need to know about a live pid.
type ProcessInfo struct {
	PPID    int32
	Context string
	Cmdline string
}

// Inspector looks a pid up in the process table. Lookup returns nil when the
// pid is not alive; lookup failures are also reported as nil because every
// failed identity check means "target already gone", never an error.
type Inspector interface {
	Lookup(pid int32) *ProcessInfo
}

type procInspector struct{}

// NewInspector returns an Inspector backed by the host process table.
func NewInspector() Inspector { return procInspector{} }

func (procInspector) Lookup(pid int32) *ProcessInfo {
	exists, err := process.PidExists(pid)
	if err != nil || !exists {
		return nil
	}
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	ppid, err := p.Ppid()
	if err != nil {
		return nil
	}
	cmdline, err := p.Cmdline()
	if err != nil {
		return nil
	}
	return &ProcessInfo{
		PPID:    ppid,
		Context: processContext(pid),
		Cmdline: cmdline,
	}
}

// Killer terminates workers by pid, but only after verifying the pid still
// belongs to the worker a session once started. Pids are reused; signalling
// on stale identity would kill an innocent process.
type Killer struct {
	inspect Inspector
	signal  func(pid int32) error
	log     *zap.Logger
}

func NewKiller(log *zap.Logger) *Killer {
	return &Killer{
		inspect: NewInspector(),
		signal:  sendTerm,
		log:     log,
	}
}

// NewKillerWith allows injecting the process table and signal delivery.
func NewKillerWith(inspect Inspector, signal func(pid int32) error, log *zap.Logger) *Killer {
	return &Killer{inspect: inspect, signal: signal, log: log}
}

// Kill sends a termination signal to pid if and only if all identity checks
// hold: the pid is alive, its parent matches the recorded parent, it runs in
// the global execution context, and its argument vector names the worker
// program. Any failed check means the target is already gone and Kill
// returns false with no signal sent — the operation is idempotent. A signal
// delivery failure is logged, not surfaced: termination is best-effort.
func (k *Killer) Kill(pid, ppid int32) bool {
	log := k.log.With(zap.Int32("pid", pid), zap.Int32("ppid", ppid))

	info := k.inspect.Lookup(pid)
	if info == nil {
		log.Info("kill target no longer exists")
		return false
	}
	if info.PPID != ppid {
		log.Info("kill target parent mismatch, treating as gone",
			zap.Int32("current_ppid", info.PPID))
		return false
	}
	if info.Context != GlobalContext {
		log.Info("kill target context mismatch, treating as gone",
			zap.String("context", info.Context))
		return false
	}
	if !strings.Contains(info.Cmdline, WorkerProgram) {
		log.Info("kill target argument vector mismatch, treating as gone",
			zap.String("cmdline", info.Cmdline))
		return false
	}

	if err := k.signal(pid); err != nil {
		log.Warn("failed to signal worker", zap.Error(err))
		return false
	}
	log.Info("termination signal sent")
	return true
}

func sendTerm(pid int32) error {
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}
