package actions

import (
	"fmt"

	"github.com/zoneops/agent/internal/task"
	"github.com/zoneops/agent/internal/worker"
)

type migrateParams struct {
	UUID string `json:"uuid"`
}

type killParams struct {
	PID  int32 `json:"pid"`
	PPID int32 `json:"ppid"`
}

// runMigrate delegates a transfer leg to an isolated worker process. The
// session owns completion from here: the task finishes when the worker's
// single result message arrives, or fails when the worker dies without one.
// No timeout applies — a migration may legitimately run for hours; the
// caller can terminate it through the kill action.
func (d *Dispatcher) runMigrate(t *task.Task, mode string) {
	var params migrateParams
	if err := decodeParams(t, &params); err != nil {
		t.Fatal(err.Error(), "")
		return
	}
	if params.UUID == "" {
		err := &ValidationError{Msg: "no workload uuid supplied"}
		t.Fatal(err.Error(), "")
		return
	}

	// The session stamps the worker's pid and its own pid into the task's
	// visible details, which is what a later kill request presents for the
	// identity check.
	_, err := worker.Start(worker.Config{
		WorkerPath: d.cfg.Worker.Path,
		WorkerArgs: []string{"-mode", mode, "-zfs", d.cfg.Tools.Zfs},
		LoggerName: "migrate-" + mode,
		RequestID:  t.ID(),
		TargetUUID: params.UUID,
		Parameters: t.Params(),
		Logger:     t.Logger(),
	}, t)
	if err != nil {
		t.Fatal(fmt.Sprintf("failed to start migration worker: %v", err), "")
	}
}

// runKill terminates a previously started migration worker, verifying the
// pid still belongs to that worker first. A target that fails any identity
// check is already gone, which is success.
func (d *Dispatcher) runKill(t *task.Task) {
	var params killParams
	if err := decodeParams(t, &params); err != nil {
		t.Fatal(err.Error(), "")
		return
	}
	if params.PID == 0 {
		err := &ValidationError{Msg: "no process id supplied"}
		t.Fatal(err.Error(), "")
		return
	}

	killed := d.killer.Kill(params.PID, params.PPID)
	t.Finish(task.Result{"killed": killed})
}
