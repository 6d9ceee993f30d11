// Package actions maps task action tags onto concrete behaviors: direct
// external-tool calls, saga pipelines, or delegation to an isolated worker.
package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zoneops/agent/config"
	"github.com/zoneops/agent/internal/task"
	"github.com/zoneops/agent/internal/toolexec"
	"github.com/zoneops/agent/internal/vmctl"
	"github.com/zoneops/agent/internal/worker"
	"github.com/zoneops/agent/internal/zfs"
	"go.uber.org/zap"
)

// Action is the closed set of task tags the agent executes.
type Action string

const (
	ActionMigrateSend         Action = "migrate_send"
	ActionMigrateReceive      Action = "migrate_receive"
	ActionMigrateKill         Action = "migrate_kill"
	ActionMigrateEstimate     Action = "migrate_estimate"
	ActionRemoveSyncSnapshots Action = "remove_sync_snapshots"
	ActionMountFilesystem     Action = "mount_filesystem"
	ActionSetProperty         Action = "set_property"
)

// Dispatcher resolves action tags and drives tasks to completion.
type Dispatcher struct {
	cfg    *config.Config
	log    *zap.Logger
	zfs    *zfs.Manager
	vmctl  *vmctl.Manager
	killer *worker.Killer
}

func NewDispatcher(cfg *config.Config, log *zap.Logger) *Dispatcher {
	inv := toolexec.New(cfg.Tools.Timeout, log.Named("toolexec"))
	return &Dispatcher{
		cfg:    cfg,
		log:    log,
		zfs:    zfs.NewManager(cfg.Tools.Zfs, inv, log.Named("zfs")),
		vmctl:  vmctl.NewManager(cfg.Tools.Vmctl, inv, log.Named("vmctl")),
		killer: worker.NewKiller(log.Named("kill")),
	}
}

// Run starts the task and executes its behavior asynchronously. Every
// behavior terminates the task through exactly one Finish or Fatal.
func (d *Dispatcher) Run(ctx context.Context, t *task.Task) {
	t.Start(func(t *task.Task) {
		d.dispatch(ctx, t)
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, t *task.Task) {
	switch Action(t.Action()) {
	case ActionMigrateSend:
		d.runMigrate(t, "send")
	case ActionMigrateReceive:
		d.runMigrate(t, "receive")
	case ActionMigrateKill:
		d.runKill(t)
	case ActionMigrateEstimate:
		d.runEstimate(ctx, t)
	case ActionRemoveSyncSnapshots:
		d.runRemoveSyncSnapshots(ctx, t)
	case ActionMountFilesystem:
		d.runMount(ctx, t)
	case ActionSetProperty:
		d.runSetProperty(ctx, t)
	default:
		err := &UnknownActionError{Tag: t.Action()}
		t.Fatal(err.Error(), "")
	}
}

func decodeParams(t *task.Task, v any) error {
	if len(t.Params()) == 0 {
		return &ValidationError{Msg: "no parameters supplied"}
	}
	if err := json.Unmarshal(t.Params(), v); err != nil {
		return &ValidationError{Msg: fmt.Sprintf("invalid parameters: %v", err)}
	}
	return nil
}
