package actions

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoneops/agent/config"
	"github.com/zoneops/agent/internal/task"
	"github.com/zoneops/agent/internal/toolexec"
	"github.com/zoneops/agent/internal/vmctl"
	"github.com/zoneops/agent/internal/worker"
	"github.com/zoneops/agent/internal/zfs"
	"go.uber.org/zap"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []toolexec.Invocation
	handler func(inv toolexec.Invocation) (*toolexec.Result, error)

	// ctxHandler takes precedence over handler when a test needs to
	// observe the invocation context.
	ctxHandler func(ctx context.Context, inv toolexec.Invocation) (*toolexec.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, inv toolexec.Invocation) (*toolexec.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()
	if f.ctxHandler != nil {
		return f.ctxHandler(ctx, inv)
	}
	if f.handler != nil {
		return f.handler(inv)
	}
	return &toolexec.Result{}, nil
}

func (f *fakeRunner) argsOfCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	joined := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		joined = append(joined, strings.Join(call.Args, " "))
	}
	return joined
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Tools: config.ToolsConfig{
			Zfs:     "/sbin/zfs",
			Vmctl:   "/usr/sbin/vmctl",
			Timeout: time.Minute,
		},
		Worker: config.WorkerConfig{Path: "/usr/lib/zoneops/migrate-worker"},
		Migration: config.MigrationConfig{
			Zpool:              "zones",
			OverrideMarkerPath: "/nonexistent/.allow-uuid-override",
		},
	}
}

func testDispatcher(cfg *config.Config, run *fakeRunner) *Dispatcher {
	nop := zap.NewNop()
	return &Dispatcher{
		cfg:    cfg,
		log:    nop,
		zfs:    zfs.NewManager(cfg.Tools.Zfs, run, nop),
		vmctl:  vmctl.NewManager(cfg.Tools.Vmctl, run, nop),
		killer: worker.NewKiller(nop),
	}
}

func runTask(t *testing.T, d *Dispatcher, action, params string) task.Info {
	t.Helper()
	tk := task.New(action, json.RawMessage(params), zap.NewNop())
	d.Run(context.Background(), tk)
	select {
	case <-tk.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("task never completed")
	}
	return tk.Snapshot()
}

// Single dataset, no pre-existing snapshot: the estimate snapshot is
// created, measured, and deleted again, and the task reports the parsed
// size.
func TestEstimateSingleDataset(t *testing.T) {
	run := &fakeRunner{
		handler: func(inv toolexec.Invocation) (*toolexec.Result, error) {
			if inv.Args[0] == "send" {
				return &toolexec.Result{Stdout: "full\tzones/abc@vm-migrate-estimate\t1\nsize\t104857600\n"}, nil
			}
			return &toolexec.Result{}, nil
		},
	}
	d := testDispatcher(testConfig(t), run)

	info := runTask(t, d, string(ActionMigrateEstimate),
		`{"vm": {"uuid": "abc", "brand": "joyent", "zfs_filesystem": "zones/abc"}}`)

	if info.State != task.StateFinished {
		t.Fatalf("state %q (%s)", info.State, info.Error)
	}
	if got := info.Result["size"]; got != int64(104857600) {
		t.Fatalf("size %v", got)
	}

	want := []string{
		"destroy -r zones/abc@vm-migrate-estimate",
		"snapshot -r zones/abc@vm-migrate-estimate",
		"send --dryrun --parsable --replicate zones/abc@vm-migrate-estimate",
		"destroy -r zones/abc@vm-migrate-estimate",
	}
	got := run.argsOfCalls()
	if len(got) != len(want) {
		t.Fatalf("calls %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// Three datasets estimated in parallel: the result is the sum.
func TestEstimateSumsAcrossDatasets(t *testing.T) {
	sizes := map[string]string{
		"zones/abc@vm-migrate-estimate":       "10",
		"zones/abc-disk0@vm-migrate-estimate": "20",
		"zones/abc-disk1@vm-migrate-estimate": "30",
	}
	run := &fakeRunner{
		handler: func(inv toolexec.Invocation) (*toolexec.Result, error) {
			if inv.Args[0] == "send" {
				snapshot := inv.Args[len(inv.Args)-1]
				return &toolexec.Result{Stdout: "size\t" + sizes[snapshot] + "\n"}, nil
			}
			return &toolexec.Result{}, nil
		},
	}
	d := testDispatcher(testConfig(t), run)

	info := runTask(t, d, string(ActionMigrateEstimate), `{
		"vm": {
			"uuid": "abc",
			"brand": "kvm",
			"zfs_filesystem": "zones/abc",
			"disks": [
				{"zfs_filesystem": "zones/abc-disk0"},
				{"zfs_filesystem": "zones/abc-disk1"}
			]
		}
	}`)

	if info.State != task.StateFinished {
		t.Fatalf("state %q (%s)", info.State, info.Error)
	}
	if got := info.Result["size"]; got != int64(60) {
		t.Fatalf("size %v, want 60", got)
	}
	if info.Progress != 100 {
		t.Fatalf("progress %d", info.Progress)
	}
}

// If the measurement fails after the snapshot was created, the snapshot is
// deleted anyway and the original error surfaces.
func TestEstimateCompensatesSnapshotOnFailure(t *testing.T) {
	run := &fakeRunner{
		handler: func(inv toolexec.Invocation) (*toolexec.Result, error) {
			if inv.Args[0] == "send" {
				return &toolexec.Result{}, &toolexec.ToolError{Path: "/sbin/zfs", ExitCode: 1, Stderr: "io error"}
			}
			return &toolexec.Result{}, nil
		},
	}
	d := testDispatcher(testConfig(t), run)

	info := runTask(t, d, string(ActionMigrateEstimate),
		`{"vm": {"uuid": "abc", "brand": "joyent", "zfs_filesystem": "zones/abc"}}`)

	if info.State != task.StateFailed {
		t.Fatalf("state %q", info.State)
	}
	if !strings.Contains(info.Error, "estimate send size") {
		t.Fatalf("error %q does not name the failing step", info.Error)
	}

	calls := run.argsOfCalls()
	if len(calls) != 4 {
		t.Fatalf("calls %v", calls)
	}
	if calls[3] != "destroy -r zones/abc@vm-migrate-estimate" {
		t.Fatalf("no compensating delete, calls %v", calls)
	}
}

// When one dataset's estimation fails, the sibling datasets are canceled
// mid-flight — their snapshots must still be cleaned up even though the
// shared context is already dead, because a real tool invocation refuses to
// start under a done context.
func TestEstimateFailureDoesNotLeakSiblingSnapshots(t *testing.T) {
	var (
		mu        sync.Mutex
		snapshots = map[string]bool{}
	)
	diskSendStarted := make(chan struct{})
	run := &fakeRunner{}
	run.ctxHandler = func(ctx context.Context, inv toolexec.Invocation) (*toolexec.Result, error) {
		if err := ctx.Err(); err != nil {
			return &toolexec.Result{}, err
		}
		switch inv.Args[0] {
		case "snapshot":
			mu.Lock()
			snapshots[inv.Args[2]] = true
			mu.Unlock()
		case "destroy":
			mu.Lock()
			delete(snapshots, inv.Args[2])
			mu.Unlock()
		case "send":
			if strings.Contains(inv.Args[len(inv.Args)-1], "disk0") {
				// Hold the disk dataset's measurement open until the
				// sibling's failure cancels the group.
				close(diskSendStarted)
				<-ctx.Done()
				return &toolexec.Result{}, ctx.Err()
			}
			<-diskSendStarted
			return &toolexec.Result{}, &toolexec.ToolError{Path: "/sbin/zfs", ExitCode: 1, Stderr: "io error"}
		}
		return &toolexec.Result{}, nil
	}
	d := testDispatcher(testConfig(t), run)

	info := runTask(t, d, string(ActionMigrateEstimate), `{
		"vm": {
			"uuid": "abc",
			"brand": "kvm",
			"zfs_filesystem": "zones/abc",
			"disks": [{"zfs_filesystem": "zones/abc-disk0"}]
		}
	}`)

	if info.State != task.StateFailed {
		t.Fatalf("state %q", info.State)
	}

	mu.Lock()
	defer mu.Unlock()
	for snapshot := range snapshots {
		t.Fatalf("estimate snapshot %s still exists after task failure", snapshot)
	}
}

func TestEstimateMissingSizeLineFailsLoudly(t *testing.T) {
	run := &fakeRunner{
		handler: func(inv toolexec.Invocation) (*toolexec.Result, error) {
			if inv.Args[0] == "send" {
				return &toolexec.Result{Stdout: "no sizes today\n"}, nil
			}
			return &toolexec.Result{}, nil
		},
	}
	d := testDispatcher(testConfig(t), run)

	info := runTask(t, d, string(ActionMigrateEstimate),
		`{"vm": {"uuid": "abc", "brand": "joyent", "zfs_filesystem": "zones/abc"}}`)

	if info.State != task.StateFailed {
		t.Fatalf("state %q, want failure instead of a silent zero", info.State)
	}
	if !strings.Contains(info.Error, "no size line") {
		t.Fatalf("error %q", info.Error)
	}
}

func TestEstimateValidation(t *testing.T) {
	run := &fakeRunner{}
	d := testDispatcher(testConfig(t), run)

	info := runTask(t, d, string(ActionMigrateEstimate), `{"vm": {"uuid": "abc"}}`)
	if info.State != task.StateFailed {
		t.Fatalf("state %q", info.State)
	}
	if len(run.argsOfCalls()) != 0 {
		t.Fatalf("validation failure still invoked tools: %v", run.argsOfCalls())
	}
}
