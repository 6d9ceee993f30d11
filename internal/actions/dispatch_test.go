package actions

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zoneops/agent/internal/task"
	"github.com/zoneops/agent/internal/toolexec"
	"github.com/zoneops/agent/internal/worker"
	"go.uber.org/zap"
)

type fakeInspector struct {
	info *worker.ProcessInfo
}

func (f fakeInspector) Lookup(pid int32) *worker.ProcessInfo { return f.info }

func TestUnknownActionFailsTask(t *testing.T) {
	d := testDispatcher(testConfig(t), &fakeRunner{})

	info := runTask(t, d, "explode", `{}`)
	if info.State != task.StateFailed {
		t.Fatalf("state %q", info.State)
	}
	if !strings.Contains(info.Error, `unknown action "explode"`) {
		t.Fatalf("error %q", info.Error)
	}
}

func TestKillRequiresPid(t *testing.T) {
	d := testDispatcher(testConfig(t), &fakeRunner{})

	info := runTask(t, d, string(ActionMigrateKill), `{"ppid": 100}`)
	if info.State != task.StateFailed {
		t.Fatalf("state %q", info.State)
	}
	if info.Error != "no process id supplied" {
		t.Fatalf("error %q", info.Error)
	}
}

// A pid whose execution context is not global is some other process that
// reused the id: the task succeeds without sending a signal.
func TestKillSkipsProcessOutsideGlobalContext(t *testing.T) {
	signalled := false
	d := testDispatcher(testConfig(t), &fakeRunner{})
	d.killer = worker.NewKillerWith(
		fakeInspector{info: &worker.ProcessInfo{
			PPID:    100,
			Context: "nested",
			Cmdline: "/usr/lib/zoneops/migrate-worker -mode send",
		}},
		func(pid int32) error { signalled = true; return nil },
		zap.NewNop(),
	)

	info := runTask(t, d, string(ActionMigrateKill), `{"pid": 4242, "ppid": 100}`)
	if info.State != task.StateFinished {
		t.Fatalf("state %q (%s)", info.State, info.Error)
	}
	if info.Result["killed"] != false {
		t.Fatalf("killed %v", info.Result["killed"])
	}
	if signalled {
		t.Fatalf("signal sent to a process outside the global context")
	}
}

func TestKillSignalsVerifiedWorker(t *testing.T) {
	var signalled int32
	d := testDispatcher(testConfig(t), &fakeRunner{})
	d.killer = worker.NewKillerWith(
		fakeInspector{info: &worker.ProcessInfo{
			PPID:    100,
			Context: worker.GlobalContext,
			Cmdline: "/usr/lib/zoneops/migrate-worker -mode send",
		}},
		func(pid int32) error { signalled = pid; return nil },
		zap.NewNop(),
	)

	info := runTask(t, d, string(ActionMigrateKill), `{"pid": 4242, "ppid": 100}`)
	if info.State != task.StateFinished {
		t.Fatalf("state %q (%s)", info.State, info.Error)
	}
	if info.Result["killed"] != true {
		t.Fatalf("killed %v", info.Result["killed"])
	}
	if signalled != 4242 {
		t.Fatalf("signalled pid %d", signalled)
	}
}

func TestRemoveSyncSnapshotsDeletesOnlyMigrationSnapshots(t *testing.T) {
	run := &fakeRunner{
		handler: func(inv toolexec.Invocation) (*toolexec.Result, error) {
			if inv.Args[0] == "list" {
				return &toolexec.Result{
					Stdout: "zones/abc@backup\nzones/abc@vm-migrate-estimate\nzones/abc@vm-migrate-sync-1\n",
				}, nil
			}
			return &toolexec.Result{}, nil
		},
	}
	d := testDispatcher(testConfig(t), run)

	info := runTask(t, d, string(ActionRemoveSyncSnapshots),
		`{"vm": {"uuid": "abc", "brand": "joyent", "zfs_filesystem": "zones/abc"}}`)
	if info.State != task.StateFinished {
		t.Fatalf("state %q (%s)", info.State, info.Error)
	}

	calls := run.argsOfCalls()
	want := []string{
		"list -t snapshot -r -H -o name zones/abc",
		"destroy -r zones/abc@vm-migrate-estimate",
		"destroy -r zones/abc@vm-migrate-sync-1",
	}
	if len(calls) != len(want) {
		t.Fatalf("calls %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestRemoveSyncSnapshotsOverrideRequiresMarker(t *testing.T) {
	run := &fakeRunner{}
	cfg := testConfig(t)
	cfg.Migration.OverrideMarkerPath = filepath.Join(t.TempDir(), "missing-marker")
	d := testDispatcher(cfg, run)

	info := runTask(t, d, string(ActionRemoveSyncSnapshots),
		`{"vm": {"uuid": "abc", "brand": "joyent", "zfs_filesystem": "zones/abc"}, "override_uuid": "def"}`)
	if info.State != task.StateFailed {
		t.Fatalf("state %q", info.State)
	}
	if !strings.Contains(info.Error, "marker file") {
		t.Fatalf("error %q", info.Error)
	}
	if len(run.argsOfCalls()) != 0 {
		t.Fatalf("tools invoked despite missing marker: %v", run.argsOfCalls())
	}
}

func TestRemoveSyncSnapshotsOverrideSubstitutesUUID(t *testing.T) {
	run := &fakeRunner{
		handler: func(inv toolexec.Invocation) (*toolexec.Result, error) {
			return &toolexec.Result{Stdout: "\n"}, nil
		},
	}
	cfg := testConfig(t)
	marker := filepath.Join(t.TempDir(), ".allow-uuid-override")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	cfg.Migration.OverrideMarkerPath = marker
	d := testDispatcher(cfg, run)

	info := runTask(t, d, string(ActionRemoveSyncSnapshots),
		`{"vm": {"uuid": "abc", "brand": "joyent", "zfs_filesystem": "zones/abc"}, "override_uuid": "def"}`)
	if info.State != task.StateFinished {
		t.Fatalf("state %q (%s)", info.State, info.Error)
	}

	calls := run.argsOfCalls()
	if len(calls) != 1 || calls[0] != "list -t snapshot -r -H -o name zones/def" {
		t.Fatalf("calls %v", calls)
	}
}

func TestMountFilesystem(t *testing.T) {
	run := &fakeRunner{}
	d := testDispatcher(testConfig(t), run)

	info := runTask(t, d, string(ActionMountFilesystem), `{"uuid": "abc"}`)
	if info.State != task.StateFinished {
		t.Fatalf("state %q (%s)", info.State, info.Error)
	}

	calls := run.argsOfCalls()
	if len(calls) != 1 || calls[0] != "mount zones/abc" {
		t.Fatalf("calls %v", calls)
	}
}

func TestMountFilesystemExplicitZpool(t *testing.T) {
	run := &fakeRunner{}
	d := testDispatcher(testConfig(t), run)

	info := runTask(t, d, string(ActionMountFilesystem), `{"zpool": "tank", "uuid": "abc"}`)
	if info.State != task.StateFinished {
		t.Fatalf("state %q (%s)", info.State, info.Error)
	}
	if got := run.argsOfCalls()[0]; got != "mount tank/abc" {
		t.Fatalf("args %q", got)
	}
}

func TestSetProperty(t *testing.T) {
	run := &fakeRunner{}
	d := testDispatcher(testConfig(t), run)

	info := runTask(t, d, string(ActionSetProperty),
		`{"uuid": "abc", "property": "quota", "value": "10g"}`)
	if info.State != task.StateFinished {
		t.Fatalf("state %q (%s)", info.State, info.Error)
	}

	calls := run.argsOfCalls()
	if len(calls) != 1 || calls[0] != "update abc quota=10g" {
		t.Fatalf("calls %v", calls)
	}
}

func TestSetPropertyValidation(t *testing.T) {
	run := &fakeRunner{}
	d := testDispatcher(testConfig(t), run)

	info := runTask(t, d, string(ActionSetProperty), `{"uuid": "abc"}`)
	if info.State != task.StateFailed {
		t.Fatalf("state %q", info.State)
	}
	if len(run.argsOfCalls()) != 0 {
		t.Fatalf("tool invoked on invalid parameters: %v", run.argsOfCalls())
	}
}

func TestMigrateRequiresUUID(t *testing.T) {
	d := testDispatcher(testConfig(t), &fakeRunner{})

	info := runTask(t, d, string(ActionMigrateSend), `{"target_host": "10.0.0.2"}`)
	if info.State != task.StateFailed {
		t.Fatalf("state %q", info.State)
	}
	if info.Error != "no workload uuid supplied" {
		t.Fatalf("error %q", info.Error)
	}
}

// End-to-end through a stand-in worker binary: the session delivers the
// worker's single result message as the task result.
func TestMigrateDelegatesToWorker(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("missing /bin/sh")
	}

	script := filepath.Join(t.TempDir(), "migrate-worker")
	body := "#!/bin/sh\nread line\nprintf '{\"bytes_sent\": 512}\\n'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	cfg := testConfig(t)
	cfg.Worker.Path = script
	d := testDispatcher(cfg, &fakeRunner{})

	info := runTask(t, d, string(ActionMigrateSend), `{"uuid": "abc", "target_host": "10.0.0.2"}`)
	if info.State != task.StateFinished {
		t.Fatalf("state %q (%s)", info.State, info.Error)
	}
	if info.Result["bytes_sent"] != float64(512) {
		t.Fatalf("bytes_sent %v", info.Result["bytes_sent"])
	}
	if info.Result["ppid"] != os.Getpid() {
		t.Fatalf("ppid %v, want %d", info.Result["ppid"], os.Getpid())
	}
	// The task's details carry the pair a kill request needs.
	pid, ok := info.Details["pid"].(int)
	if !ok || pid <= 0 {
		t.Fatalf("detail pid %v", info.Details["pid"])
	}
	if info.Details["ppid"] != os.Getpid() {
		t.Fatalf("detail ppid %v, want %d", info.Details["ppid"], os.Getpid())
	}
}
