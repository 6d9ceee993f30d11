// Package zfs wraps the storage tool invocations the migration tasks depend
// on. Argument shapes are part of the compatibility contract with the
// platform tool and must not drift.
package zfs

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zoneops/agent/internal/toolexec"
	"go.uber.org/zap"
)

const (
	// EstimateSnapshotName is the snapshot suffix used for transfer size
	// estimation; the snapshot is temporary and always cleaned up.
	EstimateSnapshotName = "vm-migrate-estimate"

	// SyncSnapshotPrefix marks snapshots created by migration sync runs.
	SyncSnapshotPrefix = "vm-migrate"

	snapshotNotFoundStderr = "could not find any snapshots to destroy"
)

var sizeLine = regexp.MustCompile(`^size\s+(\d+)\s*$`)

// CommandRunner is the slice of the tool invoker the manager needs.
type CommandRunner interface {
	Run(ctx context.Context, inv toolexec.Invocation) (*toolexec.Result, error)
}

// Manager issues storage tool commands for datasets and snapshots.
type Manager struct {
	path string
	run  CommandRunner
	log  *zap.Logger
}

func NewManager(path string, run CommandRunner, log *zap.Logger) *Manager {
	return &Manager{path: path, run: run, log: log}
}

// EstimateSnapshot returns the estimation snapshot name for a dataset.
func EstimateSnapshot(dataset string) string {
	return dataset + "@" + EstimateSnapshotName
}

// DestroySnapshot removes a snapshot recursively. Destroying a snapshot that
// does not exist is success, which keeps delete steps idempotent.
func (m *Manager) DestroySnapshot(ctx context.Context, snapshot string) error {
	_, err := m.run.Run(ctx, toolexec.Invocation{
		Path:         m.path,
		Args:         []string{"destroy", "-r", snapshot},
		BenignStderr: []string{snapshotNotFoundStderr},
	})
	if err != nil {
		return err
	}
	m.log.Debug("snapshot destroyed", zap.String("snapshot", snapshot))
	return nil
}

// CreateSnapshot takes a recursive snapshot of the dataset.
func (m *Manager) CreateSnapshot(ctx context.Context, dataset, name string) error {
	_, err := m.run.Run(ctx, toolexec.Invocation{
		Path: m.path,
		Args: []string{"snapshot", "-r", dataset + "@" + name},
	})
	if err != nil {
		return err
	}
	m.log.Debug("snapshot created", zap.String("snapshot", dataset+"@"+name))
	return nil
}

// EstimateSendSize asks the tool how many bytes a full replicated send of the
// snapshot would move, without sending anything. The tool reports this as a
// trailing "size <integer>" line; a missing line is a hard error, never a
// silent zero.
func (m *Manager) EstimateSendSize(ctx context.Context, snapshot string) (int64, error) {
	result, err := m.run.Run(ctx, toolexec.Invocation{
		Path: m.path,
		Args: []string{"send", "--dryrun", "--parsable", "--replicate", snapshot},
	})
	if err != nil {
		return 0, err
	}

	size, ok := parseSendSize(result.Stdout)
	if !ok {
		return 0, fmt.Errorf("no size line in dry-run send output for %s", snapshot)
	}
	return size, nil
}

func parseSendSize(output string) (int64, bool) {
	var (
		size  int64
		found bool
	)
	for _, line := range strings.Split(output, "\n") {
		match := sizeLine.FindStringSubmatch(strings.ReplaceAll(line, "\t", " "))
		if match == nil {
			continue
		}
		parsed, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			continue
		}
		size = parsed
		found = true
	}
	return size, found
}

// ListSnapshots returns every snapshot under the dataset, one full name per
// line of tool output. Blank output means the dataset has no snapshots.
func (m *Manager) ListSnapshots(ctx context.Context, dataset string) ([]string, error) {
	result, err := m.run.Run(ctx, toolexec.Invocation{
		Path: m.path,
		Args: []string{"list", "-t", "snapshot", "-r", "-H", "-o", "name", dataset},
	})
	if err != nil {
		return nil, err
	}

	var snapshots []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			snapshots = append(snapshots, line)
		}
	}
	return snapshots, nil
}

// Mount mounts a filesystem.
func (m *Manager) Mount(ctx context.Context, filesystem string) error {
	_, err := m.run.Run(ctx, toolexec.Invocation{
		Path: m.path,
		Args: []string{"mount", filesystem},
	})
	return err
}

// IsSyncSnapshot reports whether a full snapshot name was created by a
// migration run. Cleanup must never touch user snapshots.
func IsSyncSnapshot(snapshot string) bool {
	idx := strings.IndexByte(snapshot, '@')
	if idx < 0 {
		return false
	}
	return strings.HasPrefix(snapshot[idx+1:], SyncSnapshotPrefix)
}
