package actions

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/zoneops/agent/internal/pipeline"
	"github.com/zoneops/agent/internal/task"
	"github.com/zoneops/agent/internal/vm"
	"github.com/zoneops/agent/internal/zfs"
)

type removeSyncSnapshotsParams struct {
	VM vm.Workload `json:"vm"`

	// OverrideUUID substitutes another workload uuid into the dataset
	// names. Only permitted when the non-production marker file exists on
	// the host; absence fails the task before anything is deleted.
	OverrideUUID string `json:"override_uuid,omitempty"`
}

// runRemoveSyncSnapshots deletes every migration-created snapshot on the
// workload's datasets. Datasets are cleaned in parallel; within a dataset,
// snapshots go one at a time.
func (d *Dispatcher) runRemoveSyncSnapshots(ctx context.Context, t *task.Task) {
	var params removeSyncSnapshotsParams
	if err := decodeParams(t, &params); err != nil {
		t.Fatal(err.Error(), "")
		return
	}
	if params.VM.UUID == "" || params.VM.ZfsFilesystem == "" {
		err := &ValidationError{Msg: "vm with uuid and zfs_filesystem is required"}
		t.Fatal(err.Error(), "")
		return
	}

	datasets := params.VM.MigrationDatasets()

	if params.OverrideUUID != "" && params.OverrideUUID != params.VM.UUID {
		marker := d.cfg.Migration.OverrideMarkerPath
		if _, err := os.Stat(marker); err != nil {
			t.Fatal(fmt.Sprintf("uuid override requires marker file %s", marker), "")
			return
		}
		for i := range datasets {
			datasets[i] = strings.ReplaceAll(datasets[i], params.VM.UUID, params.OverrideUUID)
		}
	}

	err := pipeline.Parallel(ctx, datasets, func(ctx context.Context, dataset string) error {
		snapshots, err := d.zfs.ListSnapshots(ctx, dataset)
		if err != nil {
			return err
		}
		for _, snapshot := range snapshots {
			if !zfs.IsSyncSnapshot(snapshot) {
				continue
			}
			if err := d.zfs.DestroySnapshot(ctx, snapshot); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err.Error(), "")
		return
	}

	t.Finish(nil)
}
