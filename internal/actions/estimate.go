package actions

import (
	"context"
	"sync/atomic"

	"github.com/zoneops/agent/internal/pipeline"
	"github.com/zoneops/agent/internal/task"
	"github.com/zoneops/agent/internal/vm"
	"github.com/zoneops/agent/internal/zfs"
	"go.uber.org/zap"
)

type estimateParams struct {
	VM vm.Workload `json:"vm"`
}

// estimateContext is the per-dataset pipeline state. snapshotCreated gates
// the compensating delete: a snapshot this run created must never outlive
// the run, whatever else fails.
type estimateContext struct {
	dataset         string
	snapshot        string
	snapshotCreated bool
	size            int64
}

// runEstimate computes how many bytes a replication transfer of the workload
// would move, without transferring anything. Every migration dataset runs
// its own four-step saga; the per-dataset sizes accumulate into one total.
func (d *Dispatcher) runEstimate(ctx context.Context, t *task.Task) {
	var params estimateParams
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

	var (
		total     atomic.Int64
		completed atomic.Int64
	)
	err := pipeline.Parallel(ctx, datasets, func(ctx context.Context, dataset string) error {
		if err := d.estimateDataset(ctx, t.Logger(), dataset, &total); err != nil {
			return err
		}
		done := completed.Add(1)
		t.Progress(int(done * 100 / int64(len(datasets))))
		return nil
	})
	if err != nil {
		t.Fatal(err.Error(), "")
		return
	}

	t.Finish(task.Result{"size": total.Load()})
}

func (d *Dispatcher) estimateDataset(ctx context.Context, log *zap.Logger, dataset string, total *atomic.Int64) error {
	pc := &estimateContext{
		dataset:  dataset,
		snapshot: zfs.EstimateSnapshot(dataset),
	}

	steps := []pipeline.Step[estimateContext]{
		{
			// A stale snapshot from an interrupted earlier run must not
			// distort the measurement.
			Name: "delete stale estimate snapshot",
			Run: func(ctx context.Context, pc *estimateContext) error {
				return d.zfs.DestroySnapshot(ctx, pc.snapshot)
			},
		},
		{
			Name: "create estimate snapshot",
			Run: func(ctx context.Context, pc *estimateContext) error {
				if err := d.zfs.CreateSnapshot(ctx, pc.dataset, zfs.EstimateSnapshotName); err != nil {
					return err
				}
				pc.snapshotCreated = true
				return nil
			},
			Compensate: func(ctx context.Context, pc *estimateContext) error {
				if !pc.snapshotCreated {
					return nil
				}
				return d.zfs.DestroySnapshot(ctx, pc.snapshot)
			},
		},
		{
			Name: "estimate send size",
			Run: func(ctx context.Context, pc *estimateContext) error {
				size, err := d.zfs.EstimateSendSize(ctx, pc.snapshot)
				if err != nil {
					return err
				}
				pc.size = size
				total.Add(size)
				return nil
			},
		},
		{
			Name: "delete estimate snapshot",
			Run: func(ctx context.Context, pc *estimateContext) error {
				return d.zfs.DestroySnapshot(ctx, pc.snapshot)
			},
		},
	}

	if err := pipeline.Run(ctx, log, pc, steps); err != nil {
		return err
	}
	log.Debug("dataset estimated",
		zap.String("dataset", dataset),
		zap.Int64("size", pc.size),
	)
	return nil
}
