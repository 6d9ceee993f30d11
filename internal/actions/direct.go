package actions

import (
	"context"

	"github.com/zoneops/agent/internal/task"
)

type mountParams struct {
	Zpool string `json:"zpool,omitempty"`
	UUID  string `json:"uuid"`
}

type setPropertyParams struct {
	UUID     string `json:"uuid"`
	Property string `json:"property"`
	Value    string `json:"value"`
}

// runMount mounts a workload's filesystem after a completed receive.
func (d *Dispatcher) runMount(ctx context.Context, t *task.Task) {
	var params mountParams
	if err := decodeParams(t, &params); err != nil {
		t.Fatal(err.Error(), "")
		return
	}
	if params.UUID == "" {
		err := &ValidationError{Msg: "no workload uuid supplied"}
		t.Fatal(err.Error(), "")
		return
	}
	zpool := params.Zpool
	if zpool == "" {
		zpool = d.cfg.Migration.Zpool
	}

	if err := d.zfs.Mount(ctx, zpool+"/"+params.UUID); err != nil {
		t.Fatal(err.Error(), "")
		return
	}
	t.Finish(nil)
}

// runSetProperty updates a single property on a workload record.
func (d *Dispatcher) runSetProperty(ctx context.Context, t *task.Task) {
	var params setPropertyParams
	if err := decodeParams(t, &params); err != nil {
		t.Fatal(err.Error(), "")
		return
	}
	if params.UUID == "" || params.Property == "" {
		err := &ValidationError{Msg: "uuid and property are required"}
		t.Fatal(err.Error(), "")
		return
	}

	if err := d.vmctl.Update(ctx, params.UUID, params.Property, params.Value); err != nil {
		t.Fatal(err.Error(), "")
		return
	}
	t.Finish(nil)
}
