// Package vmctl wraps the workload management tool.
package vmctl

import (
	"context"
	"fmt"

	"github.com/zoneops/agent/internal/toolexec"
	"go.uber.org/zap"
)

type CommandRunner interface {
	Run(ctx context.Context, inv toolexec.Invocation) (*toolexec.Result, error)
}

type Manager struct {
	path string
	run  CommandRunner
	log  *zap.Logger
}

func NewManager(path string, run CommandRunner, log *zap.Logger) *Manager {
	return &Manager{path: path, run: run, log: log}
}

// Update sets a single property on a workload.
func (m *Manager) Update(ctx context.Context, uuid, property, value string) error {
	_, err := m.run.Run(ctx, toolexec.Invocation{
		Path: m.path,
		Args: []string{"update", uuid, fmt.Sprintf("%s=%s", property, value)},
	})
	if err != nil {
		return err
	}
	m.log.Info("workload property updated",
		zap.String("uuid", uuid),
		zap.String("property", property),
	)
	return nil
}
