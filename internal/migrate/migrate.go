// Package migrate implements the bodies of the isolated migration workers.
// A worker performs one full transfer leg (send or receive), reporting a
// single result back to the supervising session; everything written to
// stderr is captured by the session for diagnosis.
package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"

	"github.com/zoneops/agent/internal/vm"
	"github.com/zoneops/agent/internal/worker"
	"go.uber.org/zap"
)

// SendParams direct one send leg: stream every migration dataset of the
// workload to the receiving node, one connection per dataset.
type SendParams struct {
	VM         vm.Workload `json:"vm"`
	TargetHost string      `json:"target_host"`
	TargetPort int         `json:"target_port"`
	Snapshot   string      `json:"snapshot"`
}

// ReceiveParams direct one receive leg: accept one stream per dataset and
// apply it.
type ReceiveParams struct {
	Datasets   []string `json:"datasets"`
	ListenHost string   `json:"listen_host"`
	ListenPort int      `json:"listen_port"`
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// RunSend streams each dataset's replicated snapshot to the target.
func RunSend(ctx context.Context, zfsPath string, init worker.InitMessage, log *zap.Logger) (map[string]any, error) {
	var params SendParams
	if err := unmarshalParams(init, &params); err != nil {
		return nil, err
	}
	if params.TargetHost == "" || params.TargetPort == 0 {
		return nil, fmt.Errorf("no transfer target supplied")
	}
	if params.Snapshot == "" {
		return nil, fmt.Errorf("no sync snapshot supplied")
	}

	addr := fmt.Sprintf("%s:%d", params.TargetHost, params.TargetPort)
	datasets := params.VM.MigrationDatasets()

	var total int64
	for _, dataset := range datasets {
		n, err := sendDataset(ctx, zfsPath, dataset+"@"+params.Snapshot, addr, log)
		if err != nil {
			return nil, err
		}
		total += n
	}

	log.Info("send complete",
		zap.Int("datasets", len(datasets)),
		zap.Int64("bytes", total),
	)
	return map[string]any{
		"bytesSent": total,
		"datasets":  len(datasets),
	}, nil
}

func sendDataset(ctx context.Context, zfsPath, snapshot, addr string, log *zap.Logger) (int64, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	counter := &countingWriter{w: conn}
	cmd := exec.CommandContext(ctx, zfsPath, "send", "--replicate", snapshot)
	cmd.Stdout = counter
	cmd.Stderr = os.Stderr

	log.Info("streaming dataset", zap.String("snapshot", snapshot))
	if err := cmd.Run(); err != nil {
		return counter.n, fmt.Errorf("send %s: %w", snapshot, err)
	}
	return counter.n, nil
}

// RunReceive accepts one stream per expected dataset and applies it.
func RunReceive(ctx context.Context, zfsPath string, init worker.InitMessage, log *zap.Logger) (map[string]any, error) {
	var params ReceiveParams
	if err := unmarshalParams(init, &params); err != nil {
		return nil, err
	}
	if len(params.Datasets) == 0 {
		return nil, fmt.Errorf("no datasets supplied")
	}

	addr := fmt.Sprintf("%s:%d", params.ListenHost, params.ListenPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	defer listener.Close()
	log.Info("listening for transfer", zap.String("addr", listener.Addr().String()))

	for _, dataset := range params.Datasets {
		if err := receiveDataset(ctx, zfsPath, dataset, listener, log); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"datasets": len(params.Datasets),
	}, nil
}

func receiveDataset(ctx context.Context, zfsPath, dataset string, listener net.Listener, log *zap.Logger) error {
	conn, err := listener.Accept()
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()

	cmd := exec.CommandContext(ctx, zfsPath, "receive", "-u", "-F", dataset)
	cmd.Stdin = conn
	cmd.Stderr = os.Stderr

	log.Info("receiving dataset", zap.String("dataset", dataset))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("receive %s: %w", dataset, err)
	}
	return nil
}

func unmarshalParams(init worker.InitMessage, v any) error {
	if len(init.Parameters) == 0 {
		return fmt.Errorf("no parameters in init message")
	}
	if err := json.Unmarshal(init.Parameters, v); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}
