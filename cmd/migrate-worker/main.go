// migrate-worker is the isolated worker the agent spawns for long-running
// migration transfers. It reads a single initiation message on stdin, runs
// one transfer leg, and writes a single result message to stdout. All
// diagnostics go to stderr, where the supervising session captures them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zoneops/agent/internal/logging"
	"github.com/zoneops/agent/internal/migrate"
	"github.com/zoneops/agent/internal/worker"
	"go.uber.org/zap"
)

func main() {
	mode := flag.String("mode", "", "transfer leg to run: send or receive")
	zfsPath := flag.String("zfs", "/sbin/zfs", "path to the storage tool")
	flag.Parse()

	var init worker.InitMessage
	if err := json.NewDecoder(os.Stdin).Decode(&init); err != nil {
		writeResult(map[string]any{
			"error": worker.ResultError{Message: fmt.Sprintf("failed to read init message: %v", err)},
		})
		os.Exit(1)
	}

	log := logging.NewStderr(init.LoggerName)
	defer log.Sync()

	log.Info("worker initialized",
		zap.String("mode", *mode),
		zap.String("request_id", init.RequestID),
		zap.String("target_uuid", init.TargetUUID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		result map[string]any
		err    error
	)
	switch *mode {
	case "send":
		result, err = migrate.RunSend(ctx, *zfsPath, init, log)
	case "receive":
		result, err = migrate.RunReceive(ctx, *zfsPath, init, log)
	default:
		err = fmt.Errorf("unknown worker mode %q", *mode)
	}

	if err != nil {
		log.Error("transfer failed", zap.Error(err))
		writeResult(map[string]any{
			"error": worker.ResultError{Message: err.Error()},
		})
		return
	}

	writeResult(result)
}

func writeResult(msg map[string]any) {
	if err := json.NewEncoder(os.Stdout).Encode(msg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write result: %v\n", err)
		os.Exit(1)
	}
}
