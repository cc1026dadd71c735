package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vpe/config"
	"vpe/logging"
	"vpe/service"
)

var monitorInterval time.Duration

var runCmd = &cobra.Command{
	Use:   "run <file|->",
	Short: "Run one job synchronously on this host, without the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readPayload(cmd, args[0])
		if err != nil {
			return err
		}

		cfg := config.LoadConfig()
		closer, err := logging.Setup(logging.Options{
			Dir:        cfg.LogsDir,
			FileName:   "vpectl.log",
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAgeDays: cfg.LogMaxAgeDays,
			Compress:   cfg.LogCompress,
		})
		if err != nil {
			return err
		}
		defer closer.Close()

		worker, err := service.OpenWorker(cfg)
		if err != nil {
			return err
		}
		defer worker.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if worker.Monitor != nil && monitorInterval > 0 {
			monCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			worker.Monitor.StartMonitoring(monCtx, monitorInterval)
		}

		outcome, runErr := worker.Runner.HandlePayload(ctx, data)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome); err != nil {
			return err
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().DurationVar(&monitorInterval, "monitor", 30*time.Second, "resource usage log interval (0 disables)")
}
