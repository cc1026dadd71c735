package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vpe/config"
	"vpe/database"
	"vpe/queue"
	"vpe/service"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <file|->",
	Short: "Record a job description and queue it for the worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readPayload(cmd, args[0])
		if err != nil {
			return err
		}

		cfg := config.LoadConfig()
		if err := config.EnsurePaths(cfg); err != nil {
			return err
		}
		db, err := database.NewSQLiteDB(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer db.Close()

		spec, err := service.NewRunner(nil, db, 1, "", nil).Submit(data)
		if err != nil {
			return err
		}
		payload, err := spec.Payload()
		if err != nil {
			return err
		}

		broker := queue.NewBroker(queue.Options{
			RedisAddr:     cfg.RedisAddr,
			RedisPassword: cfg.RedisPassword,
			RedisDB:       cfg.RedisDB,
			Queue:         cfg.QueueName,
		})
		defer broker.Close()

		info, err := broker.Enqueue(cmd.Context(), spec.JobID, payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %s on %s\n", spec.JobID, info.Queue)
		return nil
	},
}
