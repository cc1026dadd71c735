package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vpectl",
	Short: "Operate the video order-processing worker",
	Long:  `Validate job descriptions, queue them for the worker, or run one synchronously on this host.`,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(runCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readPayload reads a job description from a file, or stdin for "-".
func readPayload(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job description: %w", err)
	}
	return data, nil
}
