package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vpe/order"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file|->",
	Short: "Check a job description and print the derived names",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readPayload(cmd, args[0])
		if err != nil {
			return err
		}
		spec, err := order.Parse(data)
		if err != nil {
			return err
		}
		printSpec(cmd, spec, time.Now())
		return nil
	},
}

func printSpec(cmd *cobra.Command, spec order.Spec, at time.Time) {
	out := cmd.OutOrStdout()
	source := "live " + spec.Live.Camera.Address
	if spec.UseStored {
		source = "stored " + spec.Stored.Filename
	}
	trim := "none"
	if spec.PerformTrimming && spec.Trim != nil && spec.Trim.Kind() != order.TrimNone {
		trim = string(spec.Trim.Kind())
	}

	fmt.Fprintf(out, "job id:     %s\n", spec.JobID)
	fmt.Fprintf(out, "bucket:     %s\n", spec.BucketName())
	fmt.Fprintf(out, "order name: %s\n", spec.OrderName(at))
	fmt.Fprintf(out, "video type: %s\n", spec.VideoType())
	fmt.Fprintf(out, "source:     %s\n", source)
	fmt.Fprintf(out, "trim:       %s\n", trim)
}
