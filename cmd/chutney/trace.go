package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/NathanRodet/chutney/pkg/trace"
)

var traceVerifyCmd = &cobra.Command{
	Use:   "verify [trace.jsonl]",
	Short: "Verify trace file integrity (hash chain)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceVerify,
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	result, err := trace.VerifyFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !result.Valid {
		fmt.Fprintf(out, "✗ Chain broken at event %d\n", result.BrokenAt)
		if result.Error != "" {
			fmt.Fprintf(out, "  %s\n", result.Error)
		}
		return fmt.Errorf("chain verification failed")
	}
	fmt.Fprintf(out, "✓ Chain integrity: %d events, no breaks\n", result.EventCount)
	return nil
}

var traceShowExecution int64

var traceShowCmd = &cobra.Command{
	Use:   "show [trace.jsonl]",
	Short: "Print trace records, optionally for one execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		records, err := trace.Read(f)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range records {
			if traceShowExecution != 0 && r.ExecutionID != traceShowExecution {
				continue
			}
			fmt.Fprintf(out, "%5d  %s  #%d  %-15s %-8s %s %s\n",
				r.Seq, r.Timestamp.Format(time.RFC3339), r.ExecutionID, r.Kind, r.Path, r.Status, r.Step)
		}
		return nil
	},
}

func init() {
	traceShowCmd.Flags().Int64Var(&traceShowExecution, "execution", 0, "only show records of this execution id")
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace file operations",
	}
	traceCmd.AddCommand(traceVerifyCmd, traceShowCmd)
	rootCmd.AddCommand(traceCmd)
}
