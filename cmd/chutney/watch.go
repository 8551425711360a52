package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/NathanRodet/chutney/pkg/report"
	"github.com/NathanRodet/chutney/pkg/strategy"
)

var (
	watchInterval string
	watchCount    int
	watchStopOn   string
	watchVars     []string
)

var watchCmd = &cobra.Command{
	Use:   "watch [scenario.yaml]",
	Short: "Run a scenario repeatedly at an interval",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	interval, err := strategy.ParseDuration(watchInterval)
	if err != nil {
		return fmt.Errorf("invalid --interval: %w", err)
	}
	var stopOn report.Status
	switch watchStopOn {
	case "":
	case "success", "SUCCESS":
		stopOn = report.StatusSuccess
	case "failure", "FAILURE":
		stopOn = report.StatusFailure
	default:
		return fmt.Errorf("invalid --stop-on %q: use success or failure", watchStopOn)
	}
	vars, err := parseVars(watchVars)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()
	eng, stop, err := newEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer stop()

	// Validate once upfront
	s, err := loadValid(cmd.ErrOrStderr(), args[0], eng.Registry().Types())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for iteration := 1; ; iteration++ {
		id, final, err := eng.Execute(ctx, s.Root(), mergeVars(s.Context, vars))
		if err != nil {
			if ctx.Err() != nil {
				eng.Stop(id)
				return nil
			}
			return err
		}
		fmt.Fprintf(out, "[%s] #%d %s %s (%s)\n",
			time.Now().Format(time.TimeOnly), iteration, report.Glyph(final.Status), final.Status,
			final.Duration.Truncate(time.Millisecond))

		if stopOn != "" && final.Status == stopOn {
			fmt.Fprintf(out, "stopping: run #%d ended %s\n", iteration, final.Status)
			return nil
		}
		if watchCount > 0 && iteration >= watchCount {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func init() {
	watchCmd.Flags().StringVar(&watchInterval, "interval", "30 s", "delay between runs (e.g. 10s, 5 min)")
	watchCmd.Flags().IntVar(&watchCount, "count", 0, "stop after this many runs (0 = forever)")
	watchCmd.Flags().StringVar(&watchStopOn, "stop-on", "", "stop when a run ends with this status: success or failure")
	watchCmd.Flags().StringArrayVar(&watchVars, "var", nil, "context variable key=value (repeatable)")
	rootCmd.AddCommand(watchCmd)
}
