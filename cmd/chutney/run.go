package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/NathanRodet/chutney/pkg/config"
	"github.com/NathanRodet/chutney/pkg/report"
	"github.com/NathanRodet/chutney/pkg/scenario"
	"github.com/NathanRodet/chutney/pkg/tui"
)

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [scenario.yaml]",
	Short: "Validate a scenario YAML file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	eng, stop, err := newEngine(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer stop()
	s, err := loadValid(cmd.ErrOrStderr(), args[0], eng.Registry().Types())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d steps)\n", s.Title, s.Root().Count())
	return nil
}

// loadValid runs the validation pipeline, printing warnings and errors.
func loadValid(w io.Writer, path string, actionTypes []string) (*scenario.Scenario, error) {
	s, errs := scenario.ValidateFile(path, actionTypes)
	var failures []*scenario.ValidationError
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(w, "  ⚠ [%s] %s\n", e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(w, "    at: %s\n", e.Path)
			}
			continue
		}
		failures = append(failures, e)
	}
	if len(failures) > 0 {
		fmt.Fprintf(w, "Validation failed: %d error(s)\n\n", len(failures))
		for i, e := range failures {
			fmt.Fprintf(w, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(w, "     at: %s\n", e.Path)
			}
		}
		return nil, fmt.Errorf("validation failed with %d error(s)", len(failures))
	}
	return s, nil
}

// --- run ---

var (
	runVars     []string
	runFormat   string
	runTUI      bool
	runTrace    string
	runMetrics  string
	runMaxWidth int
)

var runCmd = &cobra.Command{
	Use:   "run [scenario.yaml]",
	Short: "Execute a scenario and print its report",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	vars, err := parseVars(runVars)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	eng, stop, err := newEngine(ctx, func(c *config.Config) {
		if runTrace != "" {
			c.Trace.Path = runTrace
		}
		if runMetrics != "" {
			c.Metrics.Enabled = true
			c.Metrics.Address = runMetrics
		}
	})
	if err != nil {
		return err
	}
	defer stop()

	s, err := loadValid(cmd.ErrOrStderr(), args[0], eng.Registry().Types())
	if err != nil {
		return err
	}
	id, err := eng.ExecuteAsync(ctx, s.Root(), mergeVars(s.Context, vars))
	if err != nil {
		return err
	}
	if runTUI {
		if err := tui.Run(ctx, eng, id, s.Title); err != nil {
			return err
		}
	}
	go func() {
		<-ctx.Done()
		eng.Stop(id) // Ctrl-C stops cooperatively
	}()

	final, err := eng.Wait(cmd.Context(), id)
	if err != nil {
		return err
	}
	if err := printReport(cmd.OutOrStdout(), final, runFormat, runMaxWidth); err != nil {
		return err
	}
	if final.Status != report.StatusSuccess {
		return fmt.Errorf("execution %d ended %s", id, final.Status)
	}
	return nil
}

// mergeVars overlays flag variables on the scenario context.
func mergeVars(base, extra map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any, len(extra))
	}
	maps.Copy(out, extra)
	return out
}

func printReport(w io.Writer, r *report.StepExecutionReport, format string, width int) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "markdown":
		_, err := io.WriteString(w, report.Markdown(r))
		return err
	case "pretty", "":
		md := report.Markdown(r)
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			if out, err := renderer.Render(md); err == nil {
				md = strings.TrimRight(out, "\n") + "\n"
			}
		}
		_, err = io.WriteString(w, md)
		return err
	default:
		return fmt.Errorf("unknown --format %q: use pretty, markdown or json", format)
	}
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export the scenario JSON Schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := scenario.GenerateJSONSchema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

// --- actions ---

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List the registered action types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, stop, err := newEngine(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer stop()
		for _, typ := range eng.Registry().Types() {
			fmt.Fprintln(cmd.OutOrStdout(), typ)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "context variable key=value (repeatable)")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "pretty", "report format: pretty, markdown or json")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "follow the execution in an interactive TUI")
	runCmd.Flags().StringVar(&runTrace, "trace", "", "append the JSONL audit trace to this file")
	runCmd.Flags().StringVar(&runMetrics, "metrics-addr", "", "serve prometheus metrics on this address while running")
	runCmd.Flags().IntVar(&runMaxWidth, "width", 100, "word-wrap width of the pretty report")

	rootCmd.AddCommand(validateCmd, runCmd, schemaCmd, actionsCmd)
}
