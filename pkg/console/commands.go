package console

import (
	"context"
	"fmt"
	"strconv"

	"github.com/NathanRodet/chutney/pkg/report"
	"github.com/NathanRodet/chutney/pkg/scenario"
)

// handleRun validates and starts a scenario file.
func (c *Console) handleRun(ctx context.Context, parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("usage: run <scenario.yaml>")
	}
	s, errs := scenario.ValidateFile(parts[1], c.engine.Registry().Types())
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(c.output, "  warning: %s: %s\n", e.Path, e.Message)
		}
	}
	if scenario.HasErrors(errs) {
		for _, e := range errs {
			if e.Severity == "error" {
				fmt.Fprintf(c.output, "  ✗ [%s] %s: %s\n", e.Phase, e.Path, e.Message)
			}
		}
		return fmt.Errorf("%s is invalid", parts[1])
	}

	// runs belong to the console session, not to this command
	id, err := c.engine.RunScenario(context.WithoutCancel(ctx), s)
	if err != nil {
		return err
	}
	c.last = id
	fmt.Fprintf(c.output, "Started execution #%d: %s\n", id, s.Title)
	return nil
}

func (c *Console) handleActive() {
	ids := c.engine.Active()
	if len(ids) == 0 {
		fmt.Fprintf(c.output, "No active executions.\n")
		return
	}
	for _, id := range ids {
		st, _ := c.engine.Status(id)
		fmt.Fprintf(c.output, "  #%d  %s\n", id, st)
	}
}

func (c *Console) handleStatus(parts []string) error {
	id, err := c.id(parts)
	if err != nil {
		return err
	}
	st, err := c.engine.Status(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "#%d %s\n", id, st)
	return nil
}

func (c *Console) handleControl(parts []string, op string, fn func(int64) error) error {
	id, err := c.id(parts)
	if err != nil {
		return err
	}
	if err := fn(id); err != nil {
		return err
	}
	st, _ := c.engine.Status(id)
	fmt.Fprintf(c.output, "%s #%d: %s\n", op, id, st)
	return nil
}

func (c *Console) handleReport(parts []string) error {
	id, err := c.id(parts)
	if err != nil {
		return err
	}
	r, err := c.engine.Snapshot(id)
	if err != nil {
		return err
	}
	fmt.Fprint(c.output, report.Markdown(r))
	return nil
}

func (c *Console) handleWait(ctx context.Context, parts []string) error {
	id, err := c.id(parts)
	if err != nil {
		return err
	}
	r, err := c.engine.Wait(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "#%d finished: %s %s\n", id, report.Glyph(r.Status), r.Status)
	return nil
}

func (c *Console) handleActions() {
	for _, typ := range c.engine.Registry().Types() {
		fmt.Fprintf(c.output, "  %s\n", typ)
	}
}

func (c *Console) handleHelp() {
	fmt.Fprintf(c.output, `Commands:
  run <file>     Validate and start a scenario (alias: r)
  active         List running and paused executions (alias: ls)
  status [id]    Show the lifecycle state (alias: st)
  pause [id]     Pause at the next step boundary
  resume [id]    Resume a paused execution
  stop [id]      Stop; the running action completes first
  report [id]    Print the current report as markdown
  wait [id]      Block until the execution finishes (alias: w)
  actions        List registered action types
  help           Show this help (alias: ?)
  quit           Exit the console (alias: q)

Commands without an id use the most recent execution.
`)
}

// id parses the optional id argument, defaulting to the last run.
func (c *Console) id(parts []string) (int64, error) {
	if len(parts) < 2 {
		if c.last == 0 {
			return 0, fmt.Errorf("no execution id given and nothing started yet")
		}
		return c.last, nil
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid execution id %q", parts[1])
	}
	return id, nil
}
