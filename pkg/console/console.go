// Package console provides an interactive REPL for starting scenarios and
// steering the runs of a long-lived engine.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/NathanRodet/chutney/pkg/engine"
)

var commands = []string{"run", "active", "status", "pause", "resume", "stop",
	"report", "wait", "actions", "help", "quit"}

// Console is a line-oriented controller over an engine.
type Console struct {
	engine *engine.Engine
	output io.Writer
	rl     *readline.Instance
	last   int64 // most recent execution id, used when a command omits it
}

// New creates a console writing to stdout.
func New(eng *engine.Engine) *Console {
	return &Console{engine: eng, output: os.Stdout}
}

// SetOutput redirects command output.
func (c *Console) SetOutput(w io.Writer) {
	c.output = w
}

// Run starts the interactive REPL loop.
func (c *Console) Run(ctx context.Context) error {
	completer := readline.NewPrefixCompleter()
	for _, cmd := range commands {
		completer.Children = append(completer.Children, readline.PcItem(cmd))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.prompt(),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	c.rl = rl
	defer rl.Close()
	c.output = rl.Stdout()

	fmt.Fprintf(c.output, "chutney console: %d action types registered\n", len(c.engine.Registry().Types()))
	fmt.Fprintf(c.output, "Type 'help' for available commands, 'run <file>' to start a scenario.\n\n")

	for {
		rl.SetPrompt(c.prompt())
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if c.Dispatch(ctx, line) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Dispatch runs one command line. It reports whether the console should exit.
func (c *Console) Dispatch(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	var err error
	switch parts[0] {
	case "run", "r":
		err = c.handleRun(ctx, parts)
	case "active", "ls":
		c.handleActive()
	case "status", "st":
		err = c.handleStatus(parts)
	case "pause":
		err = c.handleControl(parts, "pause", c.engine.Pause)
	case "resume":
		err = c.handleControl(parts, "resume", c.engine.Resume)
	case "stop":
		err = c.handleControl(parts, "stop", c.engine.Stop)
	case "report":
		err = c.handleReport(parts)
	case "wait", "w":
		err = c.handleWait(ctx, parts)
	case "actions":
		c.handleActions()
	case "help", "?":
		c.handleHelp()
	case "quit", "q", "exit":
		fmt.Fprintf(c.output, "Exiting console.\n")
		return true
	default:
		fmt.Fprintf(c.output, "Unknown command: %q. Type 'help' for available commands.\n", parts[0])
	}
	if err != nil {
		fmt.Fprintf(c.output, "Error: %v\n", err)
	}
	return false
}

// prompt shows the state of the most recent execution: chutney[#3 Running]>
func (c *Console) prompt() string {
	if c.last == 0 {
		return "chutney> "
	}
	st, err := c.engine.Status(c.last)
	if err != nil {
		return "chutney> "
	}
	return fmt.Sprintf("chutney[#%d %s]> ", c.last, st)
}
