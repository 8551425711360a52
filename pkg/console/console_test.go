package console

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/NathanRodet/chutney/pkg/config"
	"github.com/NathanRodet/chutney/pkg/engine"
)

func newConsole(t *testing.T) (*Console, *bytes.Buffer) {
	t.Helper()
	eng, err := engine.New(config.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Close() })
	var buf bytes.Buffer
	c := New(eng)
	c.SetOutput(&buf)
	return c, &buf
}

// TestConsoleHelp verifies help output lists all commands.
func TestConsoleHelp(t *testing.T) {
	c, buf := newConsole(t)
	c.Dispatch(context.Background(), "help")
	out := buf.String()
	for _, cmd := range commands {
		if !strings.Contains(out, cmd) {
			t.Errorf("help output missing command %q", cmd)
		}
	}
}

func TestConsoleRunWaitReport(t *testing.T) {
	c, buf := newConsole(t)
	ctx := context.Background()

	c.Dispatch(ctx, "run testdata/ok.yaml")
	if !strings.Contains(buf.String(), "Started execution #1: ok") {
		t.Fatalf("output = %q", buf.String())
	}
	buf.Reset()
	c.Dispatch(ctx, "wait")
	if !strings.Contains(buf.String(), "#1 finished: ✓ SUCCESS") {
		t.Errorf("wait output = %q", buf.String())
	}
	buf.Reset()
	c.Dispatch(ctx, "status 1")
	if got := buf.String(); got != "#1 Ended\n" {
		t.Errorf("status output = %q", got)
	}
	if p := c.prompt(); p != "chutney[#1 Ended]> " {
		t.Errorf("prompt = %q", p)
	}
}

func TestConsoleStop(t *testing.T) {
	c, buf := newConsole(t)
	ctx := context.Background()
	c.Dispatch(ctx, "run testdata/slow.yaml")
	buf.Reset()

	c.Dispatch(ctx, "stop")
	if !strings.Contains(buf.String(), "stop #1") {
		t.Errorf("stop output = %q", buf.String())
	}
	// a second stop is a no-op, not an error
	buf.Reset()
	c.Dispatch(ctx, "stop 1")
	if strings.Contains(buf.String(), "Error") {
		t.Errorf("second stop = %q", buf.String())
	}
	buf.Reset()
	c.Dispatch(ctx, "wait 1")
	if !strings.Contains(buf.String(), "STOPPED") {
		t.Errorf("wait output = %q", buf.String())
	}
}

func TestConsoleErrors(t *testing.T) {
	c, buf := newConsole(t)
	ctx := context.Background()
	tests := []struct {
		line string
		want string
	}{
		{"status", "nothing started yet"},
		{"pause abc", `invalid execution id "abc"`},
		{"resume 99", "execution 99"},
		{"run", "usage: run"},
		{"run testdata/missing.yaml", "is invalid"},
		{"frobnicate", `Unknown command: "frobnicate"`},
	}
	for _, tt := range tests {
		buf.Reset()
		if c.Dispatch(ctx, tt.line) {
			t.Errorf("%q should not quit", tt.line)
		}
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("%q output = %q, want %q", tt.line, buf.String(), tt.want)
		}
	}
}

func TestConsoleQuit(t *testing.T) {
	c, _ := newConsole(t)
	if !c.Dispatch(context.Background(), "quit") {
		t.Error("quit should exit")
	}
	if c.Dispatch(context.Background(), "   ") {
		t.Error("blank line should not exit")
	}
}
