package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NathanRodet/chutney/pkg/config"
	"github.com/NathanRodet/chutney/pkg/engine"
	"github.com/NathanRodet/chutney/pkg/report"
)

func newHandlers(t *testing.T) *Handlers {
	t.Helper()
	eng, err := engine.New(config.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Close() })
	return &Handlers{Engine: eng}
}

func call(t *testing.T, fn func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := fn(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T, want TextContent", result.Content[0])
	}
	return result, text.Text
}

func TestValidate_MissingPath(t *testing.T) {
	h := newHandlers(t)
	result, _ := call(t, h.Validate, map[string]any{})
	if !result.IsError {
		t.Error("expected error for missing path")
	}
}

func TestValidate_Valid(t *testing.T) {
	h := newHandlers(t)
	result, text := call(t, h.Validate, map[string]any{"path": "testdata/greet.yaml"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "greet is valid (3 steps)") {
		t.Errorf("text = %q", text)
	}
}

func TestSchema(t *testing.T) {
	h := newHandlers(t)
	result, text := call(t, h.Schema, nil)
	if result.IsError {
		t.Fatal(text)
	}
	if !json.Valid([]byte(text)) {
		t.Error("schema is not valid JSON")
	}
}

func TestActions_ListsBuiltins(t *testing.T) {
	h := newHandlers(t)
	_, text := call(t, h.Actions, nil)
	for _, typ := range []string{"compare", "context-put", "exec", "sleep"} {
		if !strings.Contains(text, typ) {
			t.Errorf("actions missing %s: %q", typ, text)
		}
	}
}

func TestRun_VarsOverrideContext(t *testing.T) {
	h := newHandlers(t)

	result, text := call(t, h.Run, map[string]any{"path": "testdata/greet.yaml"})
	if !result.IsError {
		t.Errorf("expected failure with scenario context, got %s", text)
	}

	result, text = call(t, h.Run, map[string]any{
		"path": "testdata/greet.yaml",
		"vars": map[string]any{"who": "world"},
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	var out struct {
		ExecutionID int64                       `json:"executionId"`
		Report      *report.StepExecutionReport `json:"report"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatal(err)
	}
	if out.Report.Status != report.StatusSuccess {
		t.Errorf("status = %s", out.Report.Status)
	}

	_, text = call(t, h.control("report"), map[string]any{"id": float64(out.ExecutionID)})
	if !strings.Contains(text, `"state": "Ended"`) {
		t.Errorf("report = %s", text)
	}
}

func TestSubmitThenStop(t *testing.T) {
	h := newHandlers(t)
	result, text := call(t, h.Submit, map[string]any{"path": "testdata/slow.yaml"})
	if result.IsError {
		t.Fatal(text)
	}
	var out struct {
		ExecutionID int64 `json:"executionId"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatal(err)
	}

	result, text = call(t, h.control("stop"), map[string]any{"id": float64(out.ExecutionID)})
	if result.IsError {
		t.Fatal(text)
	}
	final, err := h.Engine.Wait(context.Background(), out.ExecutionID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != report.StatusStopped {
		t.Errorf("status = %s, want STOPPED", final.Status)
	}
}

func TestControl_Errors(t *testing.T) {
	h := newHandlers(t)
	for _, op := range []string{"pause", "resume", "stop", "report"} {
		if result, _ := call(t, h.control(op), map[string]any{"id": float64(42)}); !result.IsError {
			t.Errorf("%s: expected error for unknown id", op)
		}
		if result, _ := call(t, h.control(op), map[string]any{}); !result.IsError {
			t.Errorf("%s: expected error for missing id", op)
		}
	}
}
