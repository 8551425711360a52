package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/NathanRodet/chutney/pkg/engine"
	"github.com/NathanRodet/chutney/pkg/report"
	"github.com/NathanRodet/chutney/pkg/scenario"
)

const defaultRunTimeout = 5 * time.Minute

// Handlers implements the chutney MCP tools on top of an engine.
type Handlers struct {
	Engine *engine.Engine
}

// Validate implements chutney/validate.
func (h *Handlers) Validate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, _ := req.GetArguments()["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	s, errs := scenario.ValidateFile(path, h.Engine.Registry().Types())
	if scenario.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d steps)", s.Title, s.Root().Count())
	if len(errs) > 0 {
		msg += "\n" + formatWarnings(errs)
	}
	return textResult(msg), nil
}

// Schema implements chutney/schema.
func (h *Handlers) Schema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := scenario.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// Actions implements chutney/actions.
func (h *Handlers) Actions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResult(strings.Join(h.Engine.Registry().Types(), "\n")), nil
}

// Run implements chutney/run.
func (h *Handlers) Run(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, vars, res := h.load(req)
	if res != nil {
		return res, nil
	}

	timeout := defaultRunTimeout
	if secs, ok := req.GetArguments()["timeout"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id, final, err := h.Engine.Execute(ctx, s.Root(), vars)
	if err != nil {
		if id != 0 {
			h.Engine.Stop(id)
		}
		return errorResult(fmt.Sprintf("execution %d: %s", id, err)), nil
	}
	return reportResult(id, "", final)
}

// Submit implements chutney/submit.
func (h *Handlers) Submit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, vars, res := h.load(req)
	if res != nil {
		return res, nil
	}
	// the run must outlive this request
	id, err := h.Engine.ExecuteAsync(context.WithoutCancel(ctx), s.Root(), vars)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	data, _ := json.Marshal(map[string]any{"executionId": id})
	return textResult(string(data)), nil
}

// control builds the handler of an id-addressed tool.
func (h *Handlers) control(op string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, ok := req.GetArguments()["id"].(float64)
		if !ok || raw <= 0 {
			return errorResult("id argument is required"), nil
		}
		id := int64(raw)

		var err error
		switch op {
		case "pause":
			err = h.Engine.Pause(id)
		case "resume":
			err = h.Engine.Resume(id)
		case "stop":
			err = h.Engine.Stop(id)
		case "report":
			return h.report(id)
		default:
			return errorResult(fmt.Sprintf("unknown operation %q", op)), nil
		}
		if err != nil {
			return errorResult(err.Error()), nil
		}
		st, _ := h.Engine.Status(id)
		return textResult(fmt.Sprintf("execution %d: %s", id, st)), nil
	}
}

func (h *Handlers) report(id int64) (*mcp.CallToolResult, error) {
	st, err := h.Engine.Status(id)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	snap, err := h.Engine.Snapshot(id)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return reportResult(id, st, snap)
}

func (h *Handlers) load(req mcp.CallToolRequest) (*scenario.Scenario, map[string]any, *mcp.CallToolResult) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return nil, nil, errorResult("path argument is required")
	}
	s, errs := scenario.ValidateFile(path, h.Engine.Registry().Types())
	if scenario.HasErrors(errs) {
		return nil, nil, errorResult(formatErrors(errs))
	}
	vars := maps.Clone(s.Context)
	if vars == nil {
		vars = make(map[string]any)
	}
	if extra, ok := args["vars"].(map[string]any); ok {
		maps.Copy(vars, extra)
	}
	return s, vars, nil
}

func reportResult(id int64, st engine.Status, r *report.StepExecutionReport) (*mcp.CallToolResult, error) {
	response := map[string]any{
		"executionId": id,
		"report":      r,
	}
	if st != "" {
		response["state"] = st
	}
	data, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	isErr := r != nil && r.Status.Terminal() && r.Status != report.StatusSuccess
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
	}, nil
}

func formatErrors(errs []*scenario.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message))
		}
	}
	return strings.Join(msgs, "; ")
}

func formatWarnings(errs []*scenario.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "warning" {
			msgs = append(msgs, fmt.Sprintf("warning: %s: %s", e.Path, e.Message))
		}
	}
	return strings.Join(msgs, "\n")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
