// Package mcp exposes the engine as Model Context Protocol tools so agents
// can validate, run and steer scenarios.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/NathanRodet/chutney/pkg/engine"
)

// NewServer creates an MCP server with the chutney tools registered against eng.
func NewServer(version string, eng *engine.Engine) *server.MCPServer {
	s := server.NewMCPServer(
		"chutney",
		version,
		server.WithToolCapabilities(true),
	)
	h := &Handlers{Engine: eng}

	s.AddTool(
		mcp.NewTool("chutney/validate",
			mcp.WithDescription("Validate a chutney scenario YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the scenario YAML file")),
		),
		h.Validate,
	)

	s.AddTool(
		mcp.NewTool("chutney/schema",
			mcp.WithDescription("Export the scenario JSON Schema"),
		),
		h.Schema,
	)

	s.AddTool(
		mcp.NewTool("chutney/actions",
			mcp.WithDescription("List the registered action types"),
		),
		h.Actions,
	)

	s.AddTool(
		mcp.NewTool("chutney/run",
			mcp.WithDescription("Execute a scenario and wait for its final report"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the scenario YAML file")),
			mcp.WithObject("vars", mcp.Description("Extra context variables, merged over the scenario context")),
			mcp.WithNumber("timeout", mcp.Description("Seconds to wait before giving up (default 300)")),
		),
		h.Run,
	)

	s.AddTool(
		mcp.NewTool("chutney/submit",
			mcp.WithDescription("Start a scenario asynchronously and return its execution id"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the scenario YAML file")),
			mcp.WithObject("vars", mcp.Description("Extra context variables, merged over the scenario context")),
		),
		h.Submit,
	)

	for _, c := range []struct {
		name, desc string
	}{
		{"pause", "Pause an execution at its next step boundary"},
		{"resume", "Resume a paused execution"},
		{"stop", "Stop an execution; the running action completes first"},
		{"report", "Return the current report and lifecycle state of an execution"},
	} {
		s.AddTool(
			mcp.NewTool("chutney/"+c.name,
				mcp.WithDescription(c.desc),
				mcp.WithNumber("id", mcp.Required(), mcp.Description("Execution id")),
			),
			h.control(c.name),
		)
	}

	return s
}
