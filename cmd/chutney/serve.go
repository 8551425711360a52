package main

import (
	"os"
	"os/signal"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/NathanRodet/chutney/pkg/console"
	cmcp "github.com/NathanRodet/chutney/pkg/mcp"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive console to start and steer executions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()
		eng, stop, err := newEngine(ctx, nil)
		if err != nil {
			return err
		}
		defer stop()
		return console.New(eng).Run(ctx)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the engine as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, stop, err := newEngine(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer stop()
		return server.ServeStdio(cmcp.NewServer(version, eng))
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd, mcpCmd)
}
