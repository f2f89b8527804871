package cli

import (
	"github.com/rcliao/live-meeting/internal/mcpserver"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve stored meetings to MCP clients over stdio",
		Run:   runMCP,
	}

	RootCmd.AddCommand(cmd)
}

func runMCP(cmd *cobra.Command, args []string) {
	repo, s := openRepo(cmd.Context())
	defer s.Close()

	if err := mcpserver.Serve(repo, Version); err != nil {
		exitErr("mcp", err)
	}
}
