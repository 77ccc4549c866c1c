package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/echotab/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an assistant browse and organize saved tabs and shared lists.
Configure it with:

  {
    "mcpServers": {
      "echotab": { "command": "echotab", "args": ["mcp"] }
    }
  }

Available tools: echotab_list_tags, echotab_list_tabs, echotab_save_tab,
echotab_tag_tab, echotab_list_collections, echotab_get_collection`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()

		logger.Debug("mcp server starting", "version", buildVersion)
		return mcp.NewServer(s, shareURL, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
