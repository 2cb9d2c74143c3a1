package cmd

import (
	"os"

	"github.com/ihavespoons/ctxai/internal/mcp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the MCP server over stdio",
	Long: `Serve the indexes to an MCP client over stdin and stdout.

Tools:
  list_indexes     - List available indexes
  index_codebase   - Index a directory
  query_codebase   - Search an index
  get_index_stats  - Show statistics for an index

Example client configuration:
  {"command": "ctxai", "args": ["server"]}`,
	Run: func(cmd *cobra.Command, args []string) {
		// stdout carries the protocol
		jsonOutput = false
		logrus.SetOutput(os.Stderr)
		if !verbose {
			logrus.SetLevel(logrus.InfoLevel)
		}

		manager := openManager()
		defer func() { _ = manager.Close() }()

		ctx, cancel := signalContext()
		defer cancel()

		server := mcp.NewServer(manager, Version)
		if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("mcp server stopped")
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
