// Package app provides the entry point for the sandbox-mcp command-line application.
package app

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "sandbox-mcp",
	DisableAutoGenTag: true,
	Short:             "sandbox-mcp runs code in isolated container sandboxes over MCP",
	Long: `sandbox-mcp is an MCP (Model Context Protocol) server that executes untrusted
code inside hardened Docker containers. Each session gets its own container;
the Python backend runs one process per execution, while the R backend keeps a
persistent Rserve interpreter so state survives across calls.

The server speaks MCP over stdio, so it plugs directly into any MCP client.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// If no subcommand is provided, print help
		return cmd.Help()
	},
}

// NewRootCmd creates a new root command for the sandbox-mcp CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
