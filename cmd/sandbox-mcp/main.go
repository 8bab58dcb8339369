// Package main is the entry point for the sandbox-mcp server.
package main

import (
	"os"

	"github.com/omcp/sandbox-mcp/cmd/sandbox-mcp/app"
	"github.com/omcp/sandbox-mcp/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
