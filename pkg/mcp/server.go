package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/omcp/sandbox-mcp/pkg/logger"
	"github.com/omcp/sandbox-mcp/pkg/versions"
)

// Server is the MCP front-end of the sandbox service. It owns stdout for
// protocol framing; all logging goes to stderr.
type Server struct {
	mcpServer *server.MCPServer
	handler   *Handler
}

// NewServer creates an MCP server exposing the sandbox tool surface.
func NewServer(manager SessionManager) *Server {
	versionInfo := versions.GetVersionInfo()
	mcpServer := server.NewMCPServer(
		"sandbox-mcp",
		versionInfo.Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	handler := NewHandler(manager)
	registerTools(mcpServer, handler)

	return &Server{
		mcpServer: mcpServer,
		handler:   handler,
	}
}

// Serve runs the server on stdio until the client disconnects.
func (s *Server) Serve() error {
	logger.Info("Serving MCP on stdio")
	return server.ServeStdio(s.mcpServer)
}

// registerTools registers the sandbox tool surface with the MCP server.
func registerTools(mcpServer *server.MCPServer, handler *Handler) {
	sessionIDProperty := map[string]interface{}{
		"type":        "string",
		"description": "ID of the session",
	}

	mcpServer.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Create an isolated sandbox session for code execution",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"timeout": map[string]interface{}{
					"type":        "number",
					"description": "Idle timeout in seconds before the session is reaped (default from configuration)",
				},
			},
		},
	}, handler.CreateSession)

	mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List active sandbox sessions",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"include_inactive": map[string]interface{}{
					"type":        "boolean",
					"description": "Include sessions that are idle past their timeout",
				},
			},
		},
	}, handler.ListSessions)

	mcpServer.AddTool(mcp.Tool{
		Name:        "close_session",
		Description: "Close a sandbox session and remove its container",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty,
			},
			Required: []string{"session_id"},
		},
	}, handler.CloseSession)

	mcpServer.AddTool(mcp.Tool{
		Name:        "execute_in_session",
		Description: "Execute code in a sandbox session and return its output",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty,
				"code": map[string]interface{}{
					"type":        "string",
					"description": "Code to execute",
				},
				"limits": map[string]interface{}{
					"type":        "object",
					"description": "Optional execution limits",
					"properties": map[string]interface{}{
						"max_duration_secs": map[string]interface{}{
							"type":        "number",
							"description": "Wall-clock limit in seconds",
						},
						"max_output_bytes": map[string]interface{}{
							"type":        "integer",
							"description": "Output cap in UTF-8 bytes",
						},
					},
				},
			},
			Required: []string{"session_id", "code"},
		},
	}, handler.ExecuteInSession)

	mcpServer.AddTool(mcp.Tool{
		Name:        "list_session_files",
		Description: "List files in a session directory",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty,
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Directory to list, relative to the sandbox root (default \".\")",
				},
			},
			Required: []string{"session_id"},
		},
	}, handler.ListSessionFiles)

	mcpServer.AddTool(mcp.Tool{
		Name:        "read_session_file",
		Description: "Read a file from a session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty,
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path relative to the sandbox root",
				},
			},
			Required: []string{"session_id", "path"},
		},
	}, handler.ReadSessionFile)

	mcpServer.AddTool(mcp.Tool{
		Name:        "write_session_file",
		Description: "Write a file into a session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty,
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path relative to the sandbox root",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "File content",
				},
			},
			Required: []string{"session_id", "path", "content"},
		},
	}, handler.WriteSessionFile)

	mcpServer.AddTool(mcp.Tool{
		Name:        "install_package",
		Description: "Install a package into a session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty,
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Package name, or owner/repo for GitHub installs",
				},
				"source": map[string]interface{}{
					"type":        "string",
					"description": "Package source (CRAN, PyPI, or GitHub depending on the backend)",
				},
			},
			Required: []string{"session_id", "name", "source"},
		},
	}, handler.InstallPackage)
}
