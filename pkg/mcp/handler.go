// Package mcp exposes the sandbox session manager as MCP tools over stdio.
package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/omcp/sandbox-mcp/pkg/sandbox"
)

// SessionManager is the slice of the session manager used by the tool
// handlers.
type SessionManager interface {
	CreateSession(ctx context.Context, idleTimeout time.Duration) (*sandbox.SessionInfo, error)
	ListSessions(includeInactive bool) []sandbox.SessionInfo
	CloseSession(ctx context.Context, id string) error
	Execute(ctx context.Context, id, code string, limitsPayload any) (*sandbox.ExecutionResult, error)
	InstallPackage(ctx context.Context, id, name, source string) (*sandbox.ExecutionResult, error)
	ListFiles(ctx context.Context, id, path string) ([]sandbox.FileEntry, error)
	ReadFile(ctx context.Context, id, path string) (string, error)
	WriteFile(ctx context.Context, id, path, content string) error
}

// Handler maps MCP tool requests onto the session manager. Errors never
// cross the tool boundary; every response is the unified envelope.
type Handler struct {
	manager SessionManager
}

// NewHandler creates a tool handler backed by the given session manager.
func NewHandler(manager SessionManager) *Handler {
	return &Handler{manager: manager}
}

// successResult wraps a payload in the success envelope.
func successResult(payload map[string]any) *mcp.CallToolResult {
	envelope := map[string]any{"success": true}
	for k, v := range payload {
		envelope[k] = v
	}
	return mcp.NewToolResultStructuredOnly(envelope)
}

// errorResult maps an error to the failure envelope. extra fields (partial
// output, meta) are merged in beside the error object.
func errorResult(err error, fallbackCode string, extra map[string]any) *mcp.CallToolResult {
	serr := sandbox.AsError(err, fallbackCode)
	errObj := map[string]any{
		"code":      serr.Code,
		"message":   serr.Message,
		"retryable": serr.Retryable,
	}
	if len(serr.Details) > 0 {
		errObj["details"] = serr.Details
	}
	envelope := map[string]any{
		"success": false,
		"error":   errObj,
	}
	for k, v := range extra {
		envelope[k] = v
	}
	return mcp.NewToolResultStructuredOnly(envelope)
}

// CreateSession provisions a new sandbox session.
func (h *Handler) CreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Timeout float64 `json:"timeout"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return errorResult(sandbox.NewError(sandbox.CodeInvalidLimits, "timeout must be a number"),
			sandbox.CodeSessionCreateFailed, nil), nil
	}
	if args.Timeout < 0 {
		return errorResult(sandbox.NewError(sandbox.CodeInvalidLimits, "timeout must be > 0"),
			sandbox.CodeSessionCreateFailed, nil), nil
	}

	info, err := h.manager.CreateSession(ctx, time.Duration(args.Timeout*float64(time.Second)))
	if err != nil {
		return errorResult(err, sandbox.CodeSessionCreateFailed, nil), nil
	}

	payload := map[string]any{
		"session_id": info.SessionID,
		"created_at": info.CreatedAt.Format(time.RFC3339),
		"last_used":  info.LastUsed.Format(time.RFC3339),
	}
	if info.HostPort > 0 {
		payload["host_port"] = info.HostPort
	}
	return successResult(payload), nil
}

// ListSessions lists live sessions.
func (h *Handler) ListSessions(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		IncludeInactive bool `json:"include_inactive"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return errorResult(sandbox.NewError(sandbox.CodeInvalidLimits, "include_inactive must be a boolean"),
			sandbox.CodeInvalidLimits, nil), nil
	}

	infos := h.manager.ListSessions(args.IncludeInactive)
	sessions := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		entry := map[string]any{
			"session_id": info.SessionID,
			"created_at": info.CreatedAt.Format(time.RFC3339),
			"last_used":  info.LastUsed.Format(time.RFC3339),
			"state":      info.State,
			"executions": info.Executions,
		}
		if info.HostPort > 0 {
			entry["host_port"] = info.HostPort
		}
		sessions = append(sessions, entry)
	}
	return successResult(map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	}), nil
}

// CloseSession tears down a session.
func (h *Handler) CloseSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		SessionID string `json:"session_id"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return errorResult(err, sandbox.CodeSessionCloseFailed, nil), nil
	}

	if err := h.manager.CloseSession(ctx, args.SessionID); err != nil {
		return errorResult(err, sandbox.CodeSessionCloseFailed, nil), nil
	}
	return successResult(map[string]any{
		"message": "session " + args.SessionID + " closed",
	}), nil
}

// ExecuteInSession runs code in a session.
func (h *Handler) ExecuteInSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Limits is decoded as any so a malformed payload is classified here
	// rather than failing the whole bind as invalid_code.
	args := struct {
		SessionID string `json:"session_id"`
		Code      string `json:"code"`
		Limits    any    `json:"limits"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return errorResult(sandbox.NewError(sandbox.CodeInvalidCode, "code must be a string"),
			sandbox.CodeExecutionError, nil), nil
	}

	var limitsPayload any
	if args.Limits != nil {
		fields, ok := args.Limits.(map[string]any)
		if !ok {
			return errorResult(sandbox.NewError(sandbox.CodeInvalidLimits, "limits must be an object"),
				sandbox.CodeExecutionError, nil), nil
		}
		limitsPayload = fields
	}

	result, err := h.manager.Execute(ctx, args.SessionID, args.Code, limitsPayload)
	if err != nil {
		// Guest failures still carry the captured output and meta.
		var extra map[string]any
		if result != nil {
			extra = map[string]any{
				"output": result.Output,
				"meta":   result.Meta,
			}
		}
		return errorResult(err, sandbox.CodeExecutionError, extra), nil
	}

	return successResult(map[string]any{
		"result":    result.Result,
		"output":    result.Output,
		"exit_code": result.ExitCode,
		"meta":      result.Meta,
	}), nil
}

// ListSessionFiles lists files in a session directory.
func (h *Handler) ListSessionFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		SessionID string `json:"session_id"`
		Path      string `json:"path"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return errorResult(err, sandbox.CodeListFilesFailed, nil), nil
	}
	if args.Path == "" {
		args.Path = "."
	}

	entries, err := h.manager.ListFiles(ctx, args.SessionID, args.Path)
	if err != nil {
		return errorResult(err, sandbox.CodeListFilesFailed, nil), nil
	}
	return successResult(map[string]any{"files": entries}), nil
}

// ReadSessionFile returns the contents of a file in a session.
func (h *Handler) ReadSessionFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		SessionID string `json:"session_id"`
		Path      string `json:"path"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return errorResult(err, sandbox.CodeReadFileFailed, nil), nil
	}

	content, err := h.manager.ReadFile(ctx, args.SessionID, args.Path)
	if err != nil {
		return errorResult(err, sandbox.CodeReadFileFailed, nil), nil
	}
	return successResult(map[string]any{"content": content}), nil
}

// WriteSessionFile writes content to a file in a session.
func (h *Handler) WriteSessionFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		SessionID string  `json:"session_id"`
		Path      string  `json:"path"`
		Content   *string `json:"content"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return errorResult(sandbox.NewError(sandbox.CodeInvalidContent, "content must be a string"),
			sandbox.CodeWriteFileFailed, nil), nil
	}
	if args.Content == nil {
		return errorResult(sandbox.NewError(sandbox.CodeInvalidContent, "content must be a string"),
			sandbox.CodeWriteFileFailed, nil), nil
	}

	if err := h.manager.WriteFile(ctx, args.SessionID, args.Path, *args.Content); err != nil {
		return errorResult(err, sandbox.CodeWriteFileFailed, nil), nil
	}
	return successResult(map[string]any{
		"message": "Successfully wrote to " + args.Path,
	}), nil
}

// InstallPackage installs a package into a session.
func (h *Handler) InstallPackage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		SessionID string `json:"session_id"`
		Name      string `json:"name"`
		Source    string `json:"source"`
	}{}
	if err := request.BindArguments(&args); err != nil {
		return errorResult(err, sandbox.CodeInstallPackageFailed, nil), nil
	}

	result, err := h.manager.InstallPackage(ctx, args.SessionID, args.Name, args.Source)
	if err != nil {
		var extra map[string]any
		if result != nil {
			extra = map[string]any{
				"output": result.Output,
				"meta":   result.Meta,
			}
		}
		return errorResult(err, sandbox.CodeInstallPackageFailed, extra), nil
	}
	return successResult(map[string]any{
		"message": "package " + args.Name + " installed",
		"output":  result.Output,
		"meta":    result.Meta,
	}), nil
}
