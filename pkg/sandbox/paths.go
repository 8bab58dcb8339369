package sandbox

import (
	"path"
	"strings"

	"github.com/omcp/sandbox-mcp/pkg/permissions"
)

// NormalizePath resolves a caller-supplied guest path against the sandbox
// root and rejects anything that would escape it. It runs before any
// container call.
func NormalizePath(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", NewError(CodeInvalidPath, "path must be a non-empty string")
	}

	p := trimmed
	if !strings.HasPrefix(p, "/") {
		p = permissions.SandboxDir + "/" + p
	}
	p = path.Clean(p)

	if p != permissions.SandboxDir && !strings.HasPrefix(p, permissions.SandboxDir+"/") {
		return "", NewErrorf(CodeInvalidPath, "path %q is outside the sandbox", trimmed)
	}
	return p, nil
}

// ToUserPath maps a normalized absolute guest path back to the user-visible
// relative form. The sandbox root itself maps to ".".
func ToUserPath(p string) string {
	if p == permissions.SandboxDir {
		return "."
	}
	if rel, ok := strings.CutPrefix(p, permissions.SandboxDir+"/"); ok {
		return rel
	}
	return p
}
