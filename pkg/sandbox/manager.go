package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/omcp/sandbox-mcp/pkg/config"
	"github.com/omcp/sandbox-mcp/pkg/container"
	"github.com/omcp/sandbox-mcp/pkg/fileutils"
	"github.com/omcp/sandbox-mcp/pkg/guest"
	"github.com/omcp/sandbox-mcp/pkg/logger"
	"github.com/omcp/sandbox-mcp/pkg/permissions"
	"github.com/omcp/sandbox-mcp/pkg/telemetry"
)

// Container hardening defaults.
const (
	defaultMemoryBytes = 512 << 20
	defaultCPUPeriod   = 100000
	defaultCPUQuota    = 50000 // 50% of one core
	sandboxUser        = "1000"

	// stopGraceSecs is the stop grace given to a container on close.
	stopGraceSecs = 1

	// hostGatewayAlias is the in-guest name that resolves to the host.
	hostGatewayAlias = "host.docker.internal"
)

// reapConcurrency bounds parallel container teardown during a sweep.
const reapConcurrency = 4

// ExecutionMeta carries the measurements of one execution.
type ExecutionMeta struct {
	ElapsedSecs     float64 `json:"elapsed_secs"`
	OutputTruncated bool    `json:"output_truncated"`
}

// ExecutionResult is the successful (or partial, on guest error) outcome of
// one execution.
type ExecutionResult struct {
	Result   string        `json:"result"`
	Output   string        `json:"output"`
	ExitCode int           `json:"exit_code"`
	Meta     ExecutionMeta `json:"meta"`
}

// FileEntry describes one entry returned by ListFiles.
type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Path  string `json:"path"`
}

// Manager owns the session table and dispatches all session operations.
// Safe for concurrent use.
type Manager struct {
	runtime container.Runtime
	backend guest.Backend
	cfg     *config.Config
	metrics *telemetry.Metrics
	image   string
	profile *permissions.Profile

	// transportFor builds the guest transport for a session. Tests swap
	// this out.
	transportFor func(s *Session) guest.Transport

	// mu guards the session table and the in-flight creation count.
	mu       sync.Mutex
	sessions map[string]*Session
	creating int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a session manager for the given backend.
func NewManager(rt container.Runtime, backend guest.Backend, cfg *config.Config, metrics *telemetry.Metrics) *Manager {
	image := cfg.DockerImage
	if image == "" {
		image = backend.DefaultImage()
	}

	profile := permissions.BuiltinIsolatedProfile()
	if backend.Persistent() {
		// Persistent backends get outbound network for package installs
		// and a route back to the host database.
		profile = permissions.BuiltinNetworkProfile()
	}

	m := &Manager{
		runtime:  rt,
		backend:  backend,
		cfg:      cfg,
		metrics:  metrics,
		image:    image,
		profile:  profile,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
	m.transportFor = m.newTransport
	return m
}

func (m *Manager) newTransport(s *Session) guest.Transport {
	if m.backend.Persistent() {
		return guest.NewRserveTransport(s.HostPort, m.backend)
	}
	return guest.NewExecTransport(m.runtime, s.ContainerID, m.backend)
}

func (m *Manager) defaultLimits() ExecutionLimits {
	return ExecutionLimits{
		MaxDurationSecs: m.cfg.DefaultExecTimeoutSecs,
		MaxOutputBytes:  m.cfg.MaxOutputBytes,
	}
}

// CreateSession provisions a hardened container and registers a new session.
// idleTimeout overrides the configured reap timeout when non-zero.
func (m *Manager) CreateSession(ctx context.Context, idleTimeout time.Duration) (*SessionInfo, error) {
	if err := m.reserveSlot(); err != nil {
		return nil, err
	}
	defer m.releaseSlot()

	id := uuid.NewString()

	workspace, err := m.prepareWorkspace(id)
	if err != nil {
		return nil, NewRetryableError(CodeSessionCreateFailed, "failed to prepare workspace").
			WithDetails(map[string]any{"reason": err.Error()})
	}

	options := container.NewWorkloadOptions()
	options.Command = m.backend.Command()
	options.User = sandboxUser
	options.WorkingDir = permissions.SandboxDir
	options.MemoryBytes = defaultMemoryBytes
	options.CPUPeriod = defaultCPUPeriod
	options.CPUQuota = defaultCPUQuota
	options.AutoRemove = true
	options.Labels[container.LabelSessionID] = id
	for k, v := range m.guestEnv() {
		options.EnvVars[k] = v
	}
	if port := m.backend.GuestPort(); port > 0 {
		options.ExposedPorts = []int{port}
	}

	containerID, err := m.runtime.DeployWorkload(ctx, m.image, "sandbox-mcp-"+id[:8], options, m.profile.ToPermissionConfig(workspace))
	if err != nil {
		logger.Errorw("failed to deploy sandbox container", "session_id", id, "error", err)
		return nil, NewRetryableError(CodeSessionCreateFailed, "failed to create sandbox container").
			WithDetails(map[string]any{"reason": err.Error()})
	}

	hostPort := 0
	if m.backend.GuestPort() > 0 {
		hostPort, err = m.discoverHostPort(ctx, containerID)
		if err != nil {
			// Never leak a container the table does not know about.
			m.destroyContainer(ctx, containerID)
			logger.Errorw("failed to discover evaluator port", "session_id", id, "error", err)
			return nil, NewRetryableError(CodeSessionCreateFailed, "failed to discover evaluator port").
				WithDetails(map[string]any{"reason": err.Error()})
		}
	}

	s := newSession(id, containerID, hostPort, idleTimeout, time.Now())
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
	}
	logger.Infow("session created", "session_id", id, "container_id", containerID, "host_port", hostPort)

	info := s.snapshot()
	return &info, nil
}

// reserveSlot enforces the session cap, counting creations in flight so
// concurrent creates cannot overshoot it.
func (m *Manager) reserveSlot() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions)+m.creating >= m.cfg.MaxSandboxes {
		return NewErrorf(CodeMaxSessionsReached, "maximum number of sessions (%d) reached", m.cfg.MaxSandboxes)
	}
	m.creating++
	return nil
}

func (m *Manager) releaseSlot() {
	m.mu.Lock()
	m.creating--
	m.mu.Unlock()
}

// prepareWorkspace creates the per-session host directory when workspace
// persistence is enabled. Returns "" when it is not.
func (m *Manager) prepareWorkspace(id string) (string, error) {
	if m.cfg.WorkspaceRoot == "" {
		return "", nil
	}
	dir := filepath.Join(m.cfg.WorkspaceRoot, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return dir, nil
}

// guestEnv builds the database environment forwarded into the guest. A
// loopback DB_HOST is rewritten to the host-gateway alias so the guest can
// dial a database on the host.
func (m *Manager) guestEnv() map[string]string {
	if m.cfg.DBHost == "" {
		return nil
	}
	host := m.cfg.DBHost
	if host == "localhost" || host == "127.0.0.1" {
		host = hostGatewayAlias
	}
	return map[string]string{
		"DB_HOST":     host,
		"DB_PORT":     fmt.Sprintf("%d", m.cfg.DBPort),
		"DB_USER":     m.cfg.DBUser,
		"DB_PASSWORD": m.cfg.DBPassword,
		"DB_NAME":     m.cfg.DBName,
	}
}

// discoverHostPort polls the runtime until the ephemeral host port mapped to
// the evaluator port shows up in the container info.
func (m *Manager) discoverHostPort(ctx context.Context, containerID string) (int, error) {
	guestPort := m.backend.GuestPort()
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		info, err := m.runtime.GetWorkloadInfo(ctx, containerID)
		if err != nil {
			lastErr = err
		} else {
			for _, mapping := range info.Ports {
				if mapping.ContainerPort == guestPort && mapping.HostPort > 0 {
					return mapping.HostPort, nil
				}
			}
			lastErr = fmt.Errorf("no host port bound to guest port %d yet", guestPort)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return 0, lastErr
}

// lookup finds a live session and bumps nothing.
func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, NewErrorf(CodeSessionNotFound, "session %s not found", id)
	}
	return s, nil
}

// claim removes a session from the table so exactly one closer wins.
func (m *Manager) claim(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, NewErrorf(CodeSessionNotFound, "session %s not found", id)
	}
	delete(m.sessions, id)
	return s, nil
}

// CloseSession stops and removes a session's container and evicts it from
// the table. A second close of the same id returns session_not_found.
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	s, err := m.claim(id)
	if err != nil {
		return err
	}

	s.setState(StateClosing)
	// Wait for any in-flight guest operation to finish.
	s.opMu.Lock()
	defer s.opMu.Unlock()

	destroyErr := m.destroyContainer(ctx, s.ContainerID)
	s.setState(StateClosed)
	if m.metrics != nil {
		m.metrics.RecordSessionClosed()
	}

	if destroyErr != nil {
		logger.Errorw("failed to tear down session container", "session_id", id, "error", destroyErr)
		return NewRetryableError(CodeSessionCloseFailed, "failed to close session").
			WithDetails(map[string]any{"reason": destroyErr.Error()})
	}
	logger.Infow("session closed", "session_id", id)
	return nil
}

func (m *Manager) destroyContainer(ctx context.Context, containerID string) error {
	if err := m.runtime.StopWorkload(ctx, containerID, stopGraceSecs); err != nil {
		return err
	}
	// Containers run with auto-remove; this covers daemons that have not
	// finished the removal yet.
	return m.runtime.RemoveWorkload(ctx, containerID)
}

// Execute runs code in a session and returns the processed result. On a
// guest-signaled error the partial result (captured output, meta) is
// returned together with the structured error so the envelope can include
// it.
func (m *Manager) Execute(ctx context.Context, id, code string, limitsPayload any) (*ExecutionResult, error) {
	if strings.TrimSpace(code) == "" {
		return nil, NewError(CodeInvalidCode, "code must be a non-empty string")
	}
	if len(code) > m.cfg.MaxCodeChars {
		return nil, NewErrorf(CodeCodeTooLarge, "code length %d exceeds limit of %d characters", len(code), m.cfg.MaxCodeChars)
	}

	limits, err := ParseLimits(limitsPayload, m.defaultLimits())
	if err != nil {
		return nil, err
	}

	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.setState(StateBusy)
	defer s.setState(StateReady)
	s.Touch(time.Now())

	guestResult, err := m.transportFor(s).Execute(ctx, code, limits.MaxDurationSecs)
	if err != nil {
		logger.Errorw("execution transport failed", "session_id", id, "error", err)
		if m.metrics != nil {
			m.metrics.RecordExecution(telemetry.OutcomeTransport, 0)
		}
		return nil, NewRetryableError(CodeExecutionTransport, "failed to execute code in session").
			WithDetails(map[string]any{"reason": err.Error()})
	}

	output, truncated := SanitizeOutput(guestResult.Output, limits.MaxOutputBytes)
	result := &ExecutionResult{
		Result:   guestResult.Value,
		Output:   output,
		ExitCode: guestResult.ExitCode,
		Meta: ExecutionMeta{
			ElapsedSecs:     guestResult.ElapsedSecs,
			OutputTruncated: truncated,
		},
	}

	success := !guestResult.TimedOut && guestResult.ErrorText == "" && guestResult.ExitCode == 0
	s.appendRecord(ExecutionRecord{
		Timestamp:   time.Now(),
		Success:     success,
		ElapsedSecs: guestResult.ElapsedSecs,
		CodeLen:     len(code),
	})

	switch {
	case guestResult.TimedOut:
		if m.metrics != nil {
			m.metrics.RecordExecution(telemetry.OutcomeTimeout, guestResult.ElapsedSecs)
		}
		return result, NewErrorf(CodeExecutionTimeout, "execution exceeded the time limit of %gs", limits.MaxDurationSecs).
			WithDetails(map[string]any{"elapsed_secs": guestResult.ElapsedSecs})
	case !success:
		if m.metrics != nil {
			m.metrics.RecordExecution(telemetry.OutcomeError, guestResult.ElapsedSecs)
		}
		message := guestResult.ErrorText
		if message == "" {
			message = "execution failed"
		}
		return result, NewError(CodeExecutionError, message).
			WithDetails(map[string]any{"exit_code": guestResult.ExitCode})
	default:
		if m.metrics != nil {
			m.metrics.RecordExecution(telemetry.OutcomeSuccess, guestResult.ElapsedSecs)
		}
		return result, nil
	}
}

// InstallPackage installs a package into a session by executing the
// backend's templated install snippet.
func (m *Manager) InstallPackage(ctx context.Context, id, name, source string) (*ExecutionResult, error) {
	snippet, err := m.backend.InstallSnippet(name, source)
	if err != nil {
		return nil, NewError(CodeInvalidSource, err.Error())
	}
	return m.Execute(ctx, id, snippet, nil)
}

// idleCutoff returns the reap timeout in effect for a session.
func (m *Manager) idleCutoff(s *Session) time.Duration {
	if s.IdleTimeout > 0 {
		return s.IdleTimeout
	}
	return time.Duration(m.cfg.SandboxTimeout) * time.Second
}

// ListSessions returns snapshots of live sessions. Unless includeInactive
// is set, sessions idle longer than their reap timeout (reap candidates)
// are filtered out.
func (m *Manager) ListSessions(includeInactive bool) []SessionInfo {
	now := time.Now()

	infos := make([]SessionInfo, 0)
	for _, s := range m.liveSessions() {
		info := s.snapshot()
		if !includeInactive && now.Sub(info.LastUsed) > m.idleCutoff(s) {
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

func (m *Manager) liveSessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// ListFiles lists a directory in the guest. Paths are validated before any
// container call.
func (m *Manager) ListFiles(ctx context.Context, id, userPath string) ([]FileEntry, error) {
	normalized, err := NormalizePath(userPath)
	if err != nil {
		return nil, err
	}

	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.setState(StateBusy)
	defer s.setState(StateReady)
	s.Touch(time.Now())

	execResult, err := m.runtime.ExecInWorkload(ctx, s.ContainerID, []string{"ls", "-F", normalized}, "")
	if err != nil {
		logger.Errorw("list files failed", "session_id", id, "path", normalized, "error", err)
		return nil, NewRetryableError(CodeListFilesFailed, "failed to list files").
			WithDetails(map[string]any{"reason": err.Error()})
	}
	if execResult.ExitCode != 0 {
		return nil, NewErrorf(CodeListFilesFailed, "cannot list %s: %s", ToUserPath(normalized),
			strings.TrimSpace(string(execResult.Output)))
	}

	return parseListing(normalized, string(execResult.Output)), nil
}

// parseListing converts `ls -F` output into file entries. A trailing slash
// marks a directory. `ls -F` appends at most one classifier per name, so
// only the final character is a candidate; anything before it is the name.
func parseListing(dir, listing string) []FileEntry {
	entries := make([]FileEntry, 0)
	for _, line := range strings.Split(listing, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		isDir := strings.HasSuffix(line, "/")
		name := line
		if strings.ContainsAny(line[len(line)-1:], "/*@=|") {
			name = line[:len(line)-1]
		}
		if name == "" {
			continue
		}
		entries = append(entries, FileEntry{
			Name:  name,
			IsDir: isDir,
			Path:  ToUserPath(path.Join(dir, name)),
		})
	}
	return entries
}

// ReadFile fetches a file from the guest and returns its contents as UTF-8
// text with invalid sequences replaced.
func (m *Manager) ReadFile(ctx context.Context, id, userPath string) (string, error) {
	normalized, err := NormalizePath(userPath)
	if err != nil {
		return "", err
	}

	s, err := m.lookup(id)
	if err != nil {
		return "", err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.setState(StateBusy)
	defer s.setState(StateReady)
	s.Touch(time.Now())

	reader, err := m.runtime.CopyFromWorkload(ctx, s.ContainerID, normalized)
	if err != nil {
		if errors.Is(err, container.ErrPathNotFound) {
			return "", NewErrorf(CodeReadFileFailed, "file not found: %s", ToUserPath(normalized))
		}
		logger.Errorw("read file failed", "session_id", id, "path", normalized, "error", err)
		return "", NewRetryableError(CodeReadFileFailed, "failed to read file").
			WithDetails(map[string]any{"reason": err.Error()})
	}
	defer reader.Close()

	data, err := fileutils.ExtractSingleFile(reader, int64(m.cfg.MaxFileReadBytes))
	if err != nil {
		if errors.Is(err, fileutils.ErrFileTooLarge) {
			return "", NewErrorf(CodeFileTooLarge, "file exceeds read limit of %d bytes", m.cfg.MaxFileReadBytes)
		}
		if errors.Is(err, fileutils.ErrEmptyArchive) {
			return "", NewErrorf(CodeReadFileFailed, "%s is not a regular file", ToUserPath(normalized))
		}
		return "", NewRetryableError(CodeReadFileFailed, "failed to read file").
			WithDetails(map[string]any{"reason": err.Error()})
	}

	return strings.ToValidUTF8(string(data), "�"), nil
}

// WriteFile writes content to a file in the guest, creating parent
// directories as needed. Oversize content is rejected before any container
// I/O.
func (m *Manager) WriteFile(ctx context.Context, id, userPath, content string) error {
	normalized, err := NormalizePath(userPath)
	if err != nil {
		return err
	}
	if normalized == permissions.SandboxDir {
		return NewError(CodeInvalidPath, "path is the sandbox root, not a file")
	}
	if len(content) > m.cfg.MaxFileWriteBytes {
		return NewErrorf(CodeFileTooLarge, "content exceeds write limit of %d bytes", m.cfg.MaxFileWriteBytes)
	}

	s, err := m.lookup(id)
	if err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.setState(StateBusy)
	defer s.setState(StateReady)
	s.Touch(time.Now())

	parent := path.Dir(normalized)
	mkdirResult, err := m.runtime.ExecInWorkload(ctx, s.ContainerID, []string{"mkdir", "-p", parent}, "")
	if err != nil {
		logger.Errorw("write file failed", "session_id", id, "path", normalized, "error", err)
		return NewRetryableError(CodeWriteFileFailed, "failed to create parent directory").
			WithDetails(map[string]any{"reason": err.Error()})
	}
	if mkdirResult.ExitCode != 0 {
		return NewErrorf(CodeWriteFileFailed, "cannot create directory %s: %s", ToUserPath(parent),
			strings.TrimSpace(string(mkdirResult.Output)))
	}

	archive, err := fileutils.PackSingleFile(path.Base(normalized), []byte(content))
	if err != nil {
		return NewRetryableError(CodeWriteFileFailed, "failed to build archive").
			WithDetails(map[string]any{"reason": err.Error()})
	}

	if err := m.runtime.CopyToWorkload(ctx, s.ContainerID, parent, archive); err != nil {
		logger.Errorw("write file failed", "session_id", id, "path", normalized, "error", err)
		return NewRetryableError(CodeWriteFileFailed, "failed to write file").
			WithDetails(map[string]any{"reason": err.Error()})
	}
	return nil
}

// CleanupOrphans removes managed containers left behind by a previous run.
// The table is authoritative: any container carrying the managed label whose
// session is not in it is an orphan. Returns the number removed.
func (m *Manager) CleanupOrphans(ctx context.Context) int {
	infos, err := m.runtime.ListWorkloads(ctx)
	if err != nil {
		logger.Warnw("failed to list containers for orphan cleanup", "error", err)
		return 0
	}

	m.mu.Lock()
	known := make(map[string]bool, len(m.sessions))
	for _, s := range m.sessions {
		known[s.ContainerID] = true
	}
	m.mu.Unlock()

	var removed int
	for _, info := range infos {
		if known[info.ID] {
			continue
		}
		if err := m.destroyContainer(ctx, info.ID); err != nil {
			logger.Warnw("failed to remove orphaned container", "container_id", info.ID, "error", err)
			continue
		}
		logger.Infow("removed orphaned container",
			"container_id", info.ID, "session_id", info.Labels[container.LabelSessionID])
		removed++
	}
	return removed
}

// ReapIdleSessions closes every session idle longer than the sandbox
// timeout. Busy sessions are skipped and picked up by a later sweep.
// Returns the number of sessions reaped.
func (m *Manager) ReapIdleSessions(ctx context.Context) int {
	now := time.Now()

	var reaped int
	var reapedMu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(reapConcurrency)

	for _, s := range m.liveSessions() {
		if now.Sub(s.LastUsed()) <= m.idleCutoff(s) {
			continue
		}
		if s.State() == StateBusy {
			continue
		}
		g.Go(func() error {
			if err := m.CloseSession(ctx, s.ID); err != nil {
				// Lost the race with an explicit close, or teardown
				// failed; either way the next sweep retries.
				logger.Debugw("sweep skipped session", "session_id", s.ID, "error", err)
				return nil
			}
			logger.Infow("reaped idle session", "session_id", s.ID)
			reapedMu.Lock()
			reaped++
			reapedMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return reaped
}

// StartSweeper launches the background goroutine that reaps idle sessions
// on a fixed interval.
func (m *Manager) StartSweeper(interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.ReapIdleSessions(context.Background())
			}
		}
	}()
}

// Shutdown stops the sweeper and closes all live sessions.
func (m *Manager) Shutdown(ctx context.Context) {
	close(m.stopCh)
	m.wg.Wait()

	for _, s := range m.liveSessions() {
		if err := m.CloseSession(ctx, s.ID); err != nil {
			logger.Warnw("failed to close session during shutdown", "session_id", s.ID, "error", err)
		}
	}
}
