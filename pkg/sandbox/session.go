package sandbox

import (
	"sync"
	"time"
)

// State is the lifecycle state of a session.
type State int32

// Session lifecycle states.
const (
	// StateReady means the session is idle and can accept operations.
	StateReady State = iota
	// StateBusy means exactly one guest operation is in flight.
	StateBusy
	// StateClosing means the session is being torn down.
	StateClosing
	// StateClosed means the container is gone; the session is unreachable
	// from the table.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ExecutionRecord is one entry in a session's journal.
type ExecutionRecord struct {
	Timestamp   time.Time
	Success     bool
	ElapsedSecs float64
	CodeLen     int
}

// Session is a live sandbox backed by one container. Guest operations are
// serialized by the op lock; while it is held the session is Busy.
type Session struct {
	// ID is the opaque session identifier.
	ID string
	// ContainerID is the runtime handle of the backing container.
	ContainerID string
	// HostPort is the host side of the evaluator port mapping. Zero for
	// exec-based backends. Immutable after creation.
	HostPort int
	// CreatedAt is the creation time.
	CreatedAt time.Time
	// IdleTimeout overrides the configured reap timeout when non-zero.
	// Immutable after creation.
	IdleTimeout time.Duration

	// opMu serializes guest operations on this session.
	opMu sync.Mutex

	// metaMu guards the mutable bookkeeping below.
	metaMu   sync.Mutex
	state    State
	lastUsed time.Time
	journal  []ExecutionRecord
}

func newSession(id, containerID string, hostPort int, idleTimeout time.Duration, now time.Time) *Session {
	return &Session{
		ID:          id,
		ContainerID: containerID,
		HostPort:    hostPort,
		CreatedAt:   now,
		IdleTimeout: idleTimeout,
		state:       StateReady,
		lastUsed:    now,
	}
}

// Touch updates the last-used timestamp.
func (s *Session) Touch(now time.Time) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.lastUsed = now
}

// LastUsed returns the last-used timestamp.
func (s *Session) LastUsed() time.Time {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	return s.lastUsed
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.state = state
}

// appendRecord appends one execution record to the journal.
func (s *Session) appendRecord(record ExecutionRecord) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.journal = append(s.journal, record)
}

// ExecutionCount returns the number of journal entries.
func (s *Session) ExecutionCount() int {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	return len(s.journal)
}

// SessionInfo is the externally visible snapshot of a session.
type SessionInfo struct {
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsed   time.Time `json:"last_used"`
	State      string    `json:"state"`
	Executions int       `json:"executions"`
	HostPort   int       `json:"host_port,omitempty"`
}

// snapshot builds a consistent SessionInfo.
func (s *Session) snapshot() SessionInfo {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	return SessionInfo{
		SessionID:  s.ID,
		CreatedAt:  s.CreatedAt,
		LastUsed:   s.lastUsed,
		State:      s.state.String(),
		Executions: len(s.journal),
		HostPort:   s.HostPort,
	}
}
