// Package session implements the session-id allocator described in
// spec §4.4: 16-bit, monotonically increasing, never 0, unique among
// currently live sessions, with idle-timeout reaping.
package session

import (
	"sync"
	"time"
)

// State is the lifecycle state of a Session (spec §3).
type State uint8

const (
	StateActive State = iota
	StateInactive
	StateExpired
	StateError
)

// Session is a per-client bookkeeping record. Sessions are exclusively
// owned by the Manager that created them.
type Session struct {
	SessionID    uint16
	ClientID     uint16
	LastActivity time.Time
	State        State
}

// Manager allocates and tracks session ids. It is safe for concurrent
// use by multiple goroutines calling Create/Validate/Touch/Reap.
type Manager struct {
	mu       sync.Mutex
	sessions map[uint16]*Session
	next     uint16
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[uint16]*Session),
		next:     1,
	}
}

// Create allocates a new session id for clientID, guaranteed unique
// among sessions currently tracked by this Manager, and never 0.
func (m *Manager) Create(clientID uint16) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	for {
		if id == 0 {
			id = 1
		}
		if _, taken := m.sessions[id]; !taken {
			break
		}
		id++
	}
	m.next = id + 1
	if m.next == 0 {
		m.next = 1
	}

	m.sessions[id] = &Session{
		SessionID:    id,
		ClientID:     clientID,
		LastActivity: time.Now(),
		State:        StateActive,
	}
	return id
}

// Validate reports whether sessionID is currently tracked and active.
func (m *Manager) Validate(sessionID uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return ok && s.State == StateActive
}

// Touch refreshes the last-activity timestamp of sessionID, if tracked.
func (m *Manager) Touch(sessionID uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.LastActivity = time.Now()
	}
}

// Remove drops sessionID immediately, e.g. on normal call completion.
func (m *Manager) Remove(sessionID uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Reap marks every session idle longer than timeout as StateExpired and
// drops it, returning the number reaped.
func (m *Manager) Reap(timeout time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	count := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity) > timeout {
			s.State = StateExpired
			delete(m.sessions, id)
			count++
		}
	}
	return count
}

// Len returns the number of sessions currently tracked.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
