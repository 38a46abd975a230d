// Copyright 2024-2026 Aiku AI

package connector

import (
	"sync"
	"time"
)

// SessionState is the lifecycle state of the current session.
type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StatePairing       SessionState = "pairing"
	StateAuthenticated SessionState = "authenticated"
	StateReady         SessionState = "ready"
	StateAuthFailed    SessionState = "auth_failed"
	StateDisconnected  SessionState = "disconnected"
)

// LogEntry is one line of the message log shown on the status page.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Failed    bool      `json:"failed,omitempty"`
}

// ProcessState holds everything the status server displays. It is owned by
// the RelayConnector and safe for concurrent use.
type ProcessState struct {
	mu sync.RWMutex

	state          SessionState
	sessionID      string
	sourceResolved bool
	lastError      string

	pairingCode     string
	pairingIssuedAt time.Time

	entries []LogEntry

	now func() time.Time
}

// NewProcessState creates an empty state in StateUninitialized.
func NewProcessState() *ProcessState {
	return &ProcessState{
		state: StateUninitialized,
		now:   time.Now,
	}
}

// AppendLog adds an entry to the end of the message log.
func (ps *ProcessState) AppendLog(text string, failed bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.entries = append(ps.entries, LogEntry{
		Timestamp: ps.now(),
		Text:      text,
		Failed:    failed,
	})
}

// Logs returns a copy of the message log in insertion order.
func (ps *ProcessState) Logs() []LogEntry {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	cp := make([]LogEntry, len(ps.entries))
	copy(cp, ps.entries)
	return cp
}

// ClearLogs empties the message log.
func (ps *ProcessState) ClearLogs() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.entries = nil
}

// SetPairingCode replaces the current pairing code.
func (ps *ProcessState) SetPairingCode(code string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pairingCode = code
	ps.pairingIssuedAt = ps.now()
}

// PairingCode returns the current pairing code and when it was issued. The
// code is empty if none is pending.
func (ps *ProcessState) PairingCode() (string, time.Time) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.pairingCode, ps.pairingIssuedAt
}

// ClearPairingCode drops the current pairing code.
func (ps *ProcessState) ClearPairingCode() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pairingCode = ""
	ps.pairingIssuedAt = time.Time{}
}

func (ps *ProcessState) SetState(state SessionState) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.state = state
}

func (ps *ProcessState) State() SessionState {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.state
}

// beginSession resets the per-session fields for a new session.
func (ps *ProcessState) beginSession(sessionID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.sessionID = sessionID
	ps.state = StateUninitialized
	ps.sourceResolved = false
}

func (ps *ProcessState) setSourceResolved(resolved bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.sourceResolved = resolved
}

func (ps *ProcessState) setLastError(text string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.lastError = text
}

// StatusSnapshot is a point-in-time view of the process state.
type StatusSnapshot struct {
	State          SessionState `json:"state"`
	SessionID      string       `json:"session_id,omitempty"`
	SourceResolved bool         `json:"source_resolved"`
	HasPairingCode bool         `json:"has_pairing_code"`
	PairingIssued  *time.Time   `json:"pairing_issued_at,omitempty"`
	LogEntries     int          `json:"log_entries"`
	LastError      string       `json:"last_error,omitempty"`
}

func (ps *ProcessState) Snapshot() StatusSnapshot {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	snap := StatusSnapshot{
		State:          ps.state,
		SessionID:      ps.sessionID,
		SourceResolved: ps.sourceResolved,
		HasPairingCode: ps.pairingCode != "",
		LogEntries:     len(ps.entries),
		LastError:      ps.lastError,
	}
	if snap.HasPairingCode {
		issued := ps.pairingIssuedAt
		snap.PairingIssued = &issued
	}
	return snap
}
