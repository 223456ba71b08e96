package broker

import (
	"sync"
	"time"
)

// TerminalSession is the logical record of a terminal: which connection
// currently owns it. The owner may be a connection that has since gone away.
type TerminalSession struct {
	SessionID    string
	ConnectionID ConnectionID
	CreatedAt    time.Time
}

// sessionTable maps session ids to their TerminalSession. When both tables
// are locked together, sessionTable.mu is taken first.
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*TerminalSession
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*TerminalSession)}
}

// reown hands an existing session to conn. It reports false when id is
// unknown.
func (t *sessionTable) reown(id string, conn ConnectionID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return false
	}
	s.ConnectionID = conn
	return true
}

// get returns a copy of the session for id.
func (t *sessionTable) get(id string) (TerminalSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	if !ok {
		return TerminalSession{}, false
	}
	return *s, true
}

// removeIf deletes id only while it still maps to sess, so a finished
// session never removes a newer one that reused its id.
func (t *sessionTable) removeIf(id string, sess *TerminalSession) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.sessions[id]; ok && cur == sess {
		delete(t.sessions, id)
		return true
	}
	return false
}

// ownedBy returns the ids of the sessions whose owner is conn.
func (t *sessionTable) ownedBy(conn ConnectionID) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for id, s := range t.sessions {
		if s.ConnectionID == conn {
			ids = append(ids, id)
		}
	}
	return ids
}

// all returns a snapshot of every session.
func (t *sessionTable) all() []TerminalSession {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TerminalSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	return out
}

func (t *sessionTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
