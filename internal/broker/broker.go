// Package broker owns the terminal sessions of the platform: it spawns PTY
// shells for WebSocket clients, pumps their output onto the broadcast bus,
// and routes input, resize and destroy commands to them.
//
// Two tables are kept per session id. The session table holds the logical
// record (who owns the terminal), the resource table holds the live process.
// Both are written together on create and destroy, under both locks, with
// the session table always locked first.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/tourlab/termbroker/internal/bus"
	"github.com/tourlab/termbroker/internal/terminal"
)

var (
	// ErrSessionNotFound is returned for operations on an unknown session.
	ErrSessionNotFound = errors.New("terminal session not found")
	// ErrInvalidGeometry is returned for a resize with a zero dimension.
	ErrInvalidGeometry = errors.New("terminal geometry must be non-zero")
)

// SpawnError reports that the PTY or the shell could not be started.
type SpawnError struct {
	SessionID string
	Err       error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn terminal %s: %v", e.SessionID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// CreateResult tells how CreateSession satisfied the request.
type CreateResult int

const (
	// Created means a new shell was spawned.
	Created CreateResult = iota + 1
	// Reattached means the session already existed and was re-owned.
	Reattached
)

func (r CreateResult) String() string {
	switch r {
	case Created:
		return "created"
	case Reattached:
		return "reattached"
	default:
		return "unknown"
	}
}

// SessionStatus is the answer to CheckSession.
type SessionStatus int

const (
	// NotFound means there is no live shell for the session.
	NotFound SessionStatus = iota
	// Exists means the shell is running and the session was re-owned.
	Exists
)

// Options configure the shells the broker spawns.
type Options struct {
	// WorkDir is the working directory of every shell (the exercise root).
	WorkDir string
	// Shell overrides terminal.DefaultShell.
	Shell string
	// Term is exported as TERM. Empty means "xterm-color".
	Term string
	// Debug enables per-message debug logging.
	Debug bool
}

// Broker is the shared state behind the terminal WebSocket.
type Broker struct {
	opts      Options
	bus       *bus.Bus
	spawner   terminal.Spawner
	conns     *ConnectionRegistry
	sessions  *sessionTable
	resources *resourceTable

	creating singleflight.Group
	bridges  sync.WaitGroup
	now      func() time.Time

	// testHookBeforeDestroy runs in CleanupForConnection between listing a
	// connection's sessions and destroying each of them.
	testHookBeforeDestroy func(sessionID string)
}

// New returns a broker publishing on b and spawning shells with spawner.
func New(b *bus.Bus, spawner terminal.Spawner, opts Options) *Broker {
	if opts.Term == "" {
		opts.Term = "xterm-color"
	}
	return &Broker{
		opts:      opts,
		bus:       b,
		spawner:   spawner,
		conns:     NewConnectionRegistry(b),
		sessions:  newSessionTable(),
		resources: newResourceTable(),
		now:       time.Now,
	}
}

// Bus returns the broadcast bus the broker publishes on.
func (b *Broker) Bus() *bus.Bus { return b.bus }

// Connections returns the connection registry.
func (b *Broker) Connections() *ConnectionRegistry { return b.conns }

// Connect admits a new WebSocket connection.
func (b *Broker) Connect() (ConnectionID, *bus.Subscription) {
	id, sub := b.conns.Admit()
	log.Info().Str("connection_id", string(id)).Msg("Client connected")
	return id, sub
}

// Disconnect removes a connection and destroys the sessions it still owns.
// It must be called exactly once per Connect.
func (b *Broker) Disconnect(id ConnectionID) {
	b.conns.Remove(id)
	n := b.CleanupForConnection(id)
	log.Info().Str("connection_id", string(id)).Int("sessions_destroyed", n).Msg("Client disconnected")
}

// NewSessionID returns a fresh server-generated session id.
func NewSessionID() string { return uuid.NewString() }

// CreateSession starts a shell for sessionID, or re-owns the session to conn
// if it already exists. A zero cols or rows falls back to 80x24. Concurrent
// creates of the same new id spawn a single shell.
func (b *Broker) CreateSession(ctx context.Context, sessionID string, conn ConnectionID, cols, rows uint16) (CreateResult, error) {
	if b.sessions.reown(sessionID, conn) {
		b.debug().Str("session_id", sessionID).Str("connection_id", string(conn)).Msg("Terminal session reattached")
		return Reattached, nil
	}

	v, err, _ := b.creating.Do(sessionID, func() (any, error) {
		if b.sessions.reown(sessionID, conn) {
			return Reattached, nil
		}
		return b.spawn(ctx, sessionID, conn, cols, rows)
	})
	if err != nil {
		return 0, err
	}
	return v.(CreateResult), nil
}

func (b *Broker) spawn(ctx context.Context, sessionID string, conn ConnectionID, cols, rows uint16) (CreateResult, error) {
	if cols == 0 {
		cols = terminal.DefaultCols
	}
	if rows == 0 {
		rows = terminal.DefaultRows
	}

	proc, err := b.spawner.Spawn(ctx, terminal.SpawnConfig{
		Shell: b.opts.Shell,
		Dir:   b.opts.WorkDir,
		Env:   []string{"TERM=" + b.opts.Term},
		Cols:  cols,
		Rows:  rows,
	})
	if err != nil {
		return 0, &SpawnError{SessionID: sessionID, Err: err}
	}

	sess := &TerminalSession{
		SessionID:    sessionID,
		ConnectionID: conn,
		CreatedAt:    b.now(),
	}
	res := &ptyResource{proc: proc, sess: sess}

	b.sessions.mu.Lock()
	b.resources.mu.Lock()
	b.sessions.sessions[sessionID] = sess
	b.resources.resources[sessionID] = res
	b.resources.mu.Unlock()
	b.sessions.mu.Unlock()

	b.startBridge(sessionID, res)

	log.Info().
		Str("session_id", sessionID).
		Str("connection_id", string(conn)).
		Int("pid", proc.Pid()).
		Uint16("cols", cols).
		Uint16("rows", rows).
		Msg("Terminal session created")
	return Created, nil
}

// CheckSession reports whether sessionID is live. A live session is
// re-owned to conn as a side effect: a reloaded browser tab checks for
// its old session and must receive its future input routing.
func (b *Broker) CheckSession(sessionID string, conn ConnectionID) SessionStatus {
	b.sessions.mu.Lock()
	defer b.sessions.mu.Unlock()

	sess, ok := b.sessions.sessions[sessionID]
	if !ok {
		return NotFound
	}
	b.resources.mu.RLock()
	_, live := b.resources.resources[sessionID]
	b.resources.mu.RUnlock()
	if !live {
		return NotFound
	}
	sess.ConnectionID = conn
	return Exists
}

// SendInput writes data to the session's shell. A failed write ends the
// session the same way a failed read does.
func (b *Broker) SendInput(sessionID string, data []byte) error {
	res, ok := b.resources.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if _, err := res.proc.Write(data); err != nil {
		b.DestroySession(sessionID)
		return fmt.Errorf("write to terminal %s: %w", sessionID, err)
	}
	return nil
}

// Resize changes the session's PTY geometry.
func (b *Broker) Resize(sessionID string, cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return ErrInvalidGeometry
	}
	res, ok := b.resources.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if err := res.proc.Resize(cols, rows); err != nil {
		return fmt.Errorf("resize terminal %s: %w", sessionID, err)
	}
	return nil
}

// DestroySession kills the session's shell and drops both table entries.
// It reports whether there was anything to destroy; destroying an unknown
// or already destroyed session is a no-op.
func (b *Broker) DestroySession(sessionID string) bool {
	return b.destroy(sessionID, "")
}

// destroy tears a session down. When owner is set the session is only
// destroyed while owner still owns it, so a tab that re-owned the session
// after listing keeps it. The owner check and the removal of both entries
// happen under the same locks; the shell is killed after they are released.
func (b *Broker) destroy(sessionID string, owner ConnectionID) bool {
	b.sessions.mu.Lock()
	b.resources.mu.Lock()
	sess := b.sessions.sessions[sessionID]
	res, ok := b.resources.resources[sessionID]
	if owner != "" && (sess == nil || sess.ConnectionID != owner) {
		b.resources.mu.Unlock()
		b.sessions.mu.Unlock()
		return false
	}
	if ok {
		delete(b.resources.resources, sessionID)
		if sess == res.sess {
			delete(b.sessions.sessions, sessionID)
		}
	}
	b.resources.mu.Unlock()
	b.sessions.mu.Unlock()

	if !ok {
		return false
	}
	res.destroyed.Store(true)
	if err := res.proc.Kill(); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to kill terminal process")
	}
	log.Info().Str("session_id", sessionID).Msg("Terminal session destroyed")
	return true
}

// CleanupForConnection destroys every session owned by conn and returns how
// many were destroyed.
func (b *Broker) CleanupForConnection(conn ConnectionID) int {
	n := 0
	for _, id := range b.sessions.ownedBy(conn) {
		if b.testHookBeforeDestroy != nil {
			b.testHookBeforeDestroy(id)
		}
		if b.destroy(id, conn) {
			n++
		}
	}
	return n
}

// SessionCount returns the number of live sessions.
func (b *Broker) SessionCount() int { return b.sessions.count() }

// Shutdown destroys every session and waits for their output bridges to
// finish, or for ctx to end.
func (b *Broker) Shutdown(ctx context.Context) error {
	for _, id := range b.resources.ids() {
		b.DestroySession(id)
	}

	done := make(chan struct{})
	go func() {
		b.bridges.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for terminal sessions: %w", ctx.Err())
	}
}
