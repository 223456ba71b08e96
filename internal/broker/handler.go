package broker

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tourlab/termbroker/internal/protocol"
)

// Handle decodes one inbound WebSocket frame from conn and dispatches it.
// Malformed frames and unknown types or actions are logged and dropped;
// nothing a client sends can close its connection from here.
func (b *Broker) Handle(ctx context.Context, conn ConnectionID, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", string(conn)).Msg("Dropping malformed message")
		return
	}
	b.debug().Str("connection_id", string(conn)).Str("type", env.Type).Msg("WebSocket message")

	switch env.Type {
	case protocol.TypeTerminal:
		cmd, err := env.Terminal()
		if err != nil {
			log.Warn().Err(err).Str("connection_id", string(conn)).Msg("Dropping malformed terminal message")
			return
		}
		b.handleTerminal(ctx, conn, cmd)
	case protocol.TypeHeartbeat:
		b.handleHeartbeat(conn, env)
	case protocol.TypeFileUpdated:
		b.relay(conn, env)
	case protocol.TypeExerciseView, protocol.TypeCodeExecution, protocol.TypeProgressUpdate:
		// Tracked by the exercise services; nothing to do here.
		b.debug().Str("connection_id", string(conn)).Str("type", env.Type).Msg("Ignoring client event")
	default:
		log.Warn().Str("connection_id", string(conn)).Str("type", env.Type).Msg("Unknown WebSocket message type")
	}
}

func (b *Broker) handleTerminal(ctx context.Context, conn ConnectionID, cmd protocol.TerminalCommand) {
	b.debug().Str("connection_id", string(conn)).Str("action", cmd.Action).Str("session_id", cmd.SessionID).Msg("Terminal command")

	switch cmd.Action {
	case protocol.ActionCreate:
		sessionID := cmd.SessionID
		if sessionID == "" {
			sessionID = NewSessionID()
		}
		if _, err := b.CreateSession(ctx, sessionID, conn, deref(cmd.Cols), deref(cmd.Rows)); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Str("connection_id", string(conn)).Msg("Failed to create terminal session")
			b.bus.SendTo(string(conn), protocol.TerminalError(sessionID, err.Error()))
			return
		}
		// The reattach path answers "created" too; clients treat both alike.
		b.bus.Publish(protocol.TerminalEvent(protocol.ActionCreated, sessionID))

	case protocol.ActionCheck:
		if cmd.SessionID == "" {
			return
		}
		action := protocol.ActionNotFound
		if b.CheckSession(cmd.SessionID, conn) == Exists {
			action = protocol.ActionExists
		}
		b.bus.Publish(protocol.TerminalEvent(action, cmd.SessionID))

	case protocol.ActionInput:
		if cmd.SessionID == "" || cmd.Input == nil {
			return
		}
		if err := b.SendInput(cmd.SessionID, []byte(*cmd.Input)); err != nil {
			logSessionError(err, cmd.SessionID, "Failed to send terminal input")
		}

	case protocol.ActionResize:
		if cmd.SessionID == "" || cmd.Cols == nil || cmd.Rows == nil {
			return
		}
		if err := b.Resize(cmd.SessionID, *cmd.Cols, *cmd.Rows); err != nil {
			logSessionError(err, cmd.SessionID, "Failed to resize terminal")
			return
		}
		b.debug().Str("session_id", cmd.SessionID).Uint16("cols", *cmd.Cols).Uint16("rows", *cmd.Rows).Msg("Terminal resized")

	case protocol.ActionDestroy:
		if cmd.SessionID == "" {
			return
		}
		b.DestroySession(cmd.SessionID)

	default:
		log.Warn().Str("connection_id", string(conn)).Str("action", cmd.Action).Msg("Unknown terminal action")
	}
}

// handleHeartbeat answers with the client's timestamp and the server time,
// both in unix milliseconds.
func (b *Broker) handleHeartbeat(conn ConnectionID, env protocol.Envelope) {
	now := b.now().UnixMilli()
	ts, ok := env.Heartbeat()
	if !ok {
		ts = now
	}
	b.debug().Str("connection_id", string(conn)).Msg("Heartbeat")
	b.bus.Publish(protocol.HeartbeatResponse(ts, now))
}

// relay re-broadcasts a client notification to every connection with its
// payload untouched. An editor tab sends file_updated after saving so the
// other tabs reload the file.
func (b *Broker) relay(conn ConnectionID, env protocol.Envelope) {
	m, err := protocol.Raw(env.Frame)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", string(conn)).Str("type", env.Type).Msg("Dropping malformed message")
		return
	}
	n := b.bus.Publish(m)
	b.debug().Str("connection_id", string(conn)).Str("type", m.Type).Int("receivers", n).Msg("Relayed client message")
}

// logSessionError logs stale-session references as warnings and anything
// else as an error.
func logSessionError(err error, sessionID, msg string) {
	var e *zerolog.Event
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrInvalidGeometry) {
		e = log.Warn()
	} else {
		e = log.Error()
	}
	e.Err(err).Str("session_id", sessionID).Msg(msg)
}

// debug returns a debug event when websocket debugging is on, nil otherwise.
// zerolog treats a nil event as disabled.
func (b *Broker) debug() *zerolog.Event {
	if !b.opts.Debug {
		return nil
	}
	return log.Debug()
}

func deref(v *uint16) uint16 {
	if v == nil {
		return 0
	}
	return *v
}
