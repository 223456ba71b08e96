// Package protocol defines the JSON messages exchanged with browser clients
// over the terminal WebSocket.
//
// Every frame is a single JSON object. The "type" field names the message
// family; the family's payload is flattened into the same object:
//
//	{"type":"terminal","action":"output","sessionId":"s1","data":"hi\r\n"}
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message families.
const (
	TypeTerminal          = "terminal"
	TypeHeartbeat         = "heartbeat"
	TypeHeartbeatResponse = "heartbeat_response"
	TypeFileUpdated       = "file_updated"
	TypeFileChanged       = "file_changed"
	TypeExerciseView      = "exercise_view"
	TypeCodeExecution     = "code_execution"
	TypeProgressUpdate    = "progress_update"
)

// Terminal actions sent by the client.
const (
	ActionCreate  = "create"
	ActionCheck   = "check"
	ActionInput   = "input"
	ActionResize  = "resize"
	ActionDestroy = "destroy"
)

// Terminal actions sent by the server.
const (
	ActionOutput   = "output"
	ActionExit     = "exit"
	ActionCreated  = "created"
	ActionExists   = "exists"
	ActionNotFound = "not_found"
	ActionError    = "error"
)

// ErrMissingType is returned by Decode for objects without a "type" field.
var ErrMissingType = errors.New("protocol: message has no type")

// Message is an outbound frame. Data is flattened next to "type" when
// encoded; a "type" key inside Data is ignored.
type Message struct {
	Type string
	Data map[string]any
}

// MarshalJSON flattens Data into the envelope object.
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Data)+1)
	for k, v := range m.Data {
		out[k] = v
	}
	out["type"] = m.Type
	return json.Marshal(out)
}

// Encode returns the wire form of m.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return b, nil
}

// Raw wraps an already-encoded JSON object so it can travel through the bus
// untouched. Field values are kept as raw JSON, so numbers and nested
// objects are re-emitted byte for byte.
func Raw(frame []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	var typ string
	if rawType, ok := fields["type"]; ok {
		if err := json.Unmarshal(rawType, &typ); err != nil {
			return Message{}, fmt.Errorf("decode message type: %w", err)
		}
	}
	if typ == "" {
		return Message{}, ErrMissingType
	}
	delete(fields, "type")
	data := make(map[string]any, len(fields))
	for k, v := range fields {
		data[k] = v
	}
	return Message{Type: typ, Data: data}, nil
}

// Envelope is a decoded inbound frame. Frame keeps the whole object so the
// family-specific payload can be decoded from it.
type Envelope struct {
	Type  string
	Frame []byte
}

// Decode parses the envelope of an inbound frame.
func Decode(frame []byte) (Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if head.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return Envelope{Type: head.Type, Frame: frame}, nil
}

// TerminalCommand is the payload of an inbound "terminal" frame.
type TerminalCommand struct {
	Action    string  `json:"action"`
	SessionID string  `json:"sessionId,omitempty"`
	Input     *string `json:"input,omitempty"`
	Cols      *uint16 `json:"cols,omitempty"`
	Rows      *uint16 `json:"rows,omitempty"`
}

// Terminal decodes the terminal payload of e.
func (e Envelope) Terminal() (TerminalCommand, error) {
	var cmd TerminalCommand
	if err := json.Unmarshal(e.Frame, &cmd); err != nil {
		return TerminalCommand{}, fmt.Errorf("decode terminal command: %w", err)
	}
	return cmd, nil
}

// Heartbeat decodes the client timestamp of a "heartbeat" frame. ok is false
// when the field is absent or not an integer.
func (e Envelope) Heartbeat() (timestamp int64, ok bool) {
	var hb struct {
		Timestamp json.Number `json:"timestamp"`
	}
	if err := json.Unmarshal(e.Frame, &hb); err != nil {
		return 0, false
	}
	ts, err := hb.Timestamp.Int64()
	if err != nil || ts < 0 {
		return 0, false
	}
	return ts, true
}

// TerminalEvent builds a bare terminal acknowledgement such as "created".
func TerminalEvent(action, sessionID string) Message {
	return Message{
		Type: TypeTerminal,
		Data: map[string]any{"action": action, "sessionId": sessionID},
	}
}

// Output carries shell bytes for one session.
func Output(sessionID, data string) Message {
	return Message{
		Type: TypeTerminal,
		Data: map[string]any{"action": ActionOutput, "sessionId": sessionID, "data": data},
	}
}

// Exit signals that a session's process is gone. A negative exitCode means
// the code is unknown (killed by a signal) and is left out.
func Exit(sessionID string, exitCode int) Message {
	m := TerminalEvent(ActionExit, sessionID)
	if exitCode >= 0 {
		m.Data["exitCode"] = exitCode
	}
	return m
}

// TerminalError reports a failed request back to the client that sent it.
func TerminalError(sessionID, message string) Message {
	m := TerminalEvent(ActionError, sessionID)
	m.Data["message"] = message
	return m
}

// HeartbeatResponse answers a heartbeat. Both times are unix milliseconds.
func HeartbeatResponse(timestamp, serverTime int64) Message {
	return Message{
		Type: TypeHeartbeatResponse,
		Data: map[string]any{"timestamp": timestamp, "server_time": serverTime},
	}
}

// FileChanged notifies clients that a file under the exercise root changed.
func FileChanged(exercise, file string) Message {
	return Message{
		Type: TypeFileChanged,
		Data: map[string]any{"exercise": exercise, "file": file},
	}
}
