package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageFlattensPayload(t *testing.T) {
	b, err := Encode(Output("s1", "hi"))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, map[string]any{
		"type":      "terminal",
		"action":    "output",
		"sessionId": "s1",
		"data":      "hi",
	}, got)
}

func TestMessageTypeWinsOverPayload(t *testing.T) {
	b, err := Encode(Message{Type: "terminal", Data: map[string]any{"type": "spoofed"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"terminal"}`, string(b))
}

func TestExitOmitsUnknownCode(t *testing.T) {
	b, err := Encode(Exit("s1", -1))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"terminal","action":"exit","sessionId":"s1"}`, string(b))

	b, err = Encode(Exit("s1", 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"terminal","action":"exit","sessionId":"s1","exitCode":0}`, string(b))
}

func TestDecodeTerminalCommand(t *testing.T) {
	env, err := Decode([]byte(`{"type":"terminal","action":"create","sessionId":"s1","cols":120,"rows":40}`))
	require.NoError(t, err)
	assert.Equal(t, TypeTerminal, env.Type)

	cmd, err := env.Terminal()
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, cmd.Action)
	assert.Equal(t, "s1", cmd.SessionID)
	require.NotNil(t, cmd.Cols)
	require.NotNil(t, cmd.Rows)
	assert.Equal(t, uint16(120), *cmd.Cols)
	assert.Equal(t, uint16(40), *cmd.Rows)
	assert.Nil(t, cmd.Input)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"action":"create"}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestTerminalRejectsOutOfRangeGeometry(t *testing.T) {
	env, err := Decode([]byte(`{"type":"terminal","action":"resize","sessionId":"s1","cols":-1,"rows":24}`))
	require.NoError(t, err)
	_, err = env.Terminal()
	assert.Error(t, err)
}

func TestHeartbeatTimestamp(t *testing.T) {
	env, err := Decode([]byte(`{"type":"heartbeat","timestamp":1700000000123}`))
	require.NoError(t, err)
	ts, ok := env.Heartbeat()
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000123), ts)

	env, err = Decode([]byte(`{"type":"heartbeat"}`))
	require.NoError(t, err)
	_, ok = env.Heartbeat()
	assert.False(t, ok)
}

func TestRawPassesPayloadThrough(t *testing.T) {
	in := `{"type":"file_updated","exercise":"ex01","files":["src/main.rs"],"size":12345678901234567}`
	m, err := Raw([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, TypeFileUpdated, m.Type)

	out, err := Encode(m)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
	assert.Contains(t, string(out), "12345678901234567")
}

func TestRawRequiresType(t *testing.T) {
	_, err := Raw([]byte(`{"exercise":"ex01"}`))
	assert.ErrorIs(t, err, ErrMissingType)
}
