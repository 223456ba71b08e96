package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tourlab/termbroker/internal/bus"
	"github.com/tourlab/termbroker/internal/terminal"
)

// fakeProcess is an in-memory Process. Output written with emit is read by
// the bridge; Kill and exit end the output stream.
type fakeProcess struct {
	pid  int
	outR *io.PipeReader
	outW *io.PipeWriter

	mu       sync.Mutex
	input    bytes.Buffer
	cols     uint16
	rows     uint16
	writeErr error

	killed   atomic.Bool
	exitOnce sync.Once
	exitCode int
	exited   chan struct{}
}

func newFakeProcess(pid int, cols, rows uint16) *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{pid: pid, outR: r, outW: w, cols: cols, rows: rows, exited: make(chan struct{})}
}

func (p *fakeProcess) Read(b []byte) (int, error) { return p.outR.Read(b) }

func (p *fakeProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.input.Write(b)
}

func (p *fakeProcess) Resize(cols, rows uint16) error {
	p.mu.Lock()
	p.cols, p.rows = cols, rows
	p.mu.Unlock()
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.exit(-1)
	return nil
}

func (p *fakeProcess) Wait() (int, error) {
	<-p.exited
	return p.exitCode, nil
}

func (p *fakeProcess) Pid() int { return p.pid }

// exit simulates the shell terminating on its own.
func (p *fakeProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.exitCode = code
		_ = p.outW.Close()
		close(p.exited)
	})
}

func (p *fakeProcess) emit(t *testing.T, s string) {
	t.Helper()
	_, err := p.outW.Write([]byte(s))
	require.NoError(t, err)
}

func (p *fakeProcess) inputString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

func (p *fakeProcess) size() (uint16, uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

type fakeSpawner struct {
	mu      sync.Mutex
	procs   []*fakeProcess
	configs []terminal.SpawnConfig
	err     error
	delay   time.Duration
}

func (s *fakeSpawner) Spawn(_ context.Context, cfg terminal.SpawnConfig) (terminal.Process, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProcess(1000+len(s.procs), cfg.Cols, cfg.Rows)
	s.procs = append(s.procs, p)
	s.configs = append(s.configs, cfg)
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) proc(i int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

var errNoPTY = errors.New("out of ptys")

func newTestBroker(t *testing.T) (*Broker, *fakeSpawner) {
	t.Helper()
	sp := &fakeSpawner{}
	b := New(bus.New(256), sp, Options{WorkDir: "/exercises", Shell: "bash"})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
	})
	return b, sp
}

// next returns the next frame on sub, decoded.
func next(t *testing.T, sub *bus.Subscription) map[string]any {
	t.Helper()
	select {
	case frame, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		var m map[string]any
		require.NoError(t, json.Unmarshal(frame, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus message")
		return nil
	}
}

// nextAction skips frames until a terminal event with action arrives.
func nextAction(t *testing.T, sub *bus.Subscription, action string) map[string]any {
	t.Helper()
	for {
		m := next(t, sub)
		if m["type"] == "terminal" && m["action"] == action {
			return m
		}
	}
}

// expectQuiet fails if sub receives a frame matching pred within d.
func expectQuiet(t *testing.T, sub *bus.Subscription, d time.Duration, pred func(map[string]any) bool) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case frame, ok := <-sub.C():
			if !ok {
				return
			}
			var m map[string]any
			require.NoError(t, json.Unmarshal(frame, &m))
			if pred(m) {
				t.Fatalf("unexpected message: %v", m)
			}
		case <-deadline:
			return
		}
	}
}
