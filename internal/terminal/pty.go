package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/creack/pty"
)

// DefaultShell is started when SpawnConfig.Shell is empty.
const DefaultShell = "bash"

// Default geometry for shells created without one.
const (
	DefaultCols uint16 = 80
	DefaultRows uint16 = 24
)

// PTY is a shell process running on a pseudo-terminal.
type PTY struct {
	cmd  *exec.Cmd
	ptmx *os.File

	writeMu sync.Mutex
	exited  atomic.Bool

	waitOnce sync.Once
	exitCode int
	waitErr  error
}

// Start spawns cfg.Shell on a new PTY. The shell becomes a session leader
// with the PTY as its controlling terminal, so Kill reaches every process it
// starts in the foreground.
func Start(ctx context.Context, cfg SpawnConfig) (*PTY, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shell := cfg.Shell
	if shell == "" {
		shell = DefaultShell
	}
	path, err := exec.LookPath(shell)
	if err != nil {
		return nil, fmt.Errorf("find shell %q: %w", shell, err)
	}

	// Not CommandContext: the shell outlives the request that created it.
	cmd := exec.Command(path, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), cfg.Env...)

	size := &pty.Winsize{Cols: cfg.Cols, Rows: cfg.Rows}
	if size.Cols == 0 {
		size.Cols = DefaultCols
	}
	if size.Rows == 0 {
		size.Rows = DefaultRows
	}

	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("start %s on pty: %w", shell, err)
	}

	return &PTY{cmd: cmd, ptmx: ptmx}, nil
}

// Read reads shell output from the PTY master.
func (p *PTY) Read(b []byte) (int, error) {
	return p.ptmx.Read(b)
}

// Write writes input to the shell. Concurrent writes are serialized so
// keystrokes from different clients are never interleaved mid-chunk.
func (p *PTY) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.ptmx.Write(b)
}

// Resize changes the PTY window size.
func (p *PTY) Resize(cols, rows uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{
		Rows: rows,
		Cols: cols,
	})
}

// Kill terminates the shell and its process group.
func (p *PTY) Kill() error {
	if p.exited.Load() || p.cmd.Process == nil {
		return nil
	}
	if err := killGroup(p.cmd.Process); err != nil {
		return fmt.Errorf("kill pid %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}

// Wait reaps the shell and closes the PTY master.
func (p *PTY) Wait() (int, error) {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		p.exited.Store(true)
		_ = p.ptmx.Close()

		p.exitCode = -1
		if st := p.cmd.ProcessState; st != nil {
			p.exitCode = st.ExitCode()
		}
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.waitErr = err
		}
	})
	return p.exitCode, p.waitErr
}

// Pid returns the shell's process id.
func (p *PTY) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// PTYSpawner starts shells on local pseudo-terminals.
type PTYSpawner struct{}

// Spawn implements Spawner.
func (PTYSpawner) Spawn(ctx context.Context, cfg SpawnConfig) (Process, error) {
	p, err := Start(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

var (
	_ Process = (*PTY)(nil)
	_ Spawner = PTYSpawner{}
)
