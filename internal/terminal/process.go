// Package terminal provides pseudo-terminal (PTY) shell processes.
//
// A Process is one shell attached to the slave side of a PTY; the broker
// holds the master side. Output is read with blocking reads, so callers
// dedicate a goroutine to Read.
package terminal

import "context"

// Process is a running shell on a PTY. Write and Resize are safe for
// concurrent use; Read is meant for a single reader goroutine.
type Process interface {
	// Read receives shell output from the PTY master. It returns an error
	// (io.EOF or EIO) once the shell and every process holding the slave
	// side are gone.
	Read(p []byte) (n int, err error)
	// Write sends keyboard input to the shell.
	Write(p []byte) (n int, err error)
	// Resize changes the PTY geometry.
	Resize(cols, rows uint16) error
	// Kill terminates the shell's process group. It is a no-op after the
	// process has been reaped.
	Kill() error
	// Wait reaps the process and releases the PTY. It returns the exit code,
	// or -1 when the process was killed by a signal. Repeated calls return
	// the first result.
	Wait() (exitCode int, err error)
	// Pid returns the shell's process id.
	Pid() int
}

// Spawner creates Processes. Implementations must be safe for concurrent use.
type Spawner interface {
	Spawn(ctx context.Context, cfg SpawnConfig) (Process, error)
}

// SpawnConfig carries the parameters of a new shell.
type SpawnConfig struct {
	// Shell is the program to run (looked up in PATH). Empty means DefaultShell.
	Shell string
	// Args are passed to Shell.
	Args []string
	// Dir is the working directory. Empty inherits the broker's.
	Dir string
	// Env is appended to the broker's environment.
	Env []string
	// Cols and Rows are the initial geometry; zero means 80x24.
	Cols uint16
	Rows uint16
}
