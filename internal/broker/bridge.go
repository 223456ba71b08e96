package broker

import (
	"io"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/tourlab/termbroker/internal/protocol"
)

const (
	// readBufferSize is the size of one blocking PTY read.
	readBufferSize = 1024
	// handoffCapacity bounds the chunks queued between reader and forwarder.
	handoffCapacity = 100
)

// startBridge connects a session's PTY to the bus. A reader goroutine sits
// in blocking reads and hands chunks to a forwarder goroutine, which
// publishes them in order. When the reader stops the forwarder reaps the
// process, clears the tables and announces the exit.
func (b *Broker) startBridge(sessionID string, res *ptyResource) {
	chunks := make(chan []byte, handoffCapacity)
	b.bridges.Add(2)
	go func() {
		defer b.bridges.Done()
		pump(res.proc, chunks)
	}()
	go func() {
		defer b.bridges.Done()
		b.forward(sessionID, res, chunks)
	}()
}

// pump reads r until EOF or error and sends each chunk on out, then closes
// out. Read errors end the stream exactly like EOF. A multi-byte UTF-8
// sequence split across reads is held back and sent with the next chunk.
func pump(r io.Reader, out chan<- []byte) {
	defer close(out)
	buf := make([]byte, readBufferSize)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, len(pending)+n)
			copy(chunk, pending)
			copy(chunk[len(pending):], buf[:n])
			pending = nil

			if tail := incompleteUTF8Tail(chunk); tail > 0 {
				pending = append([]byte(nil), chunk[len(chunk)-tail:]...)
				chunk = chunk[:len(chunk)-tail]
			}
			if len(chunk) > 0 {
				out <- chunk
			}
		}
		if err != nil {
			if len(pending) > 0 {
				out <- pending
			}
			return
		}
	}
}

// incompleteUTF8Tail returns how many trailing bytes of b form the start of
// a UTF-8 sequence that is not complete yet.
func incompleteUTF8Tail(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if utf8.FullRune(b[len(b)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}

func (b *Broker) forward(sessionID string, res *ptyResource, chunks <-chan []byte) {
	for chunk := range chunks {
		if res.destroyed.Load() {
			continue
		}
		b.bus.Publish(protocol.Output(sessionID, string(chunk)))
	}

	code, err := res.proc.Wait()
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to wait for terminal process")
	}

	// Tables are cleared before the exit notice goes out, so a client that
	// reacts to it by creating the same id gets a fresh shell.
	b.resources.removeIf(sessionID, res)
	b.sessions.removeIf(sessionID, res.sess)

	b.bus.Publish(protocol.Exit(sessionID, code))
	log.Info().Str("session_id", sessionID).Int("exit_code", code).Msg("Terminal process exited")
}
