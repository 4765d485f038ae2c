package server

import (
	"io"
	"net"
	"sync"

	"github.com/pchastel/causerie/pkg/protocol"
)

// Stream is one bidirectional client byte stream, independent of transport.
// net.Conn satisfies it directly; the WebSocket bridge adapts to it.
type Stream interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// SafeConn wraps a Stream with automatic write synchronization so concurrent
// writers cannot interleave frame bytes on the wire.
//
// Under load, multiple goroutines (the session's own handler, message routing
// from other sessions, presence broadcasts) may write to the same connection
// simultaneously. SafeConn encapsulates the stream and its write mutex,
// making it impossible to write without synchronization.
type SafeConn struct {
	stream Stream
	mu     sync.Mutex // Protects writes to stream
}

// NewSafeConn wraps a Stream with write synchronization.
func NewSafeConn(stream Stream) *SafeConn {
	return &SafeConn{stream: stream}
}

// WriteFrame builds a frame from the given parts and sends it as one
// newline-terminated line in a single write. This is the ONLY way to write
// frames to the connection; the raw stream is private.
func (sc *SafeConn) WriteFrame(parts ...string) error {
	line := protocol.BuildCommand(parts...)
	if len(line) > protocol.MaxLineBytes {
		return protocol.ErrFrameTooLong
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, err := sc.stream.Write([]byte(line + "\n"))
	return err
}

// Reader returns the underlying stream for the session's single read loop.
// Reads don't need write synchronization.
func (sc *SafeConn) Reader() io.Reader {
	return sc.stream
}

// Close closes the underlying stream.
func (sc *SafeConn) Close() error {
	return sc.stream.Close()
}

// RemoteAddr returns the remote network address.
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.stream.RemoteAddr()
}
