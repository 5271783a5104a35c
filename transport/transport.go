// Package transport abstracts the byte stream a role engine runs over,
// so client104/server104 can drive either a TCP socket or (in principle)
// a serial port through the same collaborator interface.
package transport

import (
	"context"
	"net"
	"time"
)

// ByteStream is the minimal collaborator a role engine needs from its
// underlying channel: open/close lifecycle plus deadline-aware
// read/write. Implementations must be safe for concurrent Read and
// Write from separate goroutines (one reader, one writer), matching
// how client104/server104 run their socket goroutines.
type ByteStream interface {
	Open(ctx context.Context) error
	Close() error
	Read(buf []byte, deadline time.Time) (n int, err error)
	Write(buf []byte) (n int, err error)
	IsOpen() bool

	// RemoteAddr identifies the peer for logging/metrics labels.
	RemoteAddr() string
}

// Dialer opens an outbound ByteStream, used by client104.
type Dialer interface {
	Dial(ctx context.Context, address string) (ByteStream, error)
}

// Listener accepts inbound ByteStreams, used by server104.
type Listener interface {
	Listen(ctx context.Context, address string) (Acceptor, error)
}

// Acceptor yields accepted connections one at a time.
type Acceptor interface {
	Accept(ctx context.Context) (ByteStream, error)
	Close() error
}

// Unwrapper is implemented by ByteStreams backed by a real net.Conn,
// letting a collaborator such as internal/diag recover the raw socket
// for OS-level introspection. Not every ByteStream can support this
// (a serial port has no net.Conn), so callers must type-assert.
type Unwrapper interface {
	Unwrap() net.Conn
}
