package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// TCPDialer dials plain or TLS TCP connections, mirroring the teacher's
// Client.dial: TLS is used whenever a *tls.Config is supplied.
type TCPDialer struct {
	TLSConfig *tls.Config
	Timeout   time.Duration
}

func (d *TCPDialer) Dial(ctx context.Context, address string) (ByteStream, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	var conn net.Conn
	var err error
	if d.TLSConfig != nil {
		conn, err = tls.DialWithDialer(&dialer, "tcp", address, d.TLSConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", address, err)
	}
	tuneTCP(conn)
	return &tcpStream{conn: conn}, nil
}

// TCPListener accepts plain or TLS TCP connections, mirroring the
// teacher's Server.listen.
type TCPListener struct {
	TLSConfig *tls.Config
}

func (l *TCPListener) Listen(ctx context.Context, address string) (Acceptor, error) {
	var ln net.Listener
	var err error
	if l.TLSConfig != nil {
		ln, err = tls.Listen("tcp", address, l.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", address, err)
	}
	return &tcpAcceptor{ln: ln}, nil
}

type tcpAcceptor struct {
	ln net.Listener
}

func (a *tcpAcceptor) Accept(ctx context.Context) (ByteStream, error) {
	conn, err := a.ln.Accept()
	if err != nil {
		return nil, err
	}
	tuneTCP(conn)
	return &tcpStream{conn: conn}, nil
}

func (a *tcpAcceptor) Close() error {
	return a.ln.Close()
}

// tuneTCP applies the socket options the teacher's server sets up
// implicitly through the stdlib defaults, made explicit here since
// spec.md's diagnostics surface depends on TCP_NODELAY behavior being
// predictable.
func tuneTCP(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}
}

type tcpStream struct {
	conn net.Conn
}

func (s *tcpStream) Open(ctx context.Context) error { return nil }

func (s *tcpStream) Close() error {
	return s.conn.Close()
}

func (s *tcpStream) Read(buf []byte, deadline time.Time) (int, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	return s.conn.Read(buf)
}

func (s *tcpStream) Write(buf []byte) (int, error) {
	return s.conn.Write(buf)
}

func (s *tcpStream) IsOpen() bool {
	return s.conn != nil
}

func (s *tcpStream) RemoteAddr() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// Unwrap exposes the underlying net.Conn for collaborators (such as
// internal/diag) that need the raw file descriptor. TLS connections
// return the wrapped *tls.Conn, not the TCP socket beneath it.
func (s *tcpStream) Unwrap() net.Conn {
	return s.conn
}
