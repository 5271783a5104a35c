package server104

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/gridstream/go-iec60870/asdu"
	"github.com/gridstream/go-iec60870/transport"
)

// Server is a CS104 controlled station (slave) listener. It is also
// called the server or controlled station; peers that dial it are
// clients/masters.
type Server struct {
	opt      *Option
	listener transport.Listener
	acceptor transport.Acceptor

	groups []*redundancyGroup

	sem chan struct{}

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// New constructs a Server from opt, validating every redundancy group
// up front so a misconfigured allow-list fails at startup rather than
// at the first ambiguous accept.
func New(opt *Option) (*Server, error) {
	s := &Server{
		opt:      opt,
		listener: &transport.TCPListener{TLSConfig: opt.tls},
		sem:      make(chan struct{}, opt.maxClients),
		conns:    make(map[*Conn]struct{}),
	}
	if opt.mode == ModeRedundant {
		for _, cfg := range opt.groups {
			g, err := newRedundancyGroup(cfg)
			if err != nil {
				return nil, err
			}
			s.groups = append(s.groups, g)
		}
		if len(s.groups) == 0 {
			return nil, fmt.Errorf("server104: redundant mode requires at least one configured group")
		}
	}
	return s, nil
}

// Serve listens and accepts connections until ctx is cancelled,
// spawning up to opt.maxClients concurrent connection workers plus one
// acceptor, per spec.md's scheduling model.
func (s *Server) Serve(ctx context.Context) error {
	acceptor, err := s.listener.Listen(ctx, s.opt.address)
	if err != nil {
		return fmt.Errorf("server104: listen %s: %w", s.opt.address, err)
	}
	s.acceptor = acceptor
	defer acceptor.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		stream, err := acceptor.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			continue
		}

		group, ok := s.resolveGroup(stream.RemoteAddr())
		if s.opt.mode == ModeRedundant && !ok {
			_ = stream.Close()
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			_ = stream.Close()
			return ctx.Err()
		}

		conn := newConn(s.opt, stream, group)
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go func() {
			defer func() {
				<-s.sem
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			conn.serve(ctx)
		}()
	}
}

// resolveGroup finds the redundancy group whose allow-list contains
// remoteAddr's IP. In ModeMulti it always returns (nil, true): every
// connection is its own activation domain.
func (s *Server) resolveGroup(remoteAddr string) (*redundancyGroup, bool) {
	if s.opt.mode == ModeMulti {
		return nil, true
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	for _, g := range s.groups {
		if g.Contains(host) {
			return g, true
		}
	}
	return nil, false
}

// ActiveConnections returns the currently served connections, for
// broadcast-style Send to every activated peer.
func (s *Server) ActiveConnections() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		if c.IsActivated() {
			out = append(out, c)
		}
	}
	return out
}

// Broadcast sends a to every currently activated connection, the
// common pattern for spontaneous monitoring data in ModeMulti; it
// collects but does not stop on a per-connection error.
func (s *Server) Broadcast(a *asdu.ASDU) []error {
	var errs []error
	for _, c := range s.ActiveConnections() {
		if err := c.Send(a); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.RemoteAddr(), err))
		}
	}
	return errs
}
