// Package server binds a listening socket and runs the accept loop that
// turns each inbound TCP connection into a conn.Connection, the
// accept-side counterpart to the teacher's dial-side connection pool.
package server

import (
	"net"
	"strconv"
	"sync"

	"github.com/haldor/go-hapcore/pkg/conn"
	"github.com/haldor/go-hapcore/pkg/errors"
	"github.com/haldor/go-hapcore/pkg/handler"
	"github.com/haldor/go-hapcore/pkg/registry"
)

// Config controls how Server binds and dispatches: a listen address, a
// handler factory, and the per-connection read buffer size. Everything
// domain-specific (the accessory graph, pairing, TLV8, mDNS advertisement)
// lives behind HandlerFactory.
type Config struct {
	// ListenAddr is the host:port to bind. A port of "0" asks the OS for
	// an ephemeral port, readable back via Server.Addr after Start.
	ListenAddr string

	// HandlerFactory returns the Handler used for one accepted connection.
	// A stateless handler may return the same instance every call.
	HandlerFactory func() handler.Handler

	// ReadBufferSize sizes the per-connection read buffer. Zero selects a
	// sensible default.
	ReadBufferSize int
}

const defaultReadBufferSize = 16 * 1024

// Server accepts connections and feeds them into per-connection protocol
// engines.
type Server struct {
	cfg Config
	reg *registry.Registry

	mu      sync.Mutex
	ln      net.Listener
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Server from cfg. Call Start to begin accepting.
func New(cfg Config) *Server {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	return &Server{
		cfg: cfg,
		reg: registry.New(),
	}
}

// Start binds the listening socket and begins accepting connections on a
// background goroutine. It returns once the socket is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return errors.NewIOError("listen", s.cfg.ListenAddr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listen address. Useful after requesting an
// ephemeral port with ListenAddr ":0".
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Registry exposes the connection registry, mainly so a pairing handler
// can be constructed with a reference for its own push_event calls
// without routing every push through Server.
func (s *Server) Registry() *registry.Registry {
	return s.reg
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		netConn, err := ln.Accept()
		if err != nil {
			return // listener closed by Stop
		}
		s.handleAccept(netConn)
	}
}

func (s *Server) handleAccept(netConn net.Conn) {
	peer, err := peerFromAddr(netConn.RemoteAddr())
	if err != nil {
		netConn.Close()
		return
	}

	h := s.cfg.HandlerFactory()
	c := conn.New(peer, netConn, h, s.reg)
	c.Run()

	s.wg.Add(1)
	go s.readLoop(netConn, c)
}

func (s *Server) readLoop(netConn net.Conn, c *conn.Connection) {
	defer s.wg.Done()
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := netConn.Read(buf)
		if n > 0 {
			c.Feed(buf[:n])
		}
		if err != nil {
			c.Close()
			return
		}
	}
}

// PushEvent delivers an out-of-band notification to the connection
// registered for peer. Returns false if no such connection is currently
// registered — the caller (accessory characteristic subscription logic)
// decides whether that's worth logging.
func (s *Server) PushEvent(peer registry.PeerID, payload []byte) bool {
	return s.reg.PushEvent(peer, payload)
}

// Stats reports registry-wide counters.
func (s *Server) Stats() registry.Stats {
	return s.reg.Stats()
}

// Stop closes the listening socket and every registered connection, then
// waits for the accept loop and all read loops to exit. A connection with
// a deferred response still pending has its token cancelled as part of
// its own close path (see conn.Connection.closeNow).
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	ln := s.ln
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.reg.CloseAll()
	s.wg.Wait()
	return err
}

func peerFromAddr(addr net.Addr) (registry.PeerID, error) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return registry.PeerID{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return registry.PeerID{}, err
	}
	return registry.PeerID{Host: host, Port: port}, nil
}
