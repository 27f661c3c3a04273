// Package ftp implements the FTP control and data connection engine:
// it accepts connections, parses command lines, negotiates data
// sockets, and dispatches filesystem verbs through the handler table.
package ftp

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/gitftp/gitftp/internal/config"
	"github.com/gitftp/gitftp/internal/credentials"
	"github.com/gitftp/gitftp/internal/handler"
	"github.com/gitftp/gitftp/internal/logging"
	"github.com/gitftp/gitftp/internal/metrics"
	"github.com/gitftp/gitftp/internal/remote"
)

// Server accepts FTP control connections and runs the command loop on
// each. Sessions share nothing but the read-only credential store.
type Server struct {
	cfg       *config.Config
	table     map[string]handler.Func
	store     credentials.Store
	connector remote.Connector

	mu       sync.Mutex
	listener net.Listener
	total    int
	perIP    map[string]int
	nextPasv int
}

// NewServer creates a server wired to the given credential store and
// remote connector.
func NewServer(cfg *config.Config, store credentials.Store, connector remote.Connector) *Server {
	return &Server{
		cfg:       cfg,
		table:     handler.NewTranslator(cfg.StorIdleTimeout).Table(),
		store:     store,
		connector: connector,
		perIP:     make(map[string]int),
		nextPasv:  cfg.PassivePortMin,
	}
}

// ListenAndServe listens on the configured control address and serves
// until the listener is closed.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln, one goroutine per connection.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logging.Info("FTP gateway listening", zap.String("addr", ln.Addr().String()))

	for {
		rwc, err := ln.Accept()
		if err != nil {
			return err
		}

		ip := remoteIP(rwc)
		if !s.admit(ip) {
			logging.Warn("connection limit reached", zap.String("ip", ip))
			fmt.Fprintf(rwc, "421 Too many connections.\r\n")
			rwc.Close()
			continue
		}
		go s.handle(rwc, ip)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) admit(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.total >= s.cfg.MaxConnections {
		return false
	}
	if s.perIP[ip] >= s.cfg.MaxConnectionsPerIP {
		return false
	}
	s.total++
	s.perIP[ip]++
	return true
}

func (s *Server) release(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total--
	s.perIP[ip]--
	if s.perIP[ip] <= 0 {
		delete(s.perIP, ip)
	}
}

// listenPassive binds a listener from the configured passive port
// range, rotating through it so ports are spread across transfers.
func (s *Server) listenPassive() (net.Listener, error) {
	s.mu.Lock()
	start := s.nextPasv
	s.mu.Unlock()

	span := s.cfg.PassivePortMax - s.cfg.PassivePortMin + 1
	for i := 0; i < span; i++ {
		port := s.cfg.PassivePortMin + (start-s.cfg.PassivePortMin+i)%span
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.nextPasv = s.cfg.PassivePortMin + (port-s.cfg.PassivePortMin+1)%span
		s.mu.Unlock()
		return ln, nil
	}
	return nil, fmt.Errorf("no free port in passive range %d-%d",
		s.cfg.PassivePortMin, s.cfg.PassivePortMax)
}

func remoteIP(c net.Conn) string {
	host, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String()
	}
	return host
}

func (s *Server) handle(rwc net.Conn, ip string) {
	metrics.SessionOpened()
	defer metrics.SessionClosed()
	defer s.release(ip)

	c := newConn(s, rwc)
	defer c.cleanup()

	logging.Info("connection opened", zap.String("remote", rwc.RemoteAddr().String()))
	c.serve()
	logging.Info("connection closed", zap.String("remote", rwc.RemoteAddr().String()))
}
