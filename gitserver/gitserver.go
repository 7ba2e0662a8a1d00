// Package gitserver implements a single TCP acceptor that dispatches each
// accepted connection to the upload-pack/receive-pack handlers in the
// transport package. The acceptor loop never blocks on handler work: every
// connection is served by its own goroutine, and logging is funneled
// through one shared, mutex-protected logrus logger so interleaved workers
// never tear a log line in half.
package gitserver

import (
	"bufio"
	"net"
	"sync"

	"github.com/opengit/opengit/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// DefaultAddr is the conventional git:// daemon port.
const DefaultAddr = ":9418"

// RepoLookup resolves a request's repo path to a transport.Repo, or returns
// an error if the path doesn't name a repository this server serves.
type RepoLookup func(repoPath string) (transport.Repo, error)

// Server is a single-address TCP listener for the upload-pack/receive-pack
// protocol. The zero value is not usable; build one with New.
type Server struct {
	addr   string
	lookup RepoLookup

	logMu sync.Mutex
	log   *logrus.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New builds a Server listening on addr (DefaultAddr if empty) that
// resolves incoming requests through lookup.
func New(addr string, lookup RepoLookup) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		addr:   addr,
		lookup: lookup,
		log:    logrus.StandardLogger(),
	}
}

// Listen opens the listening socket without serving connections yet. It's
// split from Serve so callers that need the actual bound address (port 0
// resolved by the kernel) can read it via Addr before the accept loop
// starts.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return xerrors.Errorf("could not listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.logf("git server listening on %s", l.Addr().String())
	return nil
}

// Addr returns the address the server is bound to. It's only meaningful
// after a successful Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// ListenAndServe opens the listening socket (if not already open via
// Listen) and runs the accept loop until the listener is closed (via
// Close) or Accept returns a fatal error.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	alreadyListening := s.listener != nil
	s.mu.Unlock()
	if !alreadyListening {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	return s.Serve()
}

// Serve runs the accept loop against a socket already opened by Listen.
func (s *Server) Serve() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return xerrors.Errorf("gitserver: Serve called before Listen")
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.listener == nil
			s.mu.Unlock()
			if closed {
				return nil
			}
			return xerrors.Errorf("accept failed: %w", err)
		}
		go s.handle(conn)
	}
}

// Close stops the accept loop. Connections already being served run to
// completion.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	l := s.listener
	s.listener = nil
	return l.Close()
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close() //nolint:errcheck // best-effort close on a worker goroutine

	remote := conn.RemoteAddr().String()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	req, err := transport.ReadRequestLine(r)
	if err != nil {
		s.logf("%s: could not read request line: %v", remote, err)
		return
	}

	repo, err := s.lookup(req.RepoPath)
	if err != nil {
		s.logf("%s: %s %s: %v", remote, req.Service, req.RepoPath, err)
		return
	}

	s.logf("%s: %s %s", remote, req.Service, req.RepoPath)

	switch req.Service {
	case transport.ServiceUploadPack:
		err = transport.UploadPack(r, w, repo)
	case transport.ServiceReceivePack:
		err = transport.ReceivePack(r, w, repo)
	default:
		s.logf("%s: unknown service %q", remote, req.Service)
		return
	}
	if err != nil {
		s.logf("%s: %s %s failed: %v", remote, req.Service, req.RepoPath, err)
	}
}

func (s *Server) logf(format string, args ...any) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.log.Infof(format, args...)
}
