// Package cmdserver serves the line-oriented control protocol over TCP.
package cmdserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camera-control/ccs/internal/dispatch"
	"github.com/camera-control/ccs/internal/tool"
)

// maxLineBytes bounds one command line.
const maxLineBytes = 1 << 20

// Config holds the listener settings.
type Config struct {
	Host         string
	Port         int
	AllowedCIDRs []string      // empty allows every client
	IdleTimeout  time.Duration // zero disables the idle timeout
	LogCommands  bool
	MaxLineBytes int // zero means 1 MiB
}

// Server handles control protocol connections.
type Server struct {
	config     Config
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
	allowed    []*net.IPNet

	listener net.Listener
	stopChan chan struct{}
	stopOnce sync.Once

	sessions      map[string]*Session
	sessionsMutex sync.Mutex
	wg            sync.WaitGroup
}

// NewServer creates a command server. The CIDR allow-list is validated here.
func NewServer(cfg Config, d *dispatch.Dispatcher, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:     cfg,
		dispatcher: d,
		logger:     logger.Named("cmdserver"),
		stopChan:   make(chan struct{}),
		sessions:   make(map[string]*Session),
	}
	for _, cidr := range cfg.AllowedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed CIDR %q: %w", cidr, err)
		}
		s.allowed = append(s.allowed, network)
	}
	return s, nil
}

// Listen binds the configured address. It fails with BindError when the
// port is unavailable.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return tool.NewError(tool.ErrBind, addr, err)
	}
	s.listener = listener
	s.logger.Info("Command server listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds and serves until ctx is done or Close is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections on the bound listener until ctx is done or
// Close is called. Each connection is served by its own goroutine. Serve
// returns once every session has ended.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("command server is not listening")
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.stopChan:
		}
	}()

	// Sessions dispatch with a context that outlives their connection, so
	// in-flight tool calls run to completion.
	dispatchCtx := context.WithoutCancel(ctx)

	defer s.wg.Wait()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("Failed to accept connection", zap.Error(err))
			continue
		}

		if !s.isAllowedConnection(conn) {
			s.logger.Warn("Rejected connection (not in allowed CIDRs)", zap.Stringer("remote", conn.RemoteAddr()))
			conn.Close()
			continue
		}

		session := s.newSession(conn)
		if !s.track(session) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(session)
			s.handleConnection(dispatchCtx, session)
		}()
	}
}

// handleConnection reads command lines and writes one reply per line, in order.
func (s *Server) handleConnection(ctx context.Context, session *Session) {
	defer session.conn.Close()

	log := s.logger.With(zap.String("session", session.ID), zap.Stringer("remote", session.conn.RemoteAddr()))
	log.Info("Session opened")
	defer log.Info("Session closed")

	reader := bufio.NewReader(session.conn)
	maxLine := s.config.MaxLineBytes
	if maxLine <= 0 {
		maxLine = maxLineBytes
	}

	for {
		if s.config.IdleTimeout > 0 {
			session.conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}
		raw, err := readLine(reader, maxLine)
		if errors.Is(err, errLineTooLong) {
			// The rest of the line was discarded, the session stays usable
			if err := session.writeLine(dispatch.StatusError + " " + tool.ErrArgument.Error() + " line too long"); err != nil {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("Session read ended", zap.Error(err))
			}
			return
		}

		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		reply, quit := session.lines.Handle(ctx, line)
		if err := session.writeLine(reply); err != nil {
			log.Debug("Failed to write reply", zap.Error(err))
			return
		}
		if quit {
			return
		}
	}
}

// isAllowedConnection checks if the connection is from an allowed CIDR.
func (s *Server) isAllowedConnection(conn net.Conn) bool {
	if len(s.allowed) == 0 {
		return true
	}

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return false
	}
	clientIP := net.ParseIP(host)
	if clientIP == nil {
		return false
	}

	for _, network := range s.allowed {
		if network.Contains(clientIP) {
			return true
		}
	}
	return false
}

func (s *Server) track(session *Session) bool {
	s.sessionsMutex.Lock()
	defer s.sessionsMutex.Unlock()
	select {
	case <-s.stopChan:
		return false
	default:
	}
	s.sessions[session.ID] = session
	return true
}

func (s *Server) untrack(session *Session) {
	s.sessionsMutex.Lock()
	defer s.sessionsMutex.Unlock()
	delete(s.sessions, session.ID)
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	s.sessionsMutex.Lock()
	defer s.sessionsMutex.Unlock()
	return len(s.sessions)
}

// Close stops accepting connections and closes every open session.
// Commands already dispatched run to completion.
func (s *Server) Close() error {
	var err error
	s.stopOnce.Do(func() {
		s.sessionsMutex.Lock()
		close(s.stopChan)
		for _, session := range s.sessions {
			session.conn.Close()
		}
		s.sessionsMutex.Unlock()

		if s.listener != nil {
			err = s.listener.Close()
		}
	})
	return err
}

// Session is one client connection.
type Session struct {
	ID    string
	conn  net.Conn
	lines *dispatch.LineSession
}

func (s *Server) newSession(conn net.Conn) *Session {
	id := uuid.NewString()
	return &Session{
		ID:   id,
		conn: conn,
		lines: dispatch.NewLineSession(s.dispatcher, dispatch.Request{
			Source:  dispatch.SourceSocket,
			Session: id,
			Record:  s.config.LogCommands,
		}),
	}
}

var errLineTooLong = errors.New("line too long")

// readLine returns the next line without enforcing a terminator at EOF. A
// line longer than max is consumed up to its newline and reported as
// errLineTooLong.
func readLine(r *bufio.Reader, max int) (string, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > max {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(buf) > 0 && !tooLong {
				return string(buf), nil
			}
			return "", err
		}
		if tooLong {
			return "", errLineTooLong
		}
		return string(buf), nil
	}
}

func (s *Session) writeLine(line string) error {
	_, err := s.conn.Write([]byte(line + "\r\n"))
	return err
}
