package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/camera-control/ccs/internal/auth"
	"github.com/camera-control/ccs/internal/dispatch"
	"github.com/camera-control/ccs/internal/telemetry"
	"github.com/camera-control/ccs/internal/tool"
)

// shutdownTimeout bounds a graceful shutdown triggered by context cancellation.
const shutdownTimeout = 10 * time.Second

// Options holds the web server settings.
type Options struct {
	Host string
	Port int

	// LogCommands records every dispatched command to the recorders.
	LogCommands bool
	// LogStatus records a status snapshot every StatusInterval.
	LogStatus      bool
	StatusInterval time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	SystemName string
	Version    string
}

// StatusRecorder receives periodic status snapshots.
type StatusRecorder interface {
	RecordStatus(at time.Time, snapshots []dispatch.Snapshot)
}

// Server represents the HTTP API server.
type Server struct {
	opts       Options
	dispatcher *dispatch.Dispatcher
	hub        *telemetry.Hub
	auth       *auth.Middleware
	status     StatusRecorder
	logger     *zap.Logger
	startTime  time.Time

	listener   net.Listener
	httpServer *http.Server

	wsMu      sync.Mutex
	wsClients map[*wsClient]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithHub streams events through hub on /api/v1/events.
func WithHub(hub *telemetry.Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithAuth protects the routes with m.
func WithAuth(m *auth.Middleware) Option {
	return func(s *Server) { s.auth = m }
}

// WithStatusRecorder adds a sink for periodic status snapshots.
func WithStatusRecorder(r StatusRecorder) Option {
	return func(s *Server) { s.status = r }
}

// NewServer creates a web server over d.
func NewServer(opts Options, d *dispatch.Dispatcher, logger *zap.Logger, options ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		opts:       opts,
		dispatcher: d,
		logger:     logger.Named("web"),
		startTime:  time.Now(),
		wsClients:  make(map[*wsClient]struct{}),
	}
	for _, o := range options {
		o(s)
	}
	if s.auth == nil {
		s.auth = auth.NewMiddleware(nil, logger)
	}

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
		ErrorLog:     zap.NewStdLog(s.logger),
	}
	return s
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Listen binds the configured address. It fails with BindError when the
// port is unavailable.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return tool.NewError(tool.ErrBind, addr, err)
	}
	s.listener = listener
	s.logger.Info("Web server listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve handles requests on the bound listener until ctx is done or Stop is
// called.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("web server is not listening")
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := s.Stop(shutdownCtx); err != nil {
				s.logger.Warn("Web server shutdown incomplete", zap.Error(err))
			}
		case <-stopped:
		}
	}()

	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve HTTP: %w", err)
	}
	return nil
}

// Stop ends event streams and WebSocket sessions, then gracefully shuts the
// HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Stop()
	}
	s.closeWebSockets()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// RunStatusLog records a status snapshot every status interval until ctx is
// done. It returns at once when status logging is off.
func (s *Server) RunStatusLog(ctx context.Context) error {
	if !s.opts.LogStatus || s.opts.StatusInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.opts.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.logStatus(ctx, now)
		}
	}
}

func (s *Server) logStatus(ctx context.Context, now time.Time) {
	snapshots, err := s.dispatcher.Status(ctx)
	if err != nil {
		s.logger.Warn("Status snapshot failed", zap.Error(err))
		return
	}
	if s.status != nil {
		s.status.RecordStatus(now, snapshots)
	}
	if s.hub != nil {
		s.hub.PublishStatus(snapshots)
	}
}
