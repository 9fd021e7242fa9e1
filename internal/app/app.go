// Package app assembles the camera control server from its configuration
// and runs it.
//
// Startup order is fixed: the registry is built, the parameter file is
// overlaid and the registry sealed before either listener binds. Background
// work runs under one errgroup so shutdown cancels and joins all of it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/camera-control/ccs/internal/audit"
	"github.com/camera-control/ccs/internal/auth"
	"github.com/camera-control/ccs/internal/cmdserver"
	"github.com/camera-control/ccs/internal/config"
	"github.com/camera-control/ccs/internal/dispatch"
	"github.com/camera-control/ccs/internal/instrument"
	"github.com/camera-control/ccs/internal/monitor"
	"github.com/camera-control/ccs/internal/params"
	"github.com/camera-control/ccs/internal/registry"
	"github.com/camera-control/ccs/internal/telemetry"
	"github.com/camera-control/ccs/internal/tool"
	"github.com/camera-control/ccs/internal/web"
)

// Version is the server version reported to clients and the monitor.
var Version = "1.0.0"

// ErrLocked is returned when another server holds the instance lock.
var ErrLocked = errors.New("another server is running for this system")

// App is the constructed application context.
type App struct {
	cfg    *config.Config
	paths  config.Paths
	logger *zap.Logger

	lock       *flock.Flock
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	params     *params.Store
	audit      *audit.Logger
	hub        *telemetry.Hub

	cmdServer *cmdserver.Server
	webServer *web.Server
	registrar *monitor.Registrar
}

// New builds the application: instance lock, tools, parameter overlay and
// servers. Nothing listens until Start.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		paths:  cfg.Paths(),
		logger: logger,
	}

	if err := os.MkdirAll(a.paths.DataFolder, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data folder: %w", err)
	}
	a.lock = flock.New(a.paths.LockFile)
	locked, err := a.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", a.paths.LockFile, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s (lock %s)", ErrLocked, cfg.System.Name, a.paths.LockFile)
	}

	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg

	var opts []dispatch.Option
	if cfg.Command.LogCommands || cfg.Web.LogCommands || cfg.Web.LogStatus {
		auditLogger, err := audit.NewLogger(a.paths.AuditFile, audit.Options{
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
		}, a.logger)
		if err != nil {
			return err
		}
		a.audit = auditLogger
		opts = append(opts, dispatch.WithRecorder(auditLogger))
	}
	if cfg.Web.Enabled {
		a.hub = telemetry.NewHub(telemetry.Options{
			Heartbeat:  time.Duration(cfg.Web.HeartbeatSec) * time.Second,
			BufferSize: cfg.Web.EventBufferSize,
			ReadyData: func(ctx context.Context) interface{} {
				return map[string]interface{}{
					"systemName": cfg.System.Name,
					"version":    Version,
					"tools":      a.toolNames(),
				}
			},
		}, a.logger)
		opts = append(opts, dispatch.WithRecorder(a.hub))
	}

	store, err := a.loadParameters()
	if err != nil {
		return err
	}
	a.params = store

	a.registry = registry.New()
	server, err := a.registerTools()
	if err != nil {
		return err
	}
	a.dispatcher = dispatch.New(a.registry, a.logger.Named("dispatch"), opts...)
	server.dispatcher = a.dispatcher

	a.applyParameters()
	a.registry.Seal()
	a.logger.Info("Tool registry sealed", zap.Int("tools", a.registry.Len()))

	return a.buildServers()
}

// registerTools registers the tools in their fixed order and returns the
// server tool so it can be given the dispatcher.
func (a *App) registerTools() (*serverTool, error) {
	cfg := a.cfg

	exposure, err := instrument.NewExposure(cfg.Tools.Exposure, a.paths.DataFolder, a.logger)
	if err != nil {
		return nil, fmt.Errorf("exposure: %w", err)
	}
	if err := exposure.SetDetpars(cfg.Detector); err != nil {
		return nil, fmt.Errorf("exposure: %w", err)
	}

	header := instrument.NewHeader(cfg.Header)
	if err := header.LoadTemplate(a.paths.TemplateFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.logger.Debug("No header template", zap.String("path", a.paths.TemplateFile))
		} else {
			a.logger.Warn("Failed to load header template", zap.Error(err))
		}
	}

	server := newServerTool(cfg.System.Name, Version, a.params)
	tools := []tool.Tool{
		instrument.NewController(),
		instrument.NewTempcon(cfg.Tools.Tempcon),
		exposure,
		instrument.NewInstrument(cfg.Tools.Instrument),
		instrument.NewTelescope(),
		header,
		instrument.NewDisplay(cfg.Tools.Display, a.logger),
		server,
	}
	for _, t := range tools {
		if err := a.registry.Register(t.Name(), t); err != nil {
			return nil, err
		}
	}
	return server, nil
}

// loadParameters reads the parameter file. A missing file is not an error.
func (a *App) loadParameters() (*params.Store, error) {
	store, err := params.Load(a.paths.ParFile)
	switch {
	case store == nil:
		return nil, err
	case errors.Is(err, os.ErrNotExist):
		a.logger.Info("No parameter file", zap.String("path", a.paths.ParFile))
	case err != nil:
		a.logger.Warn("Parameter file has invalid entries", zap.String("path", a.paths.ParFile), zap.Error(err))
	default:
		a.logger.Info("Loaded parameter file", zap.String("path", a.paths.ParFile), zap.Int("entries", store.Len()))
	}
	return store, nil
}

// applyParameters overlays the parameter file onto the tools. Entries that
// fail are logged and skipped.
func (a *App) applyParameters() {
	req := dispatch.Request{Source: dispatch.SourceInternal}
	err := a.params.Apply(context.Background(), func(ctx context.Context, toolName, attr string, value interface{}) error {
		reply := a.dispatcher.Set(ctx, req, toolName, attr, value)
		if !reply.OK() {
			return fmt.Errorf("%s %s", reply.Code, reply.Message)
		}
		return nil
	})
	if err != nil {
		a.logger.Warn("Some parameters were not applied", zap.Error(err))
	}
}

func (a *App) buildServers() error {
	cfg := a.cfg

	if cfg.Command.Enabled {
		s, err := cmdserver.NewServer(cmdserver.Config{
			Host:         cfg.Command.Host,
			Port:         cfg.Command.Port,
			AllowedCIDRs: cfg.Command.AllowedCIDRs,
			IdleTimeout:  time.Duration(cfg.Command.IdleTimeoutSec) * time.Second,
			LogCommands:  cfg.Command.LogCommands,
		}, a.dispatcher, a.logger)
		if err != nil {
			return err
		}
		a.cmdServer = s
	}

	if cfg.Web.Enabled {
		var verifier *auth.Verifier
		if cfg.Web.Auth.Enabled {
			v, err := auth.NewVerifierFromConfig(cfg.Web.Auth)
			if err != nil {
				return fmt.Errorf("web auth: %w", err)
			}
			verifier = v
		}

		options := []web.Option{
			web.WithHub(a.hub),
			web.WithAuth(auth.NewMiddleware(verifier, a.logger)),
		}
		if a.audit != nil {
			options = append(options, web.WithStatusRecorder(a.audit))
		}
		a.webServer = web.NewServer(web.Options{
			Host:           cfg.Web.Host,
			Port:           cfg.Web.Port,
			LogCommands:    cfg.Web.LogCommands,
			LogStatus:      cfg.Web.LogStatus,
			StatusInterval: time.Duration(cfg.Web.StatusIntervalSec) * time.Second,
			ReadTimeout:    time.Duration(cfg.Web.ReadTimeoutSec) * time.Second,
			WriteTimeout:   time.Duration(cfg.Web.WriteTimeoutSec) * time.Second,
			IdleTimeout:    time.Duration(cfg.Web.IdleTimeoutSec) * time.Second,
			SystemName:     cfg.System.Name,
			Version:        Version,
		}, a.dispatcher, a.logger, options...)
	}

	if cfg.Monitor.Enabled {
		a.registrar = monitor.NewRegistrar(cfg.Monitor.URL, time.Duration(cfg.Monitor.TimeoutSec)*time.Second, a.logger)
	}
	return nil
}

// Start binds the command port, then the web port. A bind failure is a
// BindError and nothing is left listening.
func (a *App) Start() error {
	if a.cmdServer != nil {
		if err := a.cmdServer.Listen(); err != nil {
			return err
		}
	}
	if a.webServer != nil {
		if err := a.webServer.Listen(); err != nil {
			if a.cmdServer != nil {
				a.cmdServer.Close()
			}
			return err
		}
	}
	return nil
}

// Serve runs the listeners and background tasks until ctx is done or one of
// the servers fails, then waits for all of them.
func (a *App) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.cmdServer != nil {
		g.Go(func() error { return a.cmdServer.Serve(gctx) })
	}
	if a.webServer != nil {
		g.Go(func() error { return a.webServer.Serve(gctx) })
		g.Go(func() error { return a.webServer.RunStatusLog(gctx) })
	}
	if a.hub != nil {
		g.Go(func() error { return a.hub.Run(gctx) })
	}
	g.Go(func() error { return a.initializeDisplay(gctx) })
	if a.registrar != nil {
		reg := monitor.NewRegistration(a.cfg.System.Name, port(a.CommandAddr()), port(a.WebAddr()), Version)
		g.Go(func() error { return a.registrar.Run(gctx, reg) })
	}

	a.logger.Info("Server running",
		zap.String("system", a.cfg.System.Name),
		zap.String("commandAddr", addrString(a.CommandAddr())),
		zap.String("webAddr", addrString(a.WebAddr())))

	err := g.Wait()
	a.logger.Info("Server stopped")
	return err
}

// Run starts, serves until ctx is done and closes.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()
	if err := a.Start(); err != nil {
		return err
	}
	return a.Serve(ctx)
}

// initializeDisplay runs display.initialize through the dispatcher so it is
// serialized with client commands. Failure is logged, not fatal.
func (a *App) initializeDisplay(ctx context.Context) error {
	reply := a.dispatcher.Call(ctx, dispatch.Request{Source: dispatch.SourceInternal}, "display", "initialize")
	if !reply.OK() && ctx.Err() == nil {
		a.logger.Warn("Display initialization failed", zap.String("code", reply.Code), zap.String("message", reply.Message))
	}
	return nil
}

// Close releases the audit log and the instance lock.
func (a *App) Close() error {
	var errs []error
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
		a.audit = nil
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Unlock())
		a.lock = nil
	}
	return errors.Join(errs...)
}

// Dispatcher returns the shared dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// CommandAddr returns the bound command address, nil when disabled or not
// started.
func (a *App) CommandAddr() net.Addr {
	if a.cmdServer == nil {
		return nil
	}
	return a.cmdServer.Addr()
}

// WebAddr returns the bound web address, nil when disabled or not started.
func (a *App) WebAddr() net.Addr {
	if a.webServer == nil {
		return nil
	}
	return a.webServer.Addr()
}

func (a *App) toolNames() []string {
	var names []string
	for name := range a.registry.List() {
		names = append(names, name)
	}
	return names
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return "disabled"
	}
	return addr.String()
}

func port(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
