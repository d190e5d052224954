// Package gamectl is the embeddable control plane for a single game server:
// lifecycle supervision, telemetry, the shared todo list and the event bus,
// served over HTTP.
package gamectl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/loykin/gamectl/internal/bus"
	cfg "github.com/loykin/gamectl/internal/config"
	"github.com/loykin/gamectl/internal/manager"
	"github.com/loykin/gamectl/internal/metrics"
	"github.com/loykin/gamectl/internal/rcon"
	iapi "github.com/loykin/gamectl/internal/server"
	"github.com/loykin/gamectl/internal/telemetry"
	"github.com/loykin/gamectl/internal/todo"
	"github.com/prometheus/client_golang/prometheus"
	"vawter.tech/stopper"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Status = manager.Status

type StopOutcome = manager.StopOutcome

type TodoItem = todo.Item

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Service owns every component of one control-plane instance.
type Service struct {
	cfg *Config
	log *slog.Logger

	sctx       *stopper.Context
	supervisor *manager.Supervisor
	todos      *todo.Store
	hub        *bus.Hub
}

// New builds the service. Background work (bus pumps, log follower,
// snapshot watcher) runs under a stopper derived from ctx and ends in Close
// or when Run returns.
func New(ctx context.Context, c *Config, logger *slog.Logger) (*Service, error) {
	if c == nil {
		return nil, errors.New("gamectl: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	spec, err := c.ProcessSpec()
	if err != nil {
		return nil, err
	}

	s := &Service{cfg: c, log: logger, sctx: stopper.WithContext(ctx)}
	if c.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	s.hub = bus.NewHub(s.sctx, bus.Options{AllowedOrigins: c.Server.CORSOrigins, Logger: logger})
	s.todos, err = todo.Open(c.Todos.File, s.hub, logger)
	if err != nil {
		return nil, err
	}
	iapi.RegisterEvents(s.hub, s.todos, logger)
	logger.Info("todo store loaded", "path", s.todos.Path(), "items", len(s.todos.List()))

	s.supervisor, err = manager.New(manager.Options{
		Spec:        spec,
		Remote:      rcon.New(c.RCON),
		StopCommand: c.Game.StopCommand,
		StopTimeout: c.Game.StopTimeout,
		RestartWait: c.Game.RestartWait,
		KillGrace:   c.Game.KillGrace,
		KillSignal:  c.KillSignal(),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	if c.Todos.Watch {
		s.sctx.Go(s.todos.Watch)
	}
	if c.Telemetry.FollowLogs {
		f := &telemetry.Follower{Path: c.Game.LogFile, Pub: s.hub, Logger: logger}
		s.sctx.Go(f.Run)
	}
	return s, nil
}

// Supervisor exposes the lifecycle operations for embedding.
func (s *Service) Supervisor() *manager.Supervisor { return s.supervisor }

// Todos exposes the todo store for embedding.
func (s *Service) Todos() *todo.Store { return s.todos }

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	opts := iapi.Options{
		Supervisor:  s.supervisor,
		Todos:       s.todos,
		Hub:         s.hub,
		LogFile:     s.cfg.Game.LogFile,
		LogLines:    s.cfg.Telemetry.LogLines,
		BasePath:    s.cfg.Server.BasePath,
		CORSOrigins: s.cfg.Server.CORSOrigins,
		Logger:      s.log,
	}
	if s.cfg.Metrics.Enabled {
		opts.Metrics = metrics.Handler()
		opts.MetricsPath = s.cfg.Metrics.Path
	}
	return iapi.NewRouter(opts).Handler()
}

// Run serves HTTP on ln (or server.listen when ln is nil) until ctx is
// done, then shuts down within server.shutdown_timeout and stops the
// background work. The supervised game server keeps running.
func (s *Service) Run(ctx context.Context, ln net.Listener) error {
	srv := iapi.NewServer(s.cfg.Server.Listen, s.Handler(), s.cfg.Server.ReadTimeout, s.cfg.Server.WriteTimeout)
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", s.cfg.Server.Listen); err != nil {
			return fmt.Errorf("listen %s: %w", s.cfg.Server.Listen, err)
		}
	}
	s.log.Info("control service listening", "addr", ln.Addr().String(), "base_path", s.cfg.Server.BasePath)

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	var serveErr error
	select {
	case <-ctx.Done():
	case <-s.sctx.Stopping():
	case serveErr = <-errc:
	}

	shCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		s.log.Warn("http shutdown", "error", err)
	}
	stopErr := s.Close()
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return stopErr
}

// Close stops the background goroutines and waits for them.
func (s *Service) Close() error {
	s.sctx.Stop(s.cfg.Server.ShutdownTimeout)
	return s.sctx.Wait()
}
