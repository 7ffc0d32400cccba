// Package api exposes the agent's local status and control surface over
// HTTP and a websocket status stream. It binds to loopback; it is an
// operator console, not a public endpoint.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/polaris-net/polaris-agent/internal/collector"
	"github.com/polaris-net/polaris-agent/internal/scheduler"
	"github.com/polaris-net/polaris-agent/internal/settings"
	"github.com/polaris-net/polaris-agent/internal/storage"
	syncpkg "github.com/polaris-net/polaris-agent/internal/sync"
)

const statusBroadcastInterval = 2 * time.Second

// Server wires the HTTP routes to the running agent components. The sync
// engine is nil when the remote server is disabled in config.
type Server struct {
	store     *storage.Storage
	settings  *settings.Store
	collector *collector.Loop
	scheduler *scheduler.Scheduler
	executor  scheduler.Executor
	engine    *syncpkg.Engine
	hub       *Hub
	logger    *slog.Logger

	httpServer *http.Server
	stopCast   context.CancelFunc
}

func NewServer(addr string, store *storage.Storage, settings *settings.Store,
	col *collector.Loop, sched *scheduler.Scheduler, exec scheduler.Executor,
	engine *syncpkg.Engine, logger *slog.Logger) *Server {
	s := &Server{
		store:     store,
		settings:  settings,
		collector: col,
		scheduler: sched,
		executor:  exec,
		engine:    engine,
		hub:       NewHub(logger),
		logger:    logger,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Get("/metrics", s.handleMetricsList)
		r.Delete("/metrics", s.handleMetricsClear)

		r.Get("/tasks", s.handleTasksList)
		r.Post("/tasks", s.handleTaskCreate)
		r.Post("/tasks/{id}/run", s.handleTaskRun)
		r.Get("/tasks/{id}/results", s.handleTaskResults)

		r.Post("/collector/start", s.handleCollectorStart)
		r.Post("/collector/stop", s.handleCollectorStop)

		r.Post("/sync", s.handleSyncNow)

		r.Get("/settings", s.handleSettingsGet)
		r.Put("/settings", s.handleSettingsPut)

		r.Get("/ws", s.hub.Handle)
	})
	return r
}

// Start begins serving and broadcasting status snapshots. It returns once
// the listener closes.
func (s *Server) Start() error {
	castCtx, cancel := context.WithCancel(context.Background())
	s.stopCast = cancel
	go s.broadcastLoop(castCtx)

	s.logger.Info("api listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the broadcaster, disconnects clients and drains the
// listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopCast != nil {
		s.stopCast()
	}
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// broadcastLoop pushes a status snapshot to websocket clients on a fixed
// cadence while any are connected.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(statusBroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				continue
			}
			s.hub.Broadcast(s.statusSnapshot(ctx))
		}
	}
}
