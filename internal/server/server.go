package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/a-essam23/go-chat/internal/engine"
	"github.com/a-essam23/go-chat/internal/router"
	"github.com/a-essam23/go-chat/internal/server/middleware"
	"github.com/a-essam23/go-chat/pkg/config"
	"github.com/a-essam23/go-chat/pkg/multicast"
	"github.com/a-essam23/go-chat/pkg/state"
	"github.com/a-essam23/go-chat/pkg/state/statemanager"
	"github.com/a-essam23/go-chat/pkg/store"
	"github.com/a-essam23/go-chat/pkg/transport"
)

var errShutdown = errors.New("server shutting down")

type App struct {
	logger      *slog.Logger
	repo        store.Repository
	registry    state.Registry
	engine      *engine.Engine
	eventRouter *router.EventRouter
	wg          sync.WaitGroup
	http        *http.Server
	config      *config.Config

	ctx context.Context
}

// NewApp wires the registry, engine and event router over repo. The caller owns repo.
func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, repo store.Repository) *App {
	registry := statemanager.NewInMemoryManager(logger)
	bus := multicast.NewRouter(registry, logger)
	eng := engine.New(repo, registry, bus, engine.Config{
		EditWindow:       cfg.Chat.EditWindow,
		MaxContentLength: cfg.Chat.MaxContentLength,
		Tombstone:        cfg.Chat.Tombstone,
		FetchLimit:       cfg.Chat.FetchLimit,
	}, logger)
	eventRouter := router.NewEventRouter(logger, eng, bus, router.Config{
		EventsPerSecond: cfg.Server.EventRate.PerSecond,
		Burst:           cfg.Server.EventRate.Burst,
	})

	app := &App{
		logger:      logger.With(slog.String("component", "server")),
		repo:        repo,
		registry:    registry,
		engine:      eng,
		eventRouter: eventRouter,
		config:      cfg,
		ctx:         rootCtx,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID, chimw.Recoverer)
	mux.Get("/healthz", app.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(app.logger, cfg.Server.Auth, repo.FindActorByID),
			middleware.NewConnectionLimiter(app.logger, registry, cfg.Server.ConnectionLimit),
		),
	)

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

// Handler exposes the HTTP routes, for tests.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.logger.Error("HTTP server failed", slog.Any("error", err))
		return err
	case <-a.ctx.Done():
	}
	return a.Shutdown()
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.repo.Ping(ctx); err != nil {
		a.logger.Warn("Health check failed", slog.Any("error", err))
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.Actor.ID),
	)

	origins := a.config.Server.AllowedOrigins
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     origins,
		InsecureSkipVerify: slices.Contains(origins, "*"),
	})
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	// The session exists only after Connect; the callbacks must tolerate its absence.
	var sess atomic.Pointer[state.Session]
	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		func(ctx context.Context, _ *transport.Connection, msg []byte) {
			if s := sess.Load(); s != nil {
				a.eventRouter.HandleMessage(ctx, s, msg)
			}
		},
		func(c *transport.Connection, err error) {
			a.eventRouter.Forget(c.ID())
			if s := sess.Load(); s != nil {
				connLogger.Info("Deregistering session due to closure", slog.String("connID", c.ID().String()))
				a.engine.Disconnect(s)
			}
		},
		a.logger,
	)

	s, err := a.engine.Connect(r.Context(), reqMeta.Actor, conn, reqMeta.IP)
	if err != nil {
		connLogger.Error("Failed to register session", slog.Any("error", err))
		conn.Close(err)
		return
	}
	sess.Store(s)

	connLogger.Info("User connection fully established")
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, id := range a.registry.OnlineActors() {
		if s, ok := a.registry.Lookup(id); ok {
			s.Conn.Close(errShutdown)
		}
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
