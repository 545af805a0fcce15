package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	swarmhttp "github.com/Strob0t/swarmcore/internal/adapter/http"
	"github.com/Strob0t/swarmcore/internal/adapter/inmem"
	swarmnats "github.com/Strob0t/swarmcore/internal/adapter/nats"
	swarmotel "github.com/Strob0t/swarmcore/internal/adapter/otel"
	"github.com/Strob0t/swarmcore/internal/adapter/postgres"
	"github.com/Strob0t/swarmcore/internal/adapter/ws"
	"github.com/Strob0t/swarmcore/internal/config"
	"github.com/Strob0t/swarmcore/internal/logger"
	"github.com/Strob0t/swarmcore/internal/port/agentruntime"
	"github.com/Strob0t/swarmcore/internal/port/broadcast"
	"github.com/Strob0t/swarmcore/internal/port/eventstore"
	"github.com/Strob0t/swarmcore/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"conflict_policy", cfg.Memory.ConflictPolicy,
		"postgres", cfg.Postgres.DSN != "",
		"nats", cfg.NATS.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	otelShutdown, err := swarmotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := swarmotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	checks := make(map[string]func(context.Context) error)

	// --- Infrastructure ---

	var store *postgres.Store
	var events eventstore.Store = inmem.NewEventLog(0)
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		slog.Info("postgres connected")

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")

		store = postgres.NewStore(pool)
		events = postgres.NewEventStore(pool)
		checks["postgres"] = pool.Ping
	}

	var queue *swarmnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = swarmnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
		checks["nats"] = func(context.Context) error {
			if !queue.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}

	// --- Services ---

	rec := service.NewEventRecorder(broadcast.Fanout{hub, metrics}, events)
	registry := service.NewRegistryService(rec)

	memory, err := service.NewMemoryService(cfg.Memory, rec)
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := attachHolders(ctx, memory, queue, cfg); err != nil {
		return err
	}
	hydrate, closeCache, err := hydrationCache(ctx, queue, cfg.Cache)
	if err != nil {
		return err
	}
	defer closeCache()
	memory.SetHydrationCache(hydrate)
	if store != nil {
		memory.SetStore(store)
	}

	bus := service.NewBusService(cfg.Bus)
	defer bus.Close()

	consensus := service.NewConsensusService(cfg.Consensus, registry, bus, memory, rec)
	defer consensus.Close()
	if store != nil {
		consensus.SetDecisionStore(store)
	}

	var runtime agentruntime.Runtime
	if queue != nil {
		runtime = swarmnats.NewRuntime(queue, queue.Prefix())
		bridge := swarmnats.NewBridge(queue, queue.Prefix(), uuid.New().String(), bus)
		bus.SetForwarder(bridge)
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("bus bridge: %w", err)
		}
		defer bridge.Stop()
	}

	orchestrator := service.NewOrchestratorService(cfg.Orchestrator, registry, consensus, memory, runtime, rec)
	defer orchestrator.Wait()
	coordinator := service.NewCoordinatorService(cfg.Coordinator, registry, consensus, orchestrator, memory, bus, rec)
	coordinator.Restore(ctx)

	coordDone := make(chan error, 1)
	go func() { coordDone <- coordinator.Run(ctx) }()

	// --- HTTP ---

	handlers := &swarmhttp.Handlers{
		Coordinator:  coordinator,
		Orchestrator: orchestrator,
		Consensus:    consensus,
		Memory:       memory,
		Registry:     registry,
		Events:       events,
		Hub:          hub,
		Checks:       checks,
	}

	r := chi.NewRouter()
	r.Use(swarmotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(swarmhttp.CorrelationID)
	r.Use(swarmhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(swarmhttp.SecurityHeaders)
	r.Use(swarmhttp.Logger)
	r.Use(chimw.Recoverer)
	if cfg.Server.RateLimit > 0 {
		r.Use(swarmhttp.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst).Handler)
	}
	swarmhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	var coordErr, serveErr error
	coordStopped := false
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		serveErr = fmt.Errorf("server: %w", err)
	case coordErr = <-coordDone:
		coordStopped = true
	}
	slog.Info("shutting down")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	if !coordStopped {
		coordErr = <-coordDone
	}
	return errors.Join(serveErr, coordErr, shutdownErr)
}
