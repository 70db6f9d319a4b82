// Command server is the retrieval core's process entrypoint: it builds the
// container, starts the thin HTTP façade (internal/httpapi) and the asynq
// worker mux side by side, and shuts both down on signal. Grounded on the
// teacher's internal/router/task.go asynq wiring (NewAsyncqClient/
// NewAsynqServer/RunAsynqServer) plus the pack's signal.NotifyContext +
// http.Server graceful-shutdown idiom (_examples/kluzzebass-gastrolog's
// cmd/gastrolog/main.go).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kbretrieval/core/internal/config"
	"github.com/kbretrieval/core/internal/container"
	"github.com/kbretrieval/core/internal/httpapi"
	"github.com/kbretrieval/core/internal/indexing"
	"github.com/kbretrieval/core/internal/logger"
	"github.com/kbretrieval/core/internal/orchestrator"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Errorf(ctx, "[Server] fatal: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("server: loading config: %w", err)
	}

	c, err := container.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("server: building container: %w", err)
	}
	defer c.Close(ctx)

	orch := orchestrator.New(c)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           httpapi.New(orch, c.Identities).Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	worker := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB},
		asynq.Config{
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)
	docIndexHandler := &indexing.DocumentIndexHandler{Indexer: orchestrator.NewJobIndexer(orch)}
	hierarchyHandler := &indexing.HierarchyRebuildHandler{
		Indexer: orchestrator.NewHierarchyJobHandler(orch),
		Locker:  c.Locker,
	}
	reconcileHandler := &indexing.ReconcileHandler{Reconciler: c.Reconciler}

	mux := asynq.NewServeMux()
	mux.HandleFunc(indexing.TypeDocumentIndex, docIndexHandler.Handle)
	mux.HandleFunc(indexing.TypeRetryFailed, docIndexHandler.Handle)
	mux.HandleFunc(indexing.TypeHierarchyRebuild, hierarchyHandler.Handle)
	mux.HandleFunc(indexing.TypeReconcile, reconcileHandler.Handle)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof(ctx, "[Server] http listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Infof(ctx, "[Server] asynq worker starting")
		if err := worker.Run(mux); err != nil {
			errCh <- fmt.Errorf("asynq worker: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Infof(ctx, "[Server] shutdown signal received")
	case err := <-errCh:
		logger.Errorf(ctx, "[Server] component failed: %v", err)
	}

	worker.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutting down http server: %w", err)
	}

	logger.Infof(ctx, "[Server] shutdown complete")
	return nil
}
