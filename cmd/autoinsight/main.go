// Command autoinsight runs the dataset lifecycle API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"autoinsight/internal/access"
	"autoinsight/internal/adapters/api"
	"autoinsight/internal/blob"
	"autoinsight/internal/core"
	"autoinsight/internal/engine"
	"autoinsight/internal/insights"
	"autoinsight/internal/metrics"
	"autoinsight/internal/wizard"
)

func main() {
	cfg := zap.NewProductionConfig()
	logger, err := cfg.Build()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := core.OpenPersistentStore()
	if err != nil {
		return err
	}
	service := core.NewService(store)

	blobs, err := blob.Open(ctx)
	if err != nil {
		return err
	}

	sessions, err := openSessionStore(ctx, logger)
	if err != nil {
		return err
	}

	engineURL := envOr("AUTOINSIGHT_ENGINE_URL", "http://localhost:8000")
	eng := engine.New(engineURL, nil, logger)

	m := metrics.New()
	resolver := access.NewResolver(store, logger)
	wm := wizard.NewManager(sessions, logger)
	orch := insights.New(service, blobs, eng, resolver, m, logger)
	handler := api.NewHandler(service, wm, orch, resolver, api.HeaderAuthenticator{Service: service}, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", handler)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              envOr("AUTOINSIGHT_HTTP_ADDR", ":8080"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("engine_url", engineURL),
			zap.String("blob_driver", string(blobs.Driver())))
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// openSessionStore connects the wizard session store. Without a Redis address
// the in-process store is used; fine for one node, not for a fleet.
func openSessionStore(ctx context.Context, logger *zap.Logger) (wizard.SessionStore, error) {
	addr := os.Getenv("AUTOINSIGHT_REDIS_ADDR")
	if addr == "" {
		logger.Info("using in-memory workflow session store")
		return wizard.NewMemoryStore(), nil
	}

	ttl := wizard.DefaultTTL
	if raw := os.Getenv("AUTOINSIGHT_WORKFLOW_TTL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		ttl = parsed
	}

	store := wizard.NewRedisStore(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("AUTOINSIGHT_REDIS_PASSWORD"),
	}, ttl)
	if err := store.Ping(ctx); err != nil {
		return nil, err
	}
	logger.Info("workflow session store connected", zap.String("redis_addr", addr))
	return store, nil
}
