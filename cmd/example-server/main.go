package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/accesslog"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
)

func main() {
	// Exemplo: a camada de admissão injetada direto no webserver (sem proxy).
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	trust := infra.NewTrustStore(os.Getenv(infra.EnvTrustedProxies), logger)
	cfg := infra.NewEnvConfig(
		infra.WithConfigLogger(logger),
		infra.OnReload(func(c domain.RuntimeConfig) { trust.Sync(c.TrustedProxies) }),
	)
	store := infra.NewBucketStore(infra.WithStoreLogger(logger))
	stats := infra.NewMemoryStatsStore()
	reaper := infra.NewReaper(store, cfg, infra.WithReaperLogger(logger))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	reaper.Start(ctx)

	app := chi.NewRouter()
	// ProxyMiddleware roda antes do limiter: a chave vem do contexto (key source "extension").
	app.Use(
		accesslog.Middleware(logger),
		ratelimit.ProxyMiddleware(ratelimit.ProxyOptions{Trust: trust}),
		ratelimit.Middleware(ratelimit.Options{
			Store:  store,
			Config: cfg,
			Trust:  trust,
			Stats:  stats,
			Logger: logger,
		}),
		ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50, HandlerTimeout: 5 * time.Second}),
	)
	app.Get("/", func(w http.ResponseWriter, r *http.Request) {
		ip, _ := ratelimit.ClientIPFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok " + ip.String() + "\n"))
	})
	app.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total":     stats.Total(),
			"by_type":   stats.ByType(),
			"by_source": stats.BySource(),
			"buckets":   store.Len(),
		})
	})

	r := chi.NewRouter()
	r.Handle("/debug/rate_limiter", ratelimit.IntrospectionHandler(ratelimit.IntrospectionOptions{
		Store:  store,
		Config: cfg,
		Reaper: reaper,
		Trust:  trust,
		Logger: logger,
	}))
	r.Mount("/", app)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
